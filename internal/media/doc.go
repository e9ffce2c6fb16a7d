// Package media owns the capture and playback devices: the microphone
// (PCM-16 capture through miniaudio), the camera (MJPEG frames from an
// ffmpeg child process), and the speaker (PCM-16 playback through oto).
//
// Device contexts are process-level and long-lived; individual capture
// devices are opened per session and torn down with it.
package media
