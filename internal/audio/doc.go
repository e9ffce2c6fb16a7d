// Package audio implements the client-side audio processing unit: fixed-size
// PCM frame assembly from a raw capture source, RMS amplitude metering on a
// 0-100 scale, and WAV encoding for diagnostic dumps of outbound audio.
package audio
