// Package live implements the realtime WebSocket client for the
// bidirectional generation service: session setup, outbound media
// chunks, and the inbound read loop that routes synthesized audio to
// the speaker and transcription text to the UI.
package live
