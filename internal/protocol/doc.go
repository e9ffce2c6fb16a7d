// Package protocol defines the Gemini Live (BidiGenerateContent) wire messages.
// It implements the JSON frames exchanged over the realtime WebSocket: the client
// setup and media input messages, and the server setup-complete and content frames.
package protocol
