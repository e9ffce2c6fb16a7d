package protocol

import (
	"fmt"
	"strings"
)

// Media chunk MIME types accepted by the realtime input channel
const (
	MimeJPEG = "image/jpeg"
	MimePCM  = "audio/pcm"
)

// Default session parameters
const (
	DefaultModel     = "models/gemini-2.0-flash-exp"
	DefaultVoiceName = "Puck"
)

// DefaultEndpoint is the BidiGenerateContent WebSocket endpoint. The API key
// is appended as the "key" query parameter when dialing.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

// VoiceConfig is an immutable voice/model selection. Changing either value
// replaces the whole object; an established session is never mutated in place.
type VoiceConfig struct {
	VoiceName string `json:"voice_name"`
	Model     string `json:"model"`
}

// Validate checks that both fields are present
func (v VoiceConfig) Validate() error {
	if strings.TrimSpace(v.VoiceName) == "" {
		return fmt.Errorf("voice_name cannot be empty")
	}
	if strings.TrimSpace(v.Model) == "" {
		return fmt.Errorf("model cannot be empty")
	}
	return nil
}

// ValidMediaMime reports whether mime is one of the supported outbound kinds.
// Audio payloads may carry a rate suffix ("audio/pcm;rate=16000").
func ValidMediaMime(mime string) bool {
	return mime == MimeJPEG || mime == MimePCM || strings.HasPrefix(mime, MimePCM+";")
}

// SetupMessage is the first client frame of a session
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup configures the model and generation parameters for the session
type Setup struct {
	Model            string           `json:"model"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
	SystemInstruction *Content        `json:"systemInstruction,omitempty"`
}

// GenerationConfig selects response modalities and the synthesis voice
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig wraps the voice selection for audio responses
type SpeechConfig struct {
	VoiceConfig VoiceSelection `json:"voiceConfig"`
}

// VoiceSelection names a prebuilt synthesis voice
type VoiceSelection struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig identifies a prebuilt voice by name
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// NewSetupMessage builds the session setup frame for the given voice
// configuration, requesting spoken (AUDIO) responses.
func NewSetupMessage(voice VoiceConfig) SetupMessage {
	return SetupMessage{
		Setup: Setup{
			Model: voice.Model,
			GenerationConfig: GenerationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &SpeechConfig{
					VoiceConfig: VoiceSelection{
						PrebuiltVoiceConfig: PrebuiltVoiceConfig{
							VoiceName: voice.VoiceName,
						},
					},
				},
			},
		},
	}
}

// RealtimeInputMessage carries outbound media chunks
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// RealtimeInput holds one or more media chunks for a single frame
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// MediaChunk is one discrete unit of media: a JPEG frame or a PCM audio frame,
// base64-encoded in Data.
type MediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewMediaChunkMessage wraps a single base64 payload into a realtime input frame
func NewMediaChunkMessage(data, mimeType string) RealtimeInputMessage {
	return RealtimeInputMessage{
		RealtimeInput: RealtimeInput{
			MediaChunks: []MediaChunk{
				{MimeType: mimeType, Data: data},
			},
		},
	}
}

// ServerMessage is the envelope for inbound frames. Exactly one field is set
// per frame; unknown frames decode to an empty envelope and are skipped.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

// SetupComplete acknowledges the session setup; the socket is ready afterwards
type SetupComplete struct{}

// ServerContent carries a model turn: synthesized audio and/or text parts,
// transcription, and turn lifecycle flags.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription is streamed text for synthesized speech
type Transcription struct {
	Text string `json:"text"`
}

// Content is a turn of conversation content
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a single content part: text or inline binary data
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is inline binary data with its MIME type; Data is base64-encoded
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// AudioParts returns the base64 payloads of all PCM audio parts in the turn
func (c *ServerContent) AudioParts() []string {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []string
	for _, part := range c.ModelTurn.Parts {
		if part.InlineData != nil && strings.HasPrefix(part.InlineData.MimeType, MimePCM) {
			out = append(out, part.InlineData.Data)
		}
	}
	return out
}

// TextParts returns the concatenated text of the turn, including the output
// transcription when present.
func (c *ServerContent) TextParts() []string {
	if c == nil {
		return nil
	}
	var out []string
	if c.ModelTurn != nil {
		for _, part := range c.ModelTurn.Parts {
			if part.Text != "" {
				out = append(out, part.Text)
			}
		}
	}
	if c.OutputTranscription != nil && c.OutputTranscription.Text != "" {
		out = append(out, c.OutputTranscription.Text)
	}
	return out
}
