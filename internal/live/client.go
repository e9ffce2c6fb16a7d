package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AB-DALRAHM-AN/G3mini-live/internal/audio"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/protocol"
)

// ErrReconnectRequired is returned by UpdateVoiceConfig: the service
// fixes the voice and model at setup time, so a new selection only
// takes effect on a fresh connection. The caller decides when to
// reconnect; the client never does it implicitly.
var ErrReconnectRequired = errors.New("voice change requires a new connection")

// ErrNotConnected is returned by sends before Connect or after Disconnect
var ErrNotConnected = errors.New("client is not connected")

// Callbacks receive session events on the read loop goroutine. All
// fields are optional; nil callbacks are skipped. Handlers must not
// block.
type Callbacks struct {
	// OnSetupComplete fires once, when the service acknowledges setup.
	OnSetupComplete func()
	// OnText receives transcription and text parts as they stream in.
	OnText func(text string)
	// OnPlaybackState reports transitions between speaking and idle.
	OnPlaybackState func(speaking bool)
	// OnOutputLevel reports the synthesized audio amplitude, 0-100.
	OnOutputLevel func(level int)
}

// Sink receives synthesized PCM-16 audio for playback. Flush discards
// buffered audio when the model is interrupted.
type Sink interface {
	Write(pcm []byte)
	Flush()
}

// ClientConfig contains connection parameters
type ClientConfig struct {
	Endpoint       string        // WebSocket endpoint URL
	APIKey         string        // Appended as the "key" query parameter
	ConnectTimeout time.Duration // Dial handshake timeout
}

// Client is a single realtime session against the generation service.
// A Client connects at most once; voice changes require a replacement
// Client. All exported methods are safe for concurrent use.
type Client struct {
	cfg       ClientConfig
	voice     protocol.VoiceConfig
	callbacks Callbacks
	sink      Sink
	logger    *slog.Logger
	meter     *audio.LevelMeter

	conn    *websocket.Conn
	writeMu sync.Mutex

	ready    atomic.Bool
	speaking atomic.Bool
	closed   atomic.Bool

	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	loopErr error
}

// NewClient creates a client for one session with the given voice
// configuration. Synthesized audio is written to sink.
func NewClient(cfg ClientConfig, voice protocol.VoiceConfig, sink Sink, callbacks Callbacks, logger *slog.Logger) (*Client, error) {
	if err := voice.Validate(); err != nil {
		return nil, fmt.Errorf("invalid voice configuration: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = protocol.DefaultEndpoint
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if sink == nil {
		return nil, fmt.Errorf("audio sink cannot be nil")
	}

	return &Client{
		cfg:       cfg,
		voice:     voice,
		callbacks: callbacks,
		sink:      sink,
		logger:    logger,
		meter:     audio.NewLevelMeter(audio.DefaultLevelGain, audio.DefaultLevelSmoothing),
		done:      make(chan struct{}),
	}, nil
}

// Connect dials the service, sends the setup frame, and starts the
// read loop. The session is not ready for media until the service
// acknowledges setup through OnSetupComplete.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("key", c.cfg.APIKey)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	if err := c.sendJSON(protocol.NewSetupMessage(c.voice)); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("failed to send setup: %w", err)
	}

	go c.readLoop()

	c.logger.Info("Session connected",
		slog.String("model", c.voice.Model),
		slog.String("voice", c.voice.VoiceName),
	)
	return nil
}

// SendMediaChunk sends one base64-encoded media chunk. It fails before
// setup is acknowledged and after Disconnect.
func (c *Client) SendMediaChunk(data, mimeType string) error {
	if c.closed.Load() || !c.ready.Load() {
		return ErrNotConnected
	}
	if !protocol.ValidMediaMime(mimeType) {
		return fmt.Errorf("unsupported media mime type: %s", mimeType)
	}
	return c.sendJSON(protocol.NewMediaChunkMessage(data, mimeType))
}

// UpdateVoiceConfig always returns ErrReconnectRequired: an established
// session cannot change voice or model in place
func (c *Client) UpdateVoiceConfig(voice protocol.VoiceConfig) error {
	if err := voice.Validate(); err != nil {
		return fmt.Errorf("invalid voice configuration: %w", err)
	}
	return ErrReconnectRequired
}

// Ready reports whether the service has acknowledged setup
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Speaking reports whether the model is currently producing audio
func (c *Client) Speaking() bool {
	return c.speaking.Load()
}

// Voice returns the session's voice configuration
func (c *Client) Voice() protocol.VoiceConfig {
	return c.voice
}

// Disconnect closes the session and waits for the read loop to exit.
// Idempotent; it returns the read loop error, if any.
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.ready.Store(false)
		if c.conn != nil {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			c.writeMu.Unlock()
			_ = c.conn.Close()
		} else {
			close(c.done)
		}
		c.logger.Info("Session disconnected")
	})
	<-c.done

	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.loopErr
}

func (c *Client) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) setLoopErr(err error) {
	c.errMu.Lock()
	if c.loopErr == nil {
		c.loopErr = err
	}
	c.errMu.Unlock()
}

// readLoop receives and dispatches inbound frames until the socket
// closes. It runs on its own goroutine; all callbacks fire from here.
func (c *Client) readLoop() {
	defer close(c.done)
	defer c.ready.Store(false)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setLoopErr(err)
			c.logger.Warn("Session read failed",
				slog.String("error", err.Error()),
			)
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("Failed to decode server frame",
				slog.String("error", err.Error()),
			)
			continue
		}

		switch {
		case msg.SetupComplete != nil:
			c.ready.Store(true)
			c.logger.Debug("Session setup acknowledged")
			if c.callbacks.OnSetupComplete != nil {
				c.callbacks.OnSetupComplete()
			}
		case msg.ServerContent != nil:
			c.handleContent(msg.ServerContent)
		}
	}
}

func (c *Client) handleContent(content *protocol.ServerContent) {
	if content.Interrupted {
		c.sink.Flush()
		c.stopPlayback()
	}

	for _, part := range content.AudioParts() {
		pcm, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			c.logger.Warn("Failed to decode audio part",
				slog.String("error", err.Error()),
			)
			continue
		}
		if c.speaking.CompareAndSwap(false, true) {
			if c.callbacks.OnPlaybackState != nil {
				c.callbacks.OnPlaybackState(true)
			}
		}
		c.sink.Write(pcm)
		if c.callbacks.OnOutputLevel != nil {
			c.callbacks.OnOutputLevel(c.meter.Process(pcm))
		}
	}

	if c.callbacks.OnText != nil {
		for _, text := range content.TextParts() {
			c.callbacks.OnText(text)
		}
	}

	if content.TurnComplete {
		c.stopPlayback()
	}
}

// stopPlayback moves the session out of the speaking state and zeroes
// the output level
func (c *Client) stopPlayback() {
	if !c.speaking.CompareAndSwap(true, false) {
		return
	}
	c.meter.Reset()
	if c.callbacks.OnPlaybackState != nil {
		c.callbacks.OnPlaybackState(false)
	}
	if c.callbacks.OnOutputLevel != nil {
		c.callbacks.OnOutputLevel(0)
	}
}
