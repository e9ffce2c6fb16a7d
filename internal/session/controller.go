package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AB-DALRAHM-AN/G3mini-live/internal/live"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/metrics"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/protocol"
)

// Controller lifecycle errors
var (
	ErrAlreadyRunning = errors.New("a session is already running")
	ErrNotRunning     = errors.New("no session is running")
	ErrNothingStaged  = errors.New("no staged voice changes to apply")
)

// ClientFactory builds a realtime client for one session with the
// given voice selection and event callbacks
type ClientFactory func(voice protocol.VoiceConfig, callbacks live.Callbacks) (LiveClient, error)

// Deps are the device and client factories the controller draws on.
// OpenCamera may be nil when video capture is disabled.
type Deps struct {
	OpenMic    func() (MicSource, error)
	OpenCamera func() (CameraSource, error)
	NewClient  ClientFactory
	OnText     func(string)
}

// Status is a point-in-time view of the controller and its session
type Status struct {
	Running     bool                  `json:"running"`
	Ready       bool                  `json:"ready"`
	Speaking    bool                  `json:"speaking"`
	AudioReady  bool                  `json:"audio_ready"`
	InputLevel  int                   `json:"input_level"`
	OutputLevel int                   `json:"output_level"`
	Voice       protocol.VoiceConfig  `json:"voice"`
	StagedVoice *protocol.VoiceConfig `json:"staged_voice,omitempty"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	FramesSent  uint64                `json:"frames_sent"`
	VideoFrames uint64                `json:"video_frames"`
}

// Controller manages the current session and the voice selection that
// survives across sessions. Voice changes stage without touching a
// running session; Apply commits them, and the caller reconnects when
// the client says the change needs a fresh connection.
type Controller struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	session *Session
	client  LiveClient
	voice   protocol.VoiceConfig
	staged  *protocol.VoiceConfig
}

// NewController creates a controller with the given initial voice
func NewController(cfg Config, voice protocol.VoiceConfig, deps Deps, m *metrics.Metrics, logger *slog.Logger) (*Controller, error) {
	if err := voice.Validate(); err != nil {
		return nil, fmt.Errorf("invalid voice configuration: %w", err)
	}
	if deps.OpenMic == nil {
		return nil, fmt.Errorf("mic factory cannot be nil")
	}
	if deps.NewClient == nil {
		return nil, fmt.Errorf("client factory cannot be nil")
	}

	return &Controller{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: m,
		voice:   voice,
	}, nil
}

// Start opens the capture devices, builds a session around them, and
// connects the realtime client. On any failure everything acquired so
// far is released and a single error is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return ErrAlreadyRunning
	}

	mic, err := c.deps.OpenMic()
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	var camera CameraSource
	if c.deps.OpenCamera != nil {
		camera, err = c.deps.OpenCamera()
		if err != nil {
			mic.Close()
			return fmt.Errorf("failed to open camera: %w", err)
		}
	}

	sess, err := NewSession(c.cfg, mic, camera, c.metrics, c.logger, c.deps.OnText)
	if err != nil {
		mic.Close()
		if camera != nil {
			camera.Close()
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	client, err := c.deps.NewClient(c.voice, live.Callbacks{
		OnSetupComplete: sess.HandleSetupComplete,
		OnText:          sess.HandleText,
		OnPlaybackState: sess.HandlePlaybackState,
		OnOutputLevel:   sess.HandleOutputLevel,
	})
	if err != nil {
		sess.Close()
		return fmt.Errorf("failed to create client: %w", err)
	}

	sess.AttachClient(client)
	if err := client.Connect(ctx); err != nil {
		sess.Close()
		c.metrics.RecordConnectFailure()
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.session = sess
	c.client = client
	c.metrics.RecordSessionStarted()
	c.logger.Info("Session started",
		slog.String("model", c.voice.Model),
		slog.String("voice", c.voice.VoiceName),
	)
	return nil
}

// Stop tears down the running session
func (c *Controller) Stop() error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.client = nil
	c.mu.Unlock()

	if sess == nil {
		return ErrNotRunning
	}

	sess.Close()
	c.metrics.RecordSessionStopped(time.Since(sess.StartedAt()).Seconds())
	return nil
}

// StageVoiceName stages a new synthesis voice without touching the
// running session
func (c *Controller) StageVoiceName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := c.stagedLocked()
	staged.VoiceName = name
	c.staged = &staged
}

// StageModel stages a new model without touching the running session
func (c *Controller) StageModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := c.stagedLocked()
	staged.Model = model
	c.staged = &staged
}

// stagedLocked returns the staging base: existing staged changes, or a
// copy of the committed voice. Callers must hold mu.
func (c *Controller) stagedLocked() protocol.VoiceConfig {
	if c.staged != nil {
		return *c.staged
	}
	return c.voice
}

// ApplyVoice commits staged changes. When a session is running the
// client is asked to adopt the new configuration; if it answers
// live.ErrReconnectRequired the commit stands and the error surfaces
// so the caller can decide to restart the session.
func (c *Controller) ApplyVoice() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staged == nil {
		return ErrNothingStaged
	}
	voice := *c.staged
	if err := voice.Validate(); err != nil {
		return fmt.Errorf("invalid staged voice: %w", err)
	}

	c.voice = voice
	c.staged = nil
	c.logger.Info("Voice configuration applied",
		slog.String("model", voice.Model),
		slog.String("voice", voice.VoiceName),
	)

	if c.session != nil && c.client != nil {
		return c.client.UpdateVoiceConfig(voice)
	}
	return nil
}

// Voice returns the committed voice configuration
func (c *Controller) Voice() protocol.VoiceConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

// Running reports whether a session is active
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Snapshot returns the current controller and session state
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Voice: c.voice,
	}
	if c.staged != nil {
		staged := *c.staged
		status.StagedVoice = &staged
	}
	if c.session != nil {
		startedAt := c.session.StartedAt()
		status.Running = true
		status.Ready = c.session.Ready()
		status.Speaking = c.session.Speaking()
		status.AudioReady = c.session.AudioReady()
		status.InputLevel = c.session.InputLevel()
		status.OutputLevel = c.session.OutputLevel()
		status.StartedAt = &startedAt
		status.FramesSent = c.session.FramesDelivered()
		status.VideoFrames = c.session.FramesSampled()
	}
	return status
}
