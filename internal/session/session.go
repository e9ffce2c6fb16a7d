package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AB-DALRAHM-AN/G3mini-live/internal/audio"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/metrics"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/protocol"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/video"
)

// MicSource is a microphone capture device. Read blocks until PCM-16
// bytes are available and returns io.EOF after Close.
type MicSource interface {
	io.Reader
	Resume() error
	Close() error
}

// CameraSource yields the latest captured camera frame
type CameraSource interface {
	Frame() []byte
	Close() error
}

// LiveClient is one realtime connection to the generation service
type LiveClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SendMediaChunk(data, mimeType string) error
	UpdateVoiceConfig(voice protocol.VoiceConfig) error
}

// Config contains per-session pipeline configuration
type Config struct {
	SampleRate    int           // Capture sample rate in Hz
	FrameSamples  int           // Samples per outbound audio chunk
	LevelGain     float64       // Amplitude meter gain
	FrameInterval time.Duration // Camera sampling cadence
	JPEGQuality   int           // Re-encode quality for sampled frames
	DumpDir       string        // When set, captured audio is dumped as WAV
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = 512
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = time.Second
	}
}

// Session is one live conversation. It runs the capture pipeline and
// routes outbound media to the attached client.
//
// The audio pipeline starts lazily: frames flow only once the session
// is active, the service has acknowledged setup, and the one-time
// setup latch has run. Teardown is strictly ordered: the sampler stops
// first, then the client detaches and disconnects, then the audio
// pipeline stops, then the devices close.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mic    MicSource
	camera CameraSource

	framer  *audio.Framer
	sampler *video.Sampler
	dumper  *audio.Dumper

	audioMime string
	onText    func(string)

	clientMu sync.RWMutex
	client   LiveClient

	active   atomic.Bool
	ready    atomic.Bool
	speaking atomic.Bool

	audioSetupBusy atomic.Bool
	audioReady     atomic.Bool

	samplerMu sync.Mutex
	samplerOn bool

	inLevel  atomic.Int64
	outLevel atomic.Int64

	startedAt time.Time
	closeOnce sync.Once
}

// NewSession builds the capture pipeline around the given devices.
// camera may be nil when video is disabled; onText may be nil.
func NewSession(cfg Config, mic MicSource, camera CameraSource, m *metrics.Metrics, logger *slog.Logger, onText func(string)) (*Session, error) {
	if mic == nil {
		return nil, fmt.Errorf("mic source cannot be nil")
	}
	cfg.applyDefaults()

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		mic:       mic,
		camera:    camera,
		audioMime: fmt.Sprintf("%s;rate=%d", protocol.MimePCM, cfg.SampleRate),
		onText:    onText,
		startedAt: time.Now(),
	}

	framer, err := audio.NewFramer(audio.FramerConfig{
		SampleRate:   cfg.SampleRate,
		FrameSamples: cfg.FrameSamples,
		LevelGain:    cfg.LevelGain,
	}, mic, s.handleAudioFrame, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio framer: %w", err)
	}
	s.framer = framer

	if camera != nil {
		sampler, err := video.NewSampler(video.SamplerConfig{
			Interval: cfg.FrameInterval,
			Quality:  cfg.JPEGQuality,
		}, camera, s.sendVideoFrame, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create video sampler: %w", err)
		}
		s.sampler = sampler
	}

	if cfg.DumpDir != "" {
		dumper, err := audio.NewDumper(cfg.DumpDir, cfg.SampleRate)
		if err != nil {
			logger.Warn("Audio dump disabled",
				slog.String("error", err.Error()),
			)
		} else {
			s.dumper = dumper
			logger.Info("Dumping captured audio",
				slog.String("path", dumper.Path()),
			)
		}
	}

	return s, nil
}

// AttachClient binds the realtime client and activates the session.
// Must be called before the client connects so callbacks find an
// active session.
func (s *Session) AttachClient(client LiveClient) {
	s.clientMu.Lock()
	s.client = client
	s.clientMu.Unlock()
	s.active.Store(true)
}

// HandleSetupComplete marks the session ready and brings up the media
// pipelines. Runs on the client's read loop goroutine.
func (s *Session) HandleSetupComplete() {
	s.ready.Store(true)
	s.logger.Info("Session ready")

	s.ensureAudioProcessing()

	// samplerMu orders this start against Close: Close flips active
	// before taking the mutex, so either the start sees active false
	// and skips, or Close sees samplerOn true and stops the sampler.
	s.samplerMu.Lock()
	if s.sampler != nil && s.active.Load() && !s.samplerOn {
		s.samplerOn = true
		s.sampler.Start()
	}
	s.samplerMu.Unlock()
}

// HandlePlaybackState tracks whether the model is speaking. Mic frames
// are dropped while it is, so the model does not hear itself.
func (s *Session) HandlePlaybackState(speaking bool) {
	s.speaking.Store(speaking)
}

// HandleOutputLevel records the synthesized speech amplitude
func (s *Session) HandleOutputLevel(level int) {
	s.outLevel.Store(int64(level))
	s.metrics.SetOutputLevel(level)
}

// HandleText forwards streamed transcription text
func (s *Session) HandleText(text string) {
	if s.onText != nil {
		s.onText(text)
	}
}

// ensureAudioProcessing performs the one-time audio pipeline bring-up.
// It is a no-op unless the session is active and ready, and a busy
// latch keeps concurrent callers from double-starting the pipeline.
// The preconditions are re-checked after acquiring the latch and after
// the blocking device call, since the session may have been torn down
// in between.
func (s *Session) ensureAudioProcessing() {
	if !s.active.Load() || !s.ready.Load() || s.speaking.Load() || s.audioReady.Load() {
		return
	}
	if !s.audioSetupBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.audioSetupBusy.Store(false)

	if !s.active.Load() || !s.ready.Load() || s.speaking.Load() || s.audioReady.Load() {
		return
	}
	s.metrics.RecordAudioSetupAttempt()

	if err := s.mic.Resume(); err != nil {
		s.metrics.RecordAudioSetupFailure()
		s.logger.Error("Failed to resume microphone",
			slog.String("error", err.Error()),
		)
		return
	}
	if !s.active.Load() {
		return
	}

	if err := s.framer.Start(); err != nil {
		s.metrics.RecordAudioSetupFailure()
		s.logger.Error("Failed to start audio pipeline",
			slog.String("error", err.Error()),
		)
		return
	}

	s.audioReady.Store(true)
	s.logger.Info("Audio pipeline started",
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("frame_samples", s.cfg.FrameSamples),
	)
}

// handleAudioFrame receives each captured mic frame from the framer.
// Frames are dropped while the model is speaking.
func (s *Session) handleAudioFrame(frame audio.Frame) {
	s.inLevel.Store(int64(frame.Level))
	s.metrics.SetInputLevel(frame.Level)

	if s.dumper != nil {
		if err := s.dumper.Write(frame.PCM); err != nil {
			s.logger.Warn("Audio dump write failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if !s.active.Load() || !s.ready.Load() {
		return
	}
	if s.speaking.Load() {
		s.metrics.RecordFrameDroppedSpeaking()
		return
	}

	s.sendChunk(base64.StdEncoding.EncodeToString(frame.PCM), s.audioMime, "audio")
}

// sendVideoFrame receives each sampled camera frame
func (s *Session) sendVideoFrame(payload []byte, mimeType string) {
	s.metrics.RecordFrameSampled()
	s.sendChunk(base64.StdEncoding.EncodeToString(payload), mimeType, "video")
}

// sendChunk forwards one base64 chunk to the attached client. With no
// client attached the chunk is silently discarded, which is the normal
// state during teardown.
func (s *Session) sendChunk(data, mimeType, kind string) {
	s.clientMu.RLock()
	client := s.client
	s.clientMu.RUnlock()

	if client == nil {
		s.metrics.RecordChunkDroppedNoClient()
		return
	}

	if err := client.SendMediaChunk(data, mimeType); err != nil {
		s.metrics.RecordChunkSendError()
		s.logger.Debug("Chunk send failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.RecordChunkSent(kind)
}

// Active reports whether the session has not been torn down
func (s *Session) Active() bool {
	return s.active.Load()
}

// Ready reports whether the service acknowledged setup
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Speaking reports whether the model is producing audio
func (s *Session) Speaking() bool {
	return s.speaking.Load()
}

// AudioReady reports whether the audio pipeline is running
func (s *Session) AudioReady() bool {
	return s.audioReady.Load()
}

// InputLevel returns the current mic amplitude, 0-100
func (s *Session) InputLevel() int {
	return int(s.inLevel.Load())
}

// OutputLevel returns the current playback amplitude, 0-100
func (s *Session) OutputLevel() int {
	return int(s.outLevel.Load())
}

// StartedAt returns the session creation time
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// FramesDelivered returns the number of mic frames captured
func (s *Session) FramesDelivered() uint64 {
	return s.framer.FramesDelivered()
}

// FramesSampled returns the number of camera frames sampled
func (s *Session) FramesSampled() uint64 {
	if s.sampler == nil {
		return 0
	}
	return s.sampler.FramesSampled()
}

// Close tears the session down in dependency order: sampler first so
// no video chunk races the disconnect, then the client, then the audio
// pipeline, then the devices. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		s.ready.Store(false)

		s.samplerMu.Lock()
		samplerStarted := s.samplerOn
		s.samplerMu.Unlock()
		if samplerStarted {
			s.sampler.Stop()
		}

		s.clientMu.Lock()
		client := s.client
		s.client = nil
		s.clientMu.Unlock()
		if client != nil {
			if err := client.Disconnect(); err != nil {
				s.logger.Warn("Session disconnect reported an error",
					slog.String("error", err.Error()),
				)
			}
		}

		s.framer.Stop()
		if err := s.mic.Close(); err != nil {
			s.logger.Warn("Failed to close microphone",
				slog.String("error", err.Error()),
			)
		}
		if s.camera != nil {
			if err := s.camera.Close(); err != nil {
				s.logger.Warn("Failed to close camera",
					slog.String("error", err.Error()),
				)
			}
		}
		s.framer.Wait()

		if s.dumper != nil {
			if err := s.dumper.Close(); err != nil {
				s.logger.Warn("Failed to finalize audio dump",
					slog.String("error", err.Error()),
				)
			}
		}

		s.inLevel.Store(0)
		s.outLevel.Store(0)
		s.metrics.SetInputLevel(0)
		s.metrics.SetOutputLevel(0)

		s.logger.Info("Session closed",
			slog.Uint64("frames_captured", s.framer.FramesDelivered()),
		)
	})
}
