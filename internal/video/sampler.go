package video

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FrameSource yields the most recent camera frame, or nil when none
// has been captured yet
type FrameSource interface {
	Frame() []byte
}

// SamplerConfig contains frame sampler configuration
type SamplerConfig struct {
	Interval time.Duration // Time between samples
	Quality  int           // JPEG re-encode quality, 1-100
}

// Sampler periodically grabs the latest camera frame, re-encodes it at
// a fixed quality, and sends it through the provided callback. The
// caller starts it only once the upstream connection is ready; sends on
// a cadence with no frame available still happen, with an empty
// payload, so the cadence itself signals liveness.
type Sampler struct {
	src    FrameSource
	send   func(payload []byte, mimeType string)
	cfg    SamplerConfig
	logger *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	framesSampled atomic.Uint64
}

// NewSampler creates a frame sampler delivering to send
func NewSampler(cfg SamplerConfig, src FrameSource, send func(payload []byte, mimeType string), logger *slog.Logger) (*Sampler, error) {
	if src == nil {
		return nil, fmt.Errorf("frame source cannot be nil")
	}
	if send == nil {
		return nil, fmt.Errorf("send callback cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 70
	}

	return &Sampler{
		src:    src,
		send:   send,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the sampling loop
func (s *Sampler) Start() {
	go s.loop()
	s.logger.Debug("Video sampler started",
		slog.Duration("interval", s.cfg.Interval),
	)
}

// Stop halts sampling and waits for the loop to exit, so no send can
// happen after Stop returns. Idempotent.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// FramesSampled returns the number of frames sent
func (s *Sampler) FramesSampled() uint64 {
	return s.framesSampled.Load()
}

func (s *Sampler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	frame := s.src.Frame()
	if frame == nil {
		s.send(nil, "image/jpeg")
		s.framesSampled.Add(1)
		return
	}

	s.send(s.reencode(frame), "image/jpeg")
	s.framesSampled.Add(1)
}

// reencode normalizes the frame to the configured JPEG quality. Frames
// that fail to decode pass through unchanged.
func (s *Sampler) reencode(frame []byte) []byte {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return frame
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
		s.logger.Warn("Frame re-encode failed",
			slog.String("error", err.Error()),
		)
		return frame
	}
	return out.Bytes()
}
