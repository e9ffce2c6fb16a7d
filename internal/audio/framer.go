package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Frame is one fixed-size PCM-16 frame with its measured amplitude level
type Frame struct {
	PCM   []byte // Little-endian PCM-16 mono samples
	Level int    // Amplitude level, 0-100
}

// FramerConfig contains audio framer configuration
type FramerConfig struct {
	SampleRate   int     // Capture sample rate in Hz (16000)
	FrameSamples int     // Samples per delivered frame
	LevelGain    float64 // Amplitude meter gain
}

// Framer is the continuously-running audio processing unit. It reads raw
// PCM-16 bytes from a capture source, assembles them into fixed-size frames,
// measures the amplitude of each frame, and delivers frames asynchronously to
// a single consumer callback.
//
// A Framer is set up at most once: Start returns an error on reuse. Stop
// signals cancellation without blocking on an in-flight read; the pump exits
// once the source read returns, which the owner forces by closing the source.
type Framer struct {
	src     io.Reader
	deliver func(Frame)
	meter   *LevelMeter
	logger  *slog.Logger

	frameBytes int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool

	framesDelivered atomic.Uint64
}

// NewFramer creates an audio framer reading from src and delivering frames to
// the given callback. The callback runs on the pump goroutine and must not
// block for long.
func NewFramer(cfg FramerConfig, src io.Reader, deliver func(Frame), logger *slog.Logger) (*Framer, error) {
	if src == nil {
		return nil, fmt.Errorf("audio source cannot be nil")
	}
	if deliver == nil {
		return nil, fmt.Errorf("deliver callback cannot be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("frame samples must be positive, got %d", cfg.FrameSamples)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Framer{
		src:        src,
		deliver:    deliver,
		meter:      NewLevelMeter(cfg.LevelGain, DefaultLevelSmoothing),
		logger:     logger,
		frameBytes: cfg.FrameSamples * 2,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the pump goroutine. A framer starts at most once; a second
// call (including after Stop) returns an error.
func (f *Framer) Start() error {
	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("framer already started")
	}
	if f.ctx.Err() != nil {
		return fmt.Errorf("framer already stopped")
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.pump()
	}()

	f.logger.Debug("Audio framer started",
		slog.Int("frame_bytes", f.frameBytes),
	)
	return nil
}

// Stop signals the pump to exit. It returns immediately; a read blocked on
// the source is released when the owner closes the source, after which Wait
// observes the pump exit. Idempotent.
func (f *Framer) Stop() {
	f.cancel()
}

// Wait blocks until the pump goroutine has exited
func (f *Framer) Wait() {
	f.wg.Wait()
}

// FramesDelivered returns the number of frames handed to the consumer
func (f *Framer) FramesDelivered() uint64 {
	return f.framesDelivered.Load()
}

// pump reads fixed-size frames from the source until cancellation or a source
// error. Each frame is delivered with its measured level.
func (f *Framer) pump() {
	frame := make([]byte, f.frameBytes)

	for {
		if f.ctx.Err() != nil {
			return
		}

		if _, err := io.ReadFull(f.src, frame); err != nil {
			// EOF is the normal shutdown path: the capture source was closed.
			if err != io.EOF && err != io.ErrUnexpectedEOF && f.ctx.Err() == nil {
				f.logger.Warn("Audio source read failed",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		// Re-check cancellation after the blocking read so frames captured
		// during teardown are dropped instead of delivered.
		if f.ctx.Err() != nil {
			return
		}

		level := f.meter.Process(frame)

		out := make([]byte, len(frame))
		copy(out, frame)

		f.deliver(Frame{PCM: out, Level: level})
		f.framesDelivered.Add(1)
	}
}
