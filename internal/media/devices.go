package media

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"
)

// Devices wraps the process-level miniaudio context. Open it once at
// startup and close it after every capture device is gone.
type Devices struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

// OpenDevices initializes the miniaudio context
func OpenDevices(logger *slog.Logger) (*Devices, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	logger.Debug("Audio device context initialized")
	return &Devices{ctx: ctx, logger: logger}, nil
}

// OpenMic opens a capture device at the given sample rate, mono PCM-16.
// The device starts capturing immediately.
func (d *Devices) OpenMic(sampleRate int) (*Mic, error) {
	return openMic(d.ctx.Context, sampleRate, d.logger)
}

// Close tears down the miniaudio context. All devices opened through
// this context must be closed first.
func (d *Devices) Close() error {
	if err := d.ctx.Uninit(); err != nil {
		return fmt.Errorf("failed to uninit audio context: %w", err)
	}
	d.ctx.Free()
	return nil
}
