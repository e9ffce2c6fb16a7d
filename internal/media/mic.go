package media

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// pcmBuffer is a cond-guarded byte queue between the capture callback
// and a blocking reader. Close releases a blocked Read with io.EOF once
// the queue drains.
type pcmBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newPCMBuffer(capacity int) *pcmBuffer {
	b := &pcmBuffer{buf: make([]byte, 0, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pcmBuffer) append(data []byte) {
	b.mu.Lock()
	if !b.closed {
		b.buf = append(b.buf, data...)
	}
	b.mu.Unlock()
	b.cond.Signal()
}

func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.buf) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.buf) == 0 {
		return 0, io.EOF
	}

	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *pcmBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Mic is an open microphone capture device. Read blocks until captured
// PCM-16 bytes are available and returns io.EOF after Close, which is
// how downstream consumers observe teardown.
type Mic struct {
	device *malgo.Device
	buf    *pcmBuffer
	logger *slog.Logger

	closeOnce sync.Once
}

func openMic(ctx malgo.Context, sampleRate int, logger *slog.Logger) (*Mic, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	m := &Mic{
		buf:    newPCMBuffer(sampleRate * 2), // 1 second
		logger: logger,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.buf.append(input)
		},
	}

	device, err := malgo.InitDevice(ctx, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to init microphone: %w", err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}

	logger.Info("Microphone opened",
		slog.Int("sample_rate", sampleRate),
	)
	return m, nil
}

// Read returns captured PCM-16 bytes, blocking until data is available.
// After Close it returns io.EOF.
func (m *Mic) Read(p []byte) (int, error) {
	return m.buf.Read(p)
}

// Resume restarts capture if the device has been stopped. Safe to call
// on an already-running device.
func (m *Mic) Resume() error {
	if m.device.IsStarted() {
		return nil
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("failed to resume microphone: %w", err)
	}
	m.logger.Debug("Microphone capture resumed")
	return nil
}

// Close stops the capture device and releases any blocked Read with
// io.EOF. Idempotent.
func (m *Mic) Close() error {
	m.closeOnce.Do(func() {
		if m.device != nil {
			m.device.Stop()
			m.device.Uninit()
		}
		m.buf.close()
		m.logger.Info("Microphone closed")
	})
	return nil
}
