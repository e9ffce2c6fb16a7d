package media

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
)

// CameraConfig contains camera capture configuration
type CameraConfig struct {
	Device string // Platform device name, e.g. /dev/video0
	Width  int
	Height int
	FPS    int
}

// Camera captures MJPEG frames from an ffmpeg child process and keeps
// the most recent complete frame. Frame returns that latest frame; the
// caller samples it on its own schedule rather than consuming a stream.
type Camera struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger *slog.Logger

	mu     sync.Mutex
	latest []byte

	closeOnce sync.Once
	done      chan struct{}
}

// OpenCamera starts the ffmpeg capture process and the frame scanner
func OpenCamera(cfg CameraConfig, logger *slog.Logger) (*Camera, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg is required for camera capture: %w", err)
	}

	args, err := cameraFFmpegArgs(runtime.GOOS, cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start camera capture: %w", err)
	}

	c := &Camera{
		cmd:    cmd,
		stdout: stdout,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.scan()

	logger.Info("Camera opened",
		slog.String("device", cfg.Device),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
	)
	return c, nil
}

// cameraFFmpegArgs builds the platform capture command line for an
// MJPEG stream on stdout
func cameraFFmpegArgs(goos string, cfg CameraConfig) ([]string, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid camera resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("camera fps must be positive, got %d", cfg.FPS)
	}

	size := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	rate := fmt.Sprintf("%d", cfg.FPS)

	switch goos {
	case "linux":
		device := cfg.Device
		if device == "" {
			device = "/dev/video0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "v4l2",
			"-framerate", rate,
			"-video_size", size,
			"-i", device,
			"-f", "mjpeg", "-q:v", "5", "-",
		}, nil
	case "darwin":
		device := cfg.Device
		if device == "" {
			device = "0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation",
			"-framerate", rate,
			"-video_size", size,
			"-i", device,
			"-f", "mjpeg", "-q:v", "5", "-",
		}, nil
	default:
		return nil, fmt.Errorf("camera capture is not implemented for %s", goos)
	}
}

// Frame returns a copy of the most recent complete JPEG frame, or nil
// if no frame has arrived yet
func (c *Camera) Frame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	out := make([]byte, len(c.latest))
	copy(out, c.latest)
	return out
}

// Close kills the capture process and waits for the scanner to exit.
// Idempotent.
func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			_ = c.cmd.Wait()
		}
		<-c.done
		c.logger.Info("Camera closed")
	})
	return nil
}

// scan splits the MJPEG byte stream into complete JPEG frames and
// stores the latest one
func (c *Camera) scan() {
	defer close(c.done)

	var pending []byte
	buf := make([]byte, 64*1024)

	for {
		n, err := c.stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				frame, rest := extractJPEG(pending)
				if frame == nil {
					break
				}
				pending = rest
				c.mu.Lock()
				c.latest = frame
				c.mu.Unlock()
			}
		}
		if err != nil {
			return
		}
	}
}

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// extractJPEG returns the first complete JPEG frame in data and the
// remaining bytes, or nil when no complete frame is present. Bytes
// before the first start marker are discarded.
func extractJPEG(data []byte) (frame, rest []byte) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		return nil, data
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		return nil, data[start:]
	}
	end = start + 2 + end + 2

	frame = make([]byte, end-start)
	copy(frame, data[start:end])
	return frame, data[end:]
}
