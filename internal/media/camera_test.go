package media

import (
	"bytes"
	"testing"
)

func jpegFrame(payload ...byte) []byte {
	frame := []byte{0xff, 0xd8}
	frame = append(frame, payload...)
	return append(frame, 0xff, 0xd9)
}

func TestExtractJPEGSingleFrame(t *testing.T) {
	data := jpegFrame(0x01, 0x02, 0x03)

	frame, rest := extractJPEG(data)
	if frame == nil {
		t.Fatal("Expected a complete frame")
	}
	if !bytes.Equal(frame, data) {
		t.Error("Extracted frame does not match input")
	}
	if len(rest) != 0 {
		t.Errorf("Expected no remainder, got %d bytes", len(rest))
	}
}

func TestExtractJPEGIncomplete(t *testing.T) {
	// Start marker without an end marker yet.
	data := []byte{0xff, 0xd8, 0x01, 0x02}

	frame, rest := extractJPEG(data)
	if frame != nil {
		t.Error("Incomplete frame should not be extracted")
	}
	if !bytes.Equal(rest, data) {
		t.Error("Pending bytes should be preserved")
	}
}

func TestExtractJPEGDiscardsLeadingGarbage(t *testing.T) {
	inner := jpegFrame(0xaa)
	data := append([]byte{0x00, 0x11, 0x22}, inner...)

	frame, rest := extractJPEG(data)
	if !bytes.Equal(frame, inner) {
		t.Error("Frame should be extracted past leading garbage")
	}
	if len(rest) != 0 {
		t.Errorf("Expected no remainder, got %d bytes", len(rest))
	}
}

func TestExtractJPEGBackToBackFrames(t *testing.T) {
	first := jpegFrame(0x01)
	second := jpegFrame(0x02)
	data := append(append([]byte{}, first...), second...)

	frame, rest := extractJPEG(data)
	if !bytes.Equal(frame, first) {
		t.Error("First frame should be extracted first")
	}

	frame, rest = extractJPEG(rest)
	if !bytes.Equal(frame, second) {
		t.Error("Second frame should follow")
	}
	if len(rest) != 0 {
		t.Errorf("Expected no remainder, got %d bytes", len(rest))
	}
}

func TestExtractJPEGNoMarker(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	if frame, _ := extractJPEG(data); frame != nil {
		t.Error("Data without a start marker should yield no frame")
	}
}

func TestCameraFFmpegArgs(t *testing.T) {
	cfg := CameraConfig{Device: "/dev/video2", Width: 640, Height: 480, FPS: 15}

	args, err := cameraFFmpegArgs("linux", cfg)
	if err != nil {
		t.Fatalf("Linux args failed: %v", err)
	}
	assertArgPair(t, args, "-f", "v4l2")
	assertArgPair(t, args, "-i", "/dev/video2")
	assertArgPair(t, args, "-video_size", "640x480")
	assertArgPair(t, args, "-framerate", "15")

	args, err = cameraFFmpegArgs("darwin", CameraConfig{Width: 640, Height: 480, FPS: 15})
	if err != nil {
		t.Fatalf("Darwin args failed: %v", err)
	}
	assertArgPair(t, args, "-f", "avfoundation")
	assertArgPair(t, args, "-i", "0")

	if _, err := cameraFFmpegArgs("windows", cfg); err == nil {
		t.Error("Unsupported platform should be rejected")
	}
	if _, err := cameraFFmpegArgs("linux", CameraConfig{Width: 0, Height: 480, FPS: 15}); err == nil {
		t.Error("Zero width should be rejected")
	}
	if _, err := cameraFFmpegArgs("linux", CameraConfig{Width: 640, Height: 480, FPS: 0}); err == nil {
		t.Error("Zero fps should be rejected")
	}
}

func assertArgPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return
		}
	}
	t.Errorf("Expected %s %s in args %v", flag, value, args)
}

func TestPCMBufferReadAfterClose(t *testing.T) {
	buf := newPCMBuffer(64)
	buf.append([]byte{0x01, 0x02})
	buf.close()

	p := make([]byte, 4)
	n, err := buf.Read(p)
	if err != nil || n != 2 {
		t.Fatalf("Read should drain queued bytes: n=%d err=%v", n, err)
	}

	if _, err := buf.Read(p); err == nil {
		t.Error("Read after drain on a closed buffer should return EOF")
	}
}

func TestPCMBufferBlockedReadReleasedByClose(t *testing.T) {
	buf := newPCMBuffer(64)

	done := make(chan error, 1)
	go func() {
		_, err := buf.Read(make([]byte, 4))
		done <- err
	}()

	buf.close()
	if err := <-done; err == nil {
		t.Error("Close should release a blocked Read with EOF")
	}
}

func TestPCMBufferIgnoresAppendAfterClose(t *testing.T) {
	buf := newPCMBuffer(64)
	buf.close()
	buf.append([]byte{0x01})

	if _, err := buf.Read(make([]byte, 4)); err == nil {
		t.Error("Appends after close should be dropped")
	}
}
