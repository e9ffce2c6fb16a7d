package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := pcmFrame(1234, 160)

	encoded, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(encoded) != wavHeaderSize+len(pcm) {
		t.Errorf("Encoded size = %d, want %d", len(encoded), wavHeaderSize+len(pcm))
	}

	decoded, rate, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Sample rate = %d, want 16000", rate)
	}
	if string(decoded) != string(pcm) {
		t.Error("Decoded PCM does not match input")
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Empty data should be rejected")
	}
	if _, err := EncodeWAV([]byte{0x01}, 16000); err == nil {
		t.Error("Odd-length data should be rejected")
	}
	if _, err := EncodeWAV([]byte{0x01, 0x02}, 0); err == nil {
		t.Error("Zero sample rate should be rejected")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav")); err == nil {
		t.Error("Short data should be rejected")
	}

	bad := make([]byte, wavHeaderSize+4)
	copy(bad, "JUNK")
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("Missing RIFF header should be rejected")
	}
}

func TestDumperRoundTrip(t *testing.T) {
	dir := t.TempDir()

	dumper, err := NewDumper(dir, 16000)
	if err != nil {
		t.Fatalf("NewDumper failed: %v", err)
	}

	pcm := pcmFrame(-2000, 320)
	if err := dumper.Write(pcm); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := dumper.Write(pcm); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	path := dumper.Path()
	if err := dumper.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read dump file: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("Dump file is not valid WAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Dump sample rate = %d, want 16000", rate)
	}
	if len(decoded) != 2*len(pcm) {
		t.Errorf("Dump payload = %d bytes, want %d", len(decoded), 2*len(pcm))
	}

	if filepath.Ext(path) != ".wav" {
		t.Errorf("Dump file should have .wav extension, got %s", path)
	}
}
