package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const wavHeaderSize = 44

// writeWAVHeader writes a mono PCM-16 WAV header for dataSize payload bytes
func writeWAVHeader(w io.Writer, sampleRate int, dataSize uint32) error {
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate)*2)
	binary.LittleEndian.PutUint16(header[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	_, err := w.Write(header)
	return err
}

// EncodeWAV wraps little-endian PCM-16 mono bytes into a WAV container
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even, got %d", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	buf := make([]byte, 0, wavHeaderSize+len(pcm))
	out := &sliceWriter{buf: buf}
	if err := writeWAVHeader(out, sampleRate, uint32(len(pcm))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if _, err := out.Write(pcm); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return out.buf, nil
}

// DecodeWAV extracts PCM-16 mono bytes and the sample rate from WAV data
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}
	if string(data[12:16]) != "fmt " {
		return nil, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(data[36:40]) != "data" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bits)
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", channels)
	}

	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))
	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataSize <= 0 || wavHeaderSize+dataSize > len(data) {
		return nil, 0, fmt.Errorf("invalid data chunk size: %d", dataSize)
	}

	return data[wavHeaderSize : wavHeaderSize+dataSize], sampleRate, nil
}

// Dumper streams outbound PCM frames into a WAV file for diagnostics. The
// header is written with a zero data size and patched on Close.
type Dumper struct {
	file       *os.File
	sampleRate int
	written    uint32
}

// NewDumper creates a timestamped WAV dump file in dir
func NewDumper(dir string, sampleRate int) (*Dumper, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	name := fmt.Sprintf("capture_%s.wav", time.Now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}

	if err := writeWAVHeader(file, sampleRate, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write dump header: %w", err)
	}

	return &Dumper{file: file, sampleRate: sampleRate}, nil
}

// Write appends PCM-16 bytes to the dump
func (d *Dumper) Write(pcm []byte) error {
	n, err := d.file.Write(pcm)
	d.written += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write dump data: %w", err)
	}
	return nil
}

// Path returns the dump file path
func (d *Dumper) Path() string {
	return d.file.Name()
}

// Close patches the RIFF and data chunk sizes and closes the file
func (d *Dumper) Close() error {
	sizes := make([]byte, 4)

	binary.LittleEndian.PutUint32(sizes, 36+d.written)
	if _, err := d.file.WriteAt(sizes, 4); err != nil {
		d.file.Close()
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(sizes, d.written)
	if _, err := d.file.WriteAt(sizes, 40); err != nil {
		d.file.Close()
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	return d.file.Close()
}

// sliceWriter appends to an in-memory buffer; used by EncodeWAV
type sliceWriter struct {
	buf []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
