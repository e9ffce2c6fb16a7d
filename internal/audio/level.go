package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Default level meter tuning. Gain lifts typical speech RMS into a readable
// meter range; smoothing is an exponential moving average factor.
const (
	DefaultLevelGain      = 4.0
	DefaultLevelSmoothing = 0.3
)

// LevelMeter computes a smoothed amplitude level (0-100) from PCM-16 frames
type LevelMeter struct {
	gain      float64
	smoothing float64

	// Meter state
	current float64
	peak    int

	// Statistics
	framesProcessed uint64

	mu sync.Mutex
}

// NewLevelMeter creates an amplitude meter. Non-positive gain or smoothing
// values fall back to the defaults.
func NewLevelMeter(gain, smoothing float64) *LevelMeter {
	if gain <= 0 {
		gain = DefaultLevelGain
	}
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultLevelSmoothing
	}
	return &LevelMeter{
		gain:      gain,
		smoothing: smoothing,
	}
}

// Process computes the level for one little-endian PCM-16 frame and folds it
// into the smoothed meter value. Returns the updated level on a 0-100 scale.
func (m *LevelMeter) Process(pcm []byte) int {
	raw := rmsLevel(pcm, m.gain)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesProcessed++
	m.current = m.current*(1-m.smoothing) + float64(raw)*m.smoothing

	level := int(math.Round(m.current))
	if level > 100 {
		level = 100
	}
	if level > m.peak {
		m.peak = level
	}
	return level
}

// Level returns the current smoothed level without processing new samples
func (m *LevelMeter) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(math.Round(m.current))
}

// Peak returns the highest level observed since creation or the last Reset
func (m *LevelMeter) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// FramesProcessed returns the number of frames folded into the meter
func (m *LevelMeter) FramesProcessed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesProcessed
}

// Reset clears the meter state and statistics
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = 0
	m.peak = 0
	m.framesProcessed = 0
}

// rmsLevel computes the instantaneous RMS energy of a PCM-16 frame, scaled by
// gain and clamped to 0-100. An odd trailing byte is ignored.
func rmsLevel(pcm []byte, gain float64) int {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var energy float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(n))

	level := rms / 32768.0 * 100.0 * gain
	if level > 100 {
		level = 100
	}
	return int(math.Round(level))
}
