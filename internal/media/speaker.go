package media

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays synthesized PCM-16 mono audio. The oto context is
// process-level, so a Speaker is created once at startup and reused
// across sessions; Flush clears buffered audio between turns.
//
// The player pulls from the internal buffer through Read, so Write
// never blocks on the audio device.
type Speaker struct {
	otoCtx *oto.Context
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

// NewSpeaker initializes the playback context at the given sample rate.
// The 4800-byte buffer is roughly 100 ms at 24 kHz mono PCM-16.
func NewSpeaker(sampleRate int, logger *slog.Logger) (*Speaker, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4800,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	<-ready

	s := &Speaker{
		otoCtx: otoCtx,
		logger: logger,
		buf:    make([]byte, 0, sampleRate*4),
	}
	s.cond = sync.NewCond(&s.mu)

	logger.Info("Speaker initialized",
		slog.Int("sample_rate", sampleRate),
	)
	return s, nil
}

// Write queues PCM-16 bytes for playback, starting the player on the
// first write after a flush
func (s *Speaker) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.buf = append(s.buf, data...)

	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read feeds the player. Blocks until data is queued; after Close it
// returns silence so the device drains gracefully.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards queued audio and stops the current player so stale
// speech does not overlap the next turn
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]

	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()

		// Reset drops audio already handed to the device, not just
		// our queue, so an interrupted turn goes quiet immediately.
		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	s.mu.Unlock()
}

// Close stops playback and releases the player. The process-level oto
// context itself cannot be torn down.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.player != nil {
		s.player.Close()
	}
	return nil
}
