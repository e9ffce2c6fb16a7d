package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AB-DALRAHM-AN/G3mini-live/internal/live"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/metrics"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

var testVoice = protocol.VoiceConfig{VoiceName: "Puck", Model: "models/test-model"}

func testConfig() Config {
	return Config{
		SampleRate:    16000,
		FrameSamples:  32,
		FrameInterval: 10 * time.Millisecond,
	}
}

// eventLog records teardown events in the order they happen
type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (l *eventLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *eventLog) index(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, n := range l.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (l *eventLog) lastIndex(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := -1
	for i, n := range l.names {
		if n == name {
			last = i
		}
	}
	return last
}

type fakeMic struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []byte
	closed    bool
	resumes   int
	resumeErr error
	events    *eventLog
}

func newFakeMic(events *eventLog) *fakeMic {
	m := &fakeMic{events: events}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *fakeMic) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *fakeMic) feed(pcm []byte) {
	m.mu.Lock()
	m.buf = append(m.buf, pcm...)
	m.mu.Unlock()
	m.cond.Signal()
}

func (m *fakeMic) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes++
	return m.resumeErr
}

func (m *fakeMic) resumeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes
}

func (m *fakeMic) setResumeErr(err error) {
	m.mu.Lock()
	m.resumeErr = err
	m.mu.Unlock()
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	wasClosed := m.closed
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
	if !wasClosed && m.events != nil {
		m.events.add("mic_close")
	}
	return nil
}

type fakeCamera struct {
	mu     sync.Mutex
	frame  []byte
	events *eventLog
}

func (c *fakeCamera) Frame() []byte {
	if c.events != nil {
		c.events.add("frame_grab")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *fakeCamera) Close() error {
	if c.events != nil {
		c.events.add("camera_close")
	}
	return nil
}

type mediaChunk struct {
	data string
	mime string
}

type fakeClient struct {
	mu              sync.Mutex
	connectErr      error
	updateErr       error
	connected       bool
	disconnected    bool
	disconnectDelay time.Duration
	updates         []protocol.VoiceConfig
	events          *eventLog
	chunks          chan mediaChunk
}

func newFakeClient(events *eventLog) *fakeClient {
	return &fakeClient{
		events: events,
		chunks: make(chan mediaChunk, 64),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	wasDisconnected := c.disconnected
	c.disconnected = true
	delay := c.disconnectDelay
	c.mu.Unlock()
	if !wasDisconnected {
		if c.events != nil {
			c.events.add("disconnect")
		}
		time.Sleep(delay)
	}
	return nil
}

func (c *fakeClient) SendMediaChunk(data, mimeType string) error {
	c.chunks <- mediaChunk{data: data, mime: mimeType}
	return nil
}

func (c *fakeClient) UpdateVoiceConfig(voice protocol.VoiceConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, voice)
	if c.updateErr != nil {
		return c.updateErr
	}
	return live.ErrReconnectRequired
}

func (c *fakeClient) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

// harness wires a controller to fakes and exposes the captured client
// callbacks so tests can drive session events.
type harness struct {
	controller *Controller
	mic        *fakeMic
	camera     *fakeCamera
	client     *fakeClient
	metrics    *metrics.Metrics
	events     *eventLog

	mu        sync.Mutex
	callbacks live.Callbacks
}

func newHarness(t *testing.T, cfg Config, withCamera bool) *harness {
	t.Helper()

	h := &harness{
		events:  &eventLog{},
		metrics: newTestMetrics(),
	}
	h.mic = newFakeMic(h.events)
	h.client = newFakeClient(h.events)
	if withCamera {
		h.camera = &fakeCamera{events: h.events}
	}

	deps := Deps{
		OpenMic: func() (MicSource, error) { return h.mic, nil },
		NewClient: func(voice protocol.VoiceConfig, callbacks live.Callbacks) (LiveClient, error) {
			h.mu.Lock()
			h.callbacks = callbacks
			h.mu.Unlock()
			return h.client, nil
		},
	}
	if withCamera {
		deps.OpenCamera = func() (CameraSource, error) { return h.camera, nil }
	}

	controller, err := NewController(cfg, testVoice, deps, h.metrics, testLogger())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	h.controller = controller
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { h.controller.Stop() })
}

func (h *harness) setupComplete() {
	h.mu.Lock()
	cb := h.callbacks.OnSetupComplete
	h.mu.Unlock()
	cb()
}

func (h *harness) playbackState(speaking bool) {
	h.mu.Lock()
	cb := h.callbacks.OnPlaybackState
	h.mu.Unlock()
	cb(speaking)
}

func (h *harness) waitChunk(t *testing.T) mediaChunk {
	t.Helper()
	select {
	case chunk := <-h.client.chunks:
		return chunk
	case <-time.After(5 * time.Second):
		t.Fatal("Chunk never arrived")
		return mediaChunk{}
	}
}

func (h *harness) waitAudioChunk(t *testing.T) mediaChunk {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk := <-h.client.chunks:
			if strings.HasPrefix(chunk.mime, protocol.MimePCM) {
				return chunk
			}
		case <-deadline:
			t.Fatal("Audio chunk never arrived")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestControllerStartAndAudioFlow(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)

	status := h.controller.Snapshot()
	if !status.Running || status.Ready {
		t.Errorf("After start: running=%v ready=%v, want running and not ready", status.Running, status.Ready)
	}

	h.setupComplete()
	if !h.controller.Snapshot().Ready {
		t.Error("Setup acknowledgement should mark the session ready")
	}
	if h.mic.resumeCount() != 1 {
		t.Errorf("Mic resumes = %d, want 1", h.mic.resumeCount())
	}

	pcm := make([]byte, 64) // one frame at 32 samples
	for i := range pcm {
		pcm[i] = byte(i)
	}
	h.mic.feed(pcm)

	chunk := h.waitAudioChunk(t)
	if chunk.mime != "audio/pcm;rate=16000" {
		t.Errorf("Audio mime = %q, want audio/pcm;rate=16000", chunk.mime)
	}
	decoded, err := base64.StdEncoding.DecodeString(chunk.data)
	if err != nil {
		t.Fatalf("Chunk payload is not base64: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Error("Chunk payload does not match captured frame")
	}
}

func TestControllerStartTwice(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)

	if err := h.controller.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Second start = %v, want ErrAlreadyRunning", err)
	}
}

func TestControllerStopIdempotent(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)

	if err := h.controller.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := h.controller.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Second stop = %v, want ErrNotRunning", err)
	}
	if h.controller.Running() {
		t.Error("Controller should not report running after stop")
	}
}

func TestControllerConnectFailureReleasesDevices(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	h.client.connectErr = errors.New("dial refused")

	err := h.controller.Start(context.Background())
	if err == nil {
		t.Fatal("Start should fail when the client cannot connect")
	}
	if h.controller.Running() {
		t.Error("Controller must not report running after a failed start")
	}
	if h.events.index("mic_close") < 0 {
		t.Error("Microphone should be released on connect failure")
	}
	if h.events.index("camera_close") < 0 {
		t.Error("Camera should be released on connect failure")
	}
	if got := testutil.ToFloat64(h.metrics.ConnectFailures); got != 1 {
		t.Errorf("Connect failures = %v, want 1", got)
	}
}

func TestHalfDuplexDropsFramesWhileSpeaking(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)
	h.setupComplete()

	h.playbackState(true)
	dropped := make([]byte, 64)
	h.mic.feed(dropped)

	// Wait until the pump has consumed the frame, then allow sends again.
	waitFor(t, func() bool { return h.controller.Snapshot().FramesSent >= 1 })

	h.playbackState(false)
	sent := make([]byte, 64)
	for i := range sent {
		sent[i] = 0x55
	}
	h.mic.feed(sent)

	chunk := h.waitAudioChunk(t)
	decoded, _ := base64.StdEncoding.DecodeString(chunk.data)
	if string(decoded) != string(sent) {
		t.Error("Frame captured during playback should have been dropped")
	}
	if got := testutil.ToFloat64(h.metrics.FramesDroppedSpeaking); got != 1 {
		t.Errorf("Frames dropped speaking = %v, want 1", got)
	}
}

func TestAudioSetupLatchSingleAttempt(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)

	h.setupComplete()
	h.setupComplete()
	h.setupComplete()

	if h.mic.resumeCount() != 1 {
		t.Errorf("Mic resumes = %d, want 1 despite repeated readiness events", h.mic.resumeCount())
	}
	if got := testutil.ToFloat64(h.metrics.AudioSetupAttempts); got != 1 {
		t.Errorf("Audio setup attempts = %v, want 1", got)
	}
}

func TestAudioSetupRetriesAfterFailure(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)

	h.mic.setResumeErr(errors.New("device busy"))
	h.setupComplete()
	if got := testutil.ToFloat64(h.metrics.AudioSetupFailures); got != 1 {
		t.Errorf("Audio setup failures = %v, want 1", got)
	}
	if h.controller.Snapshot().AudioReady {
		t.Error("Audio must not be ready after a failed setup")
	}

	// The latch releases on failure, so the next readiness event retries.
	h.mic.setResumeErr(nil)
	h.setupComplete()
	if !h.controller.Snapshot().AudioReady {
		t.Error("Audio setup should succeed on retry")
	}
	if h.mic.resumeCount() != 2 {
		t.Errorf("Mic resumes = %d, want 2", h.mic.resumeCount())
	}
}

func TestTeardownOrder(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	// A slow disconnect gives a still-running sampler several ticks to
	// grab frames after the "disconnect" event, so sampling past the
	// socket teardown would show up in the log.
	h.client.disconnectDelay = 50 * time.Millisecond
	h.start(t)
	h.setupComplete()

	waitFor(t, func() bool { return h.events.index("frame_grab") >= 0 })

	if err := h.controller.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	disconnect := h.events.index("disconnect")
	micClose := h.events.index("mic_close")
	cameraClose := h.events.index("camera_close")
	if disconnect < 0 || micClose < 0 || cameraClose < 0 {
		t.Fatalf("Missing teardown events: %v", h.events.names)
	}
	if h.events.lastIndex("frame_grab") > disconnect {
		t.Error("Frame sampling must stop before the client disconnects")
	}
	if disconnect > micClose {
		t.Error("Client must disconnect before the microphone closes")
	}
	if micClose > cameraClose {
		t.Error("Microphone must close before the camera")
	}

	status := h.controller.Snapshot()
	if status.InputLevel != 0 || status.OutputLevel != 0 {
		t.Error("Levels should be zeroed after teardown")
	}
}

func TestReadinessRacingStopLeavesNoSampler(t *testing.T) {
	cfg := testConfig()
	cfg.FrameInterval = 2 * time.Millisecond

	for i := 0; i < 25; i++ {
		h := newHarness(t, cfg, true)
		h.start(t)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.setupComplete()
		}()
		go func() {
			defer wg.Done()
			h.controller.Stop()
		}()
		wg.Wait()

		// Stop has returned: any sampler that managed to start must be
		// stopped by now, so no video chunk may arrive from here on.
		for len(h.client.chunks) > 0 {
			<-h.client.chunks
		}
		time.Sleep(6 * cfg.FrameInterval)
		select {
		case chunk := <-h.client.chunks:
			if chunk.mime == protocol.MimeJPEG {
				t.Fatalf("Iteration %d: sampler still running after stop", i)
			}
		default:
		}
	}
}

func TestSetupCompleteAfterStopIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	h.start(t)

	if err := h.controller.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// A late readiness event on a torn-down session must not bring up
	// the audio pipeline or the sampler.
	h.setupComplete()

	if h.mic.resumeCount() != 0 {
		t.Errorf("Mic resumes after stop = %d, want 0", h.mic.resumeCount())
	}
	time.Sleep(3 * testConfig().FrameInterval)
	if h.events.index("frame_grab") >= 0 {
		t.Error("Sampler must not start from a readiness event after stop")
	}
}

func TestChunkDroppedWithoutClient(t *testing.T) {
	m := newTestMetrics()
	mic := newFakeMic(nil)
	sess, err := NewSession(testConfig(), mic, nil, m, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer sess.Close()

	// No client attached: the send is a silent no-op.
	sess.sendChunk("cGNt", protocol.MimePCM, "audio")

	if got := testutil.ToFloat64(m.ChunksDroppedNoClient); got != 1 {
		t.Errorf("Chunks dropped = %v, want 1", got)
	}
}

func TestAudioSetupRequiresReadiness(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)

	// Active but not ready: bring-up must not run.
	if h.mic.resumeCount() != 0 {
		t.Errorf("Mic resumes before readiness = %d, want 0", h.mic.resumeCount())
	}
	if h.controller.Snapshot().AudioReady {
		t.Error("Audio must not be ready before setup acknowledgement")
	}
}

func TestVideoSampling(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	h.camera.mu.Lock()
	h.camera.frame = frame
	h.camera.mu.Unlock()

	h.start(t)
	h.setupComplete()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk := <-h.client.chunks:
			if chunk.mime != protocol.MimeJPEG {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(chunk.data)
			if err != nil {
				t.Fatalf("Video payload is not base64: %v", err)
			}
			if string(decoded) != string(frame) {
				t.Error("Video payload does not match the camera frame")
			}
			return
		case <-deadline:
			t.Fatal("Video chunk never arrived")
		}
	}
}

func TestStageAndApplyVoice(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)
	h.setupComplete()

	h.controller.StageVoiceName("Kore")
	if h.client.updateCount() != 0 {
		t.Error("Staging must not touch the running session")
	}
	status := h.controller.Snapshot()
	if status.StagedVoice == nil || status.StagedVoice.VoiceName != "Kore" {
		t.Error("Snapshot should expose the staged voice")
	}
	if status.Voice.VoiceName != testVoice.VoiceName {
		t.Error("Committed voice must not change before apply")
	}

	h.controller.StageModel("models/other")
	err := h.controller.ApplyVoice()
	if !errors.Is(err, live.ErrReconnectRequired) {
		t.Errorf("Apply on a live session = %v, want ErrReconnectRequired", err)
	}

	voice := h.controller.Voice()
	if voice.VoiceName != "Kore" || voice.Model != "models/other" {
		t.Errorf("Committed voice = %+v, want staged values", voice)
	}
	if h.client.updateCount() != 1 {
		t.Errorf("Client updates = %d, want 1", h.client.updateCount())
	}
	if h.controller.Snapshot().StagedVoice != nil {
		t.Error("Staged voice should clear after apply")
	}
}

func TestApplyVoiceWithoutSession(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	if err := h.controller.ApplyVoice(); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("Apply with nothing staged = %v, want ErrNothingStaged", err)
	}

	h.controller.StageVoiceName("Kore")
	if err := h.controller.ApplyVoice(); err != nil {
		t.Errorf("Apply without a session should commit silently, got %v", err)
	}
	if h.controller.Voice().VoiceName != "Kore" {
		t.Error("Voice should commit without a session")
	}
}

func TestApplyVoiceRejectsInvalidStaged(t *testing.T) {
	h := newHarness(t, testConfig(), false)

	h.controller.StageVoiceName("")
	if err := h.controller.ApplyVoice(); err == nil {
		t.Error("Empty staged voice name should fail validation")
	}
	if h.controller.Voice().VoiceName != testVoice.VoiceName {
		t.Error("Failed apply must not change the committed voice")
	}
}

func TestOutputLevelTracking(t *testing.T) {
	h := newHarness(t, testConfig(), false)
	h.start(t)
	h.setupComplete()

	h.mu.Lock()
	onLevel := h.callbacks.OnOutputLevel
	h.mu.Unlock()
	onLevel(42)

	if h.controller.Snapshot().OutputLevel != 42 {
		t.Errorf("Output level = %d, want 42", h.controller.Snapshot().OutputLevel)
	}
}

func TestSessionDumpsCapturedAudio(t *testing.T) {
	cfg := testConfig()
	cfg.DumpDir = t.TempDir()

	h := newHarness(t, cfg, false)
	h.start(t)
	h.setupComplete()

	h.mic.feed(make([]byte, 128))
	waitFor(t, func() bool { return h.controller.Snapshot().FramesSent >= 2 })

	if err := h.controller.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(cfg.DumpDir, "capture_*.wav"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected one dump file, got %v (err=%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("Failed to read dump: %v", err)
	}
	if len(data) <= 44 {
		t.Errorf("Dump file should contain audio past the header, got %d bytes", len(data))
	}
}
