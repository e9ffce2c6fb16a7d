package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the live session client
type Metrics struct {
	// Session lifecycle metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionDuration prometheus.Histogram
	ConnectFailures prometheus.Counter

	// Outbound media metrics
	ChunksSent            *prometheus.CounterVec
	ChunkSendErrors       prometheus.Counter
	ChunksDroppedNoClient prometheus.Counter
	FramesDroppedSpeaking prometheus.Counter
	FramesSampled         prometheus.Counter

	// Audio pipeline metrics
	AudioSetupAttempts prometheus.Counter
	AudioSetupFailures prometheus.Counter
	InputLevel         prometheus.Gauge
	OutputLevel        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production; tests pass their own
// registry so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session lifecycle metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_sessions_started_total",
			Help: "Total number of live sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_sessions_stopped_total",
			Help: "Total number of live sessions stopped",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "g3mini_session_duration_seconds",
			Help:    "Duration of live sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		ConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_connect_failures_total",
			Help: "Total number of failed connection attempts",
		}),

		// Outbound media metrics
		ChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "g3mini_chunks_sent_total",
			Help: "Total number of media chunks sent",
		}, []string{"kind"}),
		ChunkSendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_chunk_send_errors_total",
			Help: "Total number of media chunk send failures",
		}),
		ChunksDroppedNoClient: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_chunks_dropped_no_client_total",
			Help: "Total number of chunks dropped because no client was attached",
		}),
		FramesDroppedSpeaking: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_frames_dropped_speaking_total",
			Help: "Total number of microphone frames dropped during model playback",
		}),
		FramesSampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_video_frames_sampled_total",
			Help: "Total number of camera frames sampled",
		}),

		// Audio pipeline metrics
		AudioSetupAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_audio_setup_attempts_total",
			Help: "Total number of audio pipeline setup attempts",
		}),
		AudioSetupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "g3mini_audio_setup_failures_total",
			Help: "Total number of failed audio pipeline setups",
		}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "g3mini_input_level",
			Help: "Current microphone amplitude level (0-100)",
		}),
		OutputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "g3mini_output_level",
			Help: "Current synthesized speech amplitude level (0-100)",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "g3mini_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "g3mini_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "g3mini_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordConnectFailure increments the connect failures counter
func (m *Metrics) RecordConnectFailure() {
	m.ConnectFailures.Inc()
}

// RecordChunkSent records a sent media chunk of the given kind ("audio" or "video")
func (m *Metrics) RecordChunkSent(kind string) {
	m.ChunksSent.WithLabelValues(kind).Inc()
}

// RecordChunkSendError increments the send error counter
func (m *Metrics) RecordChunkSendError() {
	m.ChunkSendErrors.Inc()
}

// RecordChunkDroppedNoClient counts a chunk discarded with no client attached
func (m *Metrics) RecordChunkDroppedNoClient() {
	m.ChunksDroppedNoClient.Inc()
}

// RecordFrameDroppedSpeaking counts a mic frame dropped during playback
func (m *Metrics) RecordFrameDroppedSpeaking() {
	m.FramesDroppedSpeaking.Inc()
}

// RecordFrameSampled increments the video frames sampled counter
func (m *Metrics) RecordFrameSampled() {
	m.FramesSampled.Inc()
}

// RecordAudioSetupAttempt increments the audio setup attempts counter
func (m *Metrics) RecordAudioSetupAttempt() {
	m.AudioSetupAttempts.Inc()
}

// RecordAudioSetupFailure increments the audio setup failures counter
func (m *Metrics) RecordAudioSetupFailure() {
	m.AudioSetupFailures.Inc()
}

// SetInputLevel sets the microphone level gauge
func (m *Metrics) SetInputLevel(level int) {
	m.InputLevel.Set(float64(level))
}

// SetOutputLevel sets the playback level gauge
func (m *Metrics) SetOutputLevel(level int) {
	m.OutputLevel.Set(float64(level))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
