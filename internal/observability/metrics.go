package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_gateway_active_connections",
		Help: "Number of connected caption clients",
	})

	totalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_connections_total",
		Help: "Total number of caption client connections",
	})

	recordingSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_recording_sessions_total",
		Help: "Total number of recording sessions started",
	})

	// Translation metrics
	translationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_translation_requests_total",
		Help: "Total number of translation provider calls",
	}, []string{"provider", "status"})

	translationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caption_gateway_translation_latency_seconds",
		Help:    "Translation provider latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"provider"})

	translationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_translation_fallbacks_total",
		Help: "Translations that returned a failure marker instead of translated text",
	})

	// Recognition metrics
	recognizerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_recognizer_restarts_total",
		Help: "Recognizer auto-restarts by reason",
	}, []string{"reason"})

	recognizerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_recognizer_errors_total",
		Help: "Recognition errors by error code",
	}, []string{"code"})

	// Playback metrics
	playbackSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_playback_sessions_total",
		Help: "Speech playback sessions by source",
	}, []string{"source"})

	autoPlays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_autoplays_total",
		Help: "Translations spoken automatically after silence",
	})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_tts_latency_seconds",
		Help:    "Server-side TTS synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// RecordConnectionStart records a new client connection
func RecordConnectionStart() {
	activeConnections.Inc()
	totalConnections.Inc()
}

// RecordConnectionEnd records a client disconnect
func RecordConnectionEnd() {
	activeConnections.Dec()
}

// RecordRecordingStart records the start of a recording session
func RecordRecordingStart() {
	recordingSessions.Inc()
}

// RecordTranslation records one provider call and how long it took
func RecordTranslation(provider string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	translationRequests.WithLabelValues(provider, status).Inc()
	translationLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordTranslationFallback records a translation that fell back to a marker
func RecordTranslationFallback() {
	translationFallbacks.Inc()
}

// RecordRecognizerRestart records an automatic recognizer restart
func RecordRecognizerRestart(reason string) {
	recognizerRestarts.WithLabelValues(reason).Inc()
}

// RecordRecognizerError records a recognition error code
func RecordRecognizerError(code string) {
	recognizerErrors.WithLabelValues(code).Inc()
}

// RecordPlayback records a playback session from a given source
func RecordPlayback(source string) {
	playbackSessions.WithLabelValues(source).Inc()
}

// RecordAutoPlay records an automatic silence-triggered playback
func RecordAutoPlay() {
	autoPlays.Inc()
}

// RecordTTSLatency records server-side synthesis latency
func RecordTTSLatency(elapsed time.Duration) {
	ttsLatency.Observe(elapsed.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
