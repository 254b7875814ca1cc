package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice conversation service
type Metrics struct {
	// Turn metrics
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	TurnsDegraded  prometheus.Counter
	TurnsFailed    *prometheus.CounterVec
	TurnDuration   prometheus.Histogram

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageRetries  *prometheus.CounterVec

	// Transcription metrics
	TranscriptsEmpty  prometheus.Counter
	TranscriptLength  prometheus.Histogram

	// Store metrics
	MessagesAppended      *prometheus.CounterVec
	ConversationsCreated  prometheus.Counter
	PreferencesReconciled prometheus.Counter
	PreferencesMerged     prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Turn metrics
		TurnsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_turns_started_total",
			Help: "Total number of conversational turns started",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_turns_completed_total",
			Help: "Total number of conversational turns completed successfully",
		}),
		TurnsDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_turns_degraded_total",
			Help: "Total number of turns that succeeded text-only after synthesis failure",
		}),
		TurnsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sonna_turns_failed_total",
			Help: "Total number of failed turns by stage and error kind",
		}, []string{"stage", "kind"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sonna_turn_duration_seconds",
			Help:    "End-to-end duration of conversational turns",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Stage metrics
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sonna_stage_duration_seconds",
			Help:    "Duration of individual turn stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage"}),
		StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sonna_stage_retries_total",
			Help: "Total number of retries per stage",
		}, []string{"stage"}),

		// Transcription metrics
		TranscriptsEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_transcripts_empty_total",
			Help: "Total number of turns where no speech was detected",
		}),
		TranscriptLength: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sonna_transcript_length_chars",
			Help:    "Length of transcribed utterances in characters",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10), // 8 chars to ~4K
		}),

		// Store metrics
		MessagesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sonna_messages_appended_total",
			Help: "Total number of messages appended by role",
		}, []string{"role"}),
		ConversationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_conversations_created_total",
			Help: "Total number of conversations created",
		}),
		PreferencesReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_preferences_reconciled_total",
			Help: "Total number of preference reconciliation passes",
		}),
		PreferencesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sonna_preferences_merged_total",
			Help: "Total number of duplicate preference records merged away",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sonna_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sonna_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sonna_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTurnStarted increments the turns started counter
func (m *Metrics) RecordTurnStarted() {
	m.TurnsStarted.Inc()
}

// RecordTurnCompleted records a successful turn and its duration
func (m *Metrics) RecordTurnCompleted(durationSeconds float64, degraded bool) {
	m.TurnsCompleted.Inc()
	m.TurnDuration.Observe(durationSeconds)
	if degraded {
		m.TurnsDegraded.Inc()
	}
}

// RecordTurnFailed records a failed turn by stage and error kind
func (m *Metrics) RecordTurnFailed(stage, kind string) {
	m.TurnsFailed.WithLabelValues(stage, kind).Inc()
}

// RecordStageDuration records how long a turn stage took
func (m *Metrics) RecordStageDuration(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageRetry increments the retry counter for a stage
func (m *Metrics) RecordStageRetry(stage string) {
	m.StageRetries.WithLabelValues(stage).Inc()
}

// RecordTranscript records transcript length, counting empty ones separately
func (m *Metrics) RecordTranscript(length int) {
	if length == 0 {
		m.TranscriptsEmpty.Inc()
		return
	}
	m.TranscriptLength.Observe(float64(length))
}

// RecordMessageAppended increments the appended messages counter for a role
func (m *Metrics) RecordMessageAppended(role string) {
	m.MessagesAppended.WithLabelValues(role).Inc()
}

// RecordConversationCreated increments the conversations created counter
func (m *Metrics) RecordConversationCreated() {
	m.ConversationsCreated.Inc()
}

// RecordPreferencesReconciled records a reconciliation pass and how many
// duplicate records it merged away
func (m *Metrics) RecordPreferencesReconciled(merged int) {
	m.PreferencesReconciled.Inc()
	if merged > 0 {
		m.PreferencesMerged.Add(float64(merged))
	}
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
