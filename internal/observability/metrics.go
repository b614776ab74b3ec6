package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fact_gateway_active_sessions",
		Help: "Number of active capture sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fact_gateway_sessions_total",
		Help: "Total number of sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fact_gateway_session_duration_seconds",
		Help:    "Duration of capture sessions in seconds",
		Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
	})

	// Live connection metrics
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fact_gateway_connection_state",
		Help: "Live connection state (0=disconnected, 1=connecting, 2=listening, 3=closing, 4=faulted)",
	}, []string{"session"})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_reconnects_total",
		Help: "Total reconnection attempts by trigger",
	}, []string{"trigger"}) // trigger: "close" or "error"

	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fact_gateway_audio_frames_sent_total",
		Help: "Total audio frames transmitted upstream",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_audio_frames_dropped_total",
		Help: "Total audio frames dropped by reason",
	}, []string{"reason"}) // reason: "send_error", "not_listening", "encode_error", "buffer_full"

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Transcript metrics
	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_transcript_events_total",
		Help: "Total transcript events emitted",
	}, []string{"kind"}) // kind: "partial" or "final"

	// Verification metrics
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_verifications_total",
		Help: "Total verification calls by outcome",
	}, []string{"status"}) // status: "success" or "error"

	verificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fact_gateway_verification_latency_seconds",
		Help:    "Verification call latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 45.0},
	})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_verdicts_total",
		Help: "Resolved analysis verdicts",
	}, []string{"verdict"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fact_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Best-effort collaborator metrics
	auditLogCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_audit_log_calls_total",
		Help: "Audit log collaborator calls by operation and outcome",
	}, []string{"operation", "status"})

	kafkaPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fact_gateway_kafka_publishes_total",
		Help: "Kafka event publishes by topic and outcome",
	}, []string{"topic", "status"})
)

// SessionMetrics tracks metrics for a single capture session
type SessionMetrics struct {
	sessionID   string
	startTime   time.Time
	verifyStart map[string]time.Time
	mu          sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID:   sessionID,
		startTime:   time.Now(),
		verifyStart: make(map[string]time.Time),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
	connectionState.DeleteLabelValues(m.sessionID)
}

// RecordConnectionState records a live connection state transition
func (m *SessionMetrics) RecordConnectionState(state int) {
	connectionState.WithLabelValues(m.sessionID).Set(float64(state))
}

// RecordReconnect records a reconnection by trigger
func RecordReconnect(trigger string) {
	reconnectsTotal.WithLabelValues(trigger).Inc()
}

// RecordFrameSent records one transmitted audio frame
func RecordFrameSent(bytes int) {
	framesSent.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordFrameDropped records one dropped audio frame
func RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordAudioBytesIn records audio bytes received from the capture client
func RecordAudioBytesIn(bytes int) {
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordTranscriptEvent records a partial or final transcript event
func RecordTranscriptEvent(isFinal bool) {
	kind := "partial"
	if isFinal {
		kind = "final"
	}
	transcriptEvents.WithLabelValues(kind).Inc()
}

// RecordVerificationStart marks the dispatch time of a segment verification
func (m *SessionMetrics) RecordVerificationStart(segmentID string) {
	m.mu.Lock()
	m.verifyStart[segmentID] = time.Now()
	m.mu.Unlock()
}

// RecordVerificationEnd records the outcome of a segment verification
func (m *SessionMetrics) RecordVerificationEnd(segmentID, verdict string, success bool) {
	m.mu.Lock()
	if start, ok := m.verifyStart[segmentID]; ok {
		verificationLatency.Observe(time.Since(start).Seconds())
		delete(m.verifyStart, segmentID)
	}
	m.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	verificationsTotal.WithLabelValues(status).Inc()
	if success && verdict != "" {
		verdictsTotal.WithLabelValues(verdict).Inc()
	}
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordAuditLogCall records an audit log collaborator call
func RecordAuditLogCall(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	auditLogCalls.WithLabelValues(operation, status).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt
func RecordKafkaPublish(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	kafkaPublishes.WithLabelValues(topic, status).Inc()
}
