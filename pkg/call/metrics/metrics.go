package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the call engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Message channel metrics
	MessagesSent      prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	DuplicateMessages prometheus.Counter
	ServerErrors      prometheus.Counter
	ConnectionLosses  prometheus.Counter
	TurnsAbandoned    prometheus.Counter
	ResponseLatency   prometheus.Histogram

	// Capture and playback metrics
	CaptureSessions *prometheus.CounterVec
	PlaybackClips   *prometheus.CounterVec

	// Live room metrics
	RoomJoins          *prometheus.CounterVec
	RoomSessionsActive prometheus.Gauge
}

// New creates a Metrics instance with every metric registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_call"
	}

	registry := prometheus.NewRegistry()

	messagesSent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of user messages sent over the message channel",
		},
	)

	messagesReceived := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages appended from the server",
		},
		[]string{"role"},
	)

	duplicateMessages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Total number of redelivered messages dropped by the timeline",
		},
	)

	serverErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Total number of error events received from the server",
		},
	)

	connectionLosses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_losses_total",
			Help:      "Total number of unexpected message channel disconnects",
		},
	)

	turnsAbandoned := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_abandoned_total",
			Help:      "Total number of user turns that ended without a reply",
		},
	)

	responseLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from sending a user message to the agent reply",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	captureSessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_total",
			Help:      "Total number of microphone capture attempts",
		},
		[]string{"outcome"},
	)

	playbackClips := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_clips_total",
			Help:      "Total number of agent audio clips by terminal outcome",
		},
		[]string{"outcome"},
	)

	roomJoins := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_joins_total",
			Help:      "Total number of live room join attempts",
		},
		[]string{"outcome"},
	)

	roomSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_sessions_active",
			Help:      "Number of connected live room sessions",
		},
	)

	registry.MustRegister(
		messagesSent,
		messagesReceived,
		duplicateMessages,
		serverErrors,
		connectionLosses,
		turnsAbandoned,
		responseLatency,
		captureSessions,
		playbackClips,
		roomJoins,
		roomSessionsActive,
	)

	return &Metrics{
		registry:           registry,
		MessagesSent:       messagesSent,
		MessagesReceived:   messagesReceived,
		DuplicateMessages:  duplicateMessages,
		ServerErrors:       serverErrors,
		ConnectionLosses:   connectionLosses,
		TurnsAbandoned:     turnsAbandoned,
		ResponseLatency:    responseLatency,
		CaptureSessions:    captureSessions,
		PlaybackClips:      playbackClips,
		RoomJoins:          roomJoins,
		RoomSessionsActive: roomSessionsActive,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordMessageSent records an outbound user message.
func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

// RecordMessageReceived records an appended server message.
func (m *Metrics) RecordMessageReceived(role string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(role).Inc()
}

// RecordDuplicate records a message dropped because its id was already present.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateMessages.Inc()
}

// RecordServerError records an inbound error event.
func (m *Metrics) RecordServerError() {
	if m == nil {
		return
	}
	m.ServerErrors.Inc()
}

// RecordConnectionLoss records an unexpected transport disconnect.
func (m *Metrics) RecordConnectionLoss() {
	if m == nil {
		return
	}
	m.ConnectionLosses.Inc()
}

// RecordTurnAbandoned records a turn that ended without a reply.
func (m *Metrics) RecordTurnAbandoned() {
	if m == nil {
		return
	}
	m.TurnsAbandoned.Inc()
}

// RecordResponseLatency records the time between a send and its reply.
func (m *Metrics) RecordResponseLatency(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.ResponseLatency.Observe(d.Seconds())
}

// RecordCapture records a capture attempt outcome (ok, permission_denied, ...).
func (m *Metrics) RecordCapture(outcome string) {
	if m == nil {
		return
	}
	m.CaptureSessions.WithLabelValues(outcome).Inc()
}

// RecordPlayback records a clip's terminal outcome (ended, paused, failed).
func (m *Metrics) RecordPlayback(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackClips.WithLabelValues(outcome).Inc()
}

// RecordRoomJoin records a join attempt outcome.
func (m *Metrics) RecordRoomJoin(outcome string) {
	if m == nil {
		return
	}
	m.RoomJoins.WithLabelValues(outcome).Inc()
}

// RecordRoomConnected records a room session reaching connected.
func (m *Metrics) RecordRoomConnected() {
	if m == nil {
		return
	}
	m.RoomSessionsActive.Inc()
}

// RecordRoomDisconnected records a connected room session ending.
func (m *Metrics) RecordRoomDisconnected() {
	if m == nil {
		return
	}
	m.RoomSessionsActive.Dec()
}
