package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Direction labels for message metrics.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zremote",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zremote",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zremote",
			Subsystem: "remote_api",
			Name:      "messages_total",
			Help:      "Remote API messages by direction, plane and variant.",
		},
		[]string{"direction", "plane", "variant"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zremote",
			Subsystem: "remote_api",
			Name:      "decode_errors_total",
			Help:      "Inbound messages that failed to decode, by error kind.",
		},
		[]string{"kind"},
	)
	violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zremote",
			Subsystem: "remote_api",
			Name:      "protocol_violations_total",
			Help:      "Messages rejected by the session state machine, by entity.",
		},
		[]string{"entity"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zremote",
			Subsystem: "remote_api",
			Name:      "sessions_active",
			Help:      "Open remote API sessions.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, messages, decodeErrors, violations, activeSessions)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessage(direction, plane, variant string) {
	RegisterMetrics()
	messages.WithLabelValues(direction, plane, variant).Inc()
}

func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

func RecordViolation(entity string) {
	RegisterMetrics()
	violations.WithLabelValues(entity).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}
