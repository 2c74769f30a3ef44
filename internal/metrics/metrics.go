// Package metrics exposes modhub's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modhub_connected_clients",
			Help: "Connected clients by handshake phase",
		},
		[]string{"phase"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_auth_attempts_total",
			Help: "Identify attempts by client type and result",
		},
		[]string{"client_type", "result"},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_messages_received_total",
			Help: "Client messages received by event name",
		},
		[]string{"event"},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_messages_dropped_total",
			Help: "Client messages dropped by reason",
		},
		[]string{"reason"},
	)

	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modhub_broadcasts_total",
			Help: "Events broadcast to authenticated clients",
		},
	)

	// Module metrics
	ModulesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modhub_modules_loaded",
			Help: "Number of registered modules",
		},
	)

	StateUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_state_updates_total",
			Help: "Committed state updates by module",
		},
		[]string{"module"},
	)

	CacheWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modhub_cache_write_duration_seconds",
			Help:    "State cache write duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module"},
	)

	CacheWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_cache_write_failures_total",
			Help: "Failed state cache writes by module",
		},
		[]string{"module"},
	)

	PushdownsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modhub_pushdowns_total",
			Help: "Events forwarded to clients by automatic pushdown",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_http_requests_total",
			Help: "HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(AuthAttemptsTotal)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(MessagesDroppedTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(ModulesLoaded)
	prometheus.MustRegister(StateUpdatesTotal)
	prometheus.MustRegister(CacheWriteDuration)
	prometheus.MustRegister(CacheWriteFailuresTotal)
	prometheus.MustRegister(PushdownsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed seconds on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
