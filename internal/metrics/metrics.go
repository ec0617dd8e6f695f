package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hushroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Coordinator metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hushroom_ws_connections",
			Help: "Live websocket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hushroom_rooms_active",
			Help: "Room coordinators currently running",
		},
	)

	MessagesBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hushroom_messages_broadcast_total",
			Help: "Messages accepted and fanned out to peers",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushroom_messages_rejected_total",
			Help: "Messages rejected by the admission pipeline",
		},
		[]string{"code"},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushroom_connections_rejected_total",
			Help: "Connection attempts rejected before admission",
		},
		[]string{"reason"},
	)

	NameConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hushroom_name_conflicts_total",
			Help: "Display-name claims rejected for a differing fingerprint",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hushroom_rate_limit_hits_total",
			Help: "Messages rejected by the per-address rate limiter",
		},
	)

	// Persistence metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hushroom_messages_persisted_total",
			Help: "Messages durably written to the store",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hushroom_persist_failures_total",
			Help: "Store writes that failed after broadcast",
		},
	)

	DuplicateMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hushroom_duplicate_messages_total",
			Help: "Messages dropped by the store's (room, msg_id) uniqueness check",
		},
	)
)
