package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Presence metrics
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "murmur_connected_users",
			Help: "Users with a session in the connection registry",
		},
	)

	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_sessions_opened_total",
			Help: "Websocket sessions that reached the active state",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_auth_failures_total",
			Help: "Websocket handshakes rejected by the identity verifier",
		},
	)

	PresenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_presence_events_total",
			Help: "Presence transitions broadcast",
		},
		[]string{"event"}, // "online" or "offline"
	)

	SnapshotsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_roster_snapshots_total",
			Help: "Roster snapshots broadcast",
		},
	)

	// Relay metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_messages_sent_total",
			Help: "Messages persisted by the relay",
		},
		[]string{"target"}, // "direct" or "group"
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_messages_delivered_total",
			Help: "Live pushes of a persisted message to a recipient",
		},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_send_failures_total",
			Help: "Sends rejected or not persisted",
		},
		[]string{"reason"},
	)

	Receipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_receipts_total",
			Help: "Seen/read flag transitions",
		},
		[]string{"kind"},
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_slow_clients_dropped_total",
			Help: "Sessions closed because their send buffer was full",
		},
	)
)
