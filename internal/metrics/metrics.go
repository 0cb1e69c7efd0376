package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synchronizer metrics
	LiveEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_live_events_total",
			Help: "Inbound live events by decode result",
		},
		[]string{"result"}, // "ok" or "decode_error"
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Outbound sendMessage emissions",
		},
		[]string{"result"},
	)

	PersistWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_persist_writes_total",
			Help: "Directional store writes",
		},
		[]string{"result"},
	)

	StoreReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_store_read_duration_seconds",
			Help:    "Message store range read latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"}, // "history" or "latest"
	)

	// Relay metrics
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_relay_connections",
			Help: "Open websocket connections on this relay instance",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_relay_messages_total",
			Help: "Frames handled by the relay",
		},
		[]string{"outcome"}, // "relayed", "rejected", "malformed"
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)
)
