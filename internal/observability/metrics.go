package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_tracking", Name: "events_ingested_total", Help: "Inbound events accepted by the router"},
		[]string{"type"},
	)
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_tracking", Name: "events_rejected_total", Help: "Inbound events rejected by validation"},
		[]string{"reason"},
	)
	BrokerPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_tracking", Name: "broker_publishes_total", Help: "Broker publish attempts by outcome"},
		[]string{"outcome"},
	)
	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "trip_tracking", Name: "broker_connected", Help: "1 when the broker connection is up"},
	)
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "trip_tracking", Name: "sessions_active", Help: "Live websocket sessions"},
	)
	BroadcastsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "trip_tracking", Name: "broadcasts_delivered_total", Help: "Events delivered to live sessions"},
	)
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "trip_tracking", Name: "persist_failures_total", Help: "Best-effort persistence failures"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
