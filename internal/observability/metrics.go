package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safety_tracking"

var (
	SOSTriggers        = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "sos_triggers_total", Help: "SOS trigger outcomes"}, []string{"outcome"})
	SupplementaryFails = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sos_marker_write_failures_total", Help: "Failed best-effort SOS location writes"})

	TrackingFetches  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "tracking_fetches_total", Help: "Route fetches by kind and result"}, []string{"kind", "result"})
	TrackingSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tracking_sessions_open", Help: "Number of open tracking sessions"})
	DroppedPoints    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_dropped_points_total", Help: "Malformed location points dropped during reconstruction"})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "alert_transitions_total", Help: "Alert status transitions applied"}, []string{"to"})
	SearchRadius     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "responder_search_radius_meters", Help: "Radius reached by the responder search", Buckets: []float64{500, 1000, 2500, 5000, 10000, 25000}})
	ResponderUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "responder_position_updates_total", Help: "Responder position updates accepted"})
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "consumer_messages_total", Help: "Responder position messages by result"}, []string{"result"})
	PublishFailures  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "publish_failures_total", Help: "Failed broker publishes by topic kind"}, []string{"kind"})
	WSConnections    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections", Help: "Connected responder websockets"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
