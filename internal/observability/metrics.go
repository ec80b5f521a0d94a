package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "store_operations_total", Help: "Store accessor operations by outcome"},
		[]string{"op", "outcome"},
	)
	StoreOpLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ride_session", Name: "store_operation_seconds", Help: "Store accessor operation latency", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	CASRetries      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_session", Name: "cas_retries_total", Help: "Read-modify-replace cycles retried after a version mismatch"}, []string{"op"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_session", Name: "accept_conflicts_total", Help: "Accept attempts lost to another driver"})
	MatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_session", Name: "matches_total", Help: "Trips claimed by drivers"})
	PollErrors      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_session", Name: "poll_errors_total", Help: "Failed background polls"}, []string{"loop"})
	Transitions     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "state_transitions_total", Help: "Client state machine transitions"},
		[]string{"machine", "to"},
	)
	EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_session", Name: "event_publish_errors_total", Help: "Lifecycle events that failed to publish"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_session",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_session", Name: "sessions_created_total", Help: "Session documents created"})
	DocumentWrites  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "document_writes_total", Help: "Document writes by route, If-Match mode and outcome"},
		[]string{"path", "mode", "outcome"},
	)
)
