package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "assignments_total", Help: "Tasks successfully assigned to a rider"})
	AssignmentFails  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "assignment_failures_total", Help: "Matching passes that ended in assignment_failed"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "task_dispatch", Name: "match_latency_seconds", Help: "Latency of one matching pass"})
	ClaimConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "claim_conflicts_total", Help: "Claims lost to a concurrent matching pass"})

	WebhookDeliveries  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "webhook_deliveries_total", Help: "Lifecycle events delivered"})
	WebhookRetries     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "webhook_retries_total", Help: "Webhook delivery retry attempts"})
	WebhookDeadLetters = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "webhook_deadletters_total", Help: "Events moved to the dead-letter topic"})
	WebhookDropped     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "webhook_dropped_total", Help: "Events dropped because no webhook URL is configured"})

	ObserverBroadcasts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "task_dispatch", Name: "observer_broadcasts_total", Help: "Frames broadcast to realtime observers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "task_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "task_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
