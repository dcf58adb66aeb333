package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "plg"

var (
	// WebhookRequestsTotal counts webhook deliveries by provider, event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "requests_total",
		Help:      "Total webhook requests by provider, event type and HTTP status.",
	}, []string{"provider", "event_type", "status"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// ActivationsTotal counts activation attempts by outcome
	// (activated, existing, limit_reached, rejected, error).
	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "activations_total",
		Help:      "Device activation attempts by outcome.",
	}, []string{"outcome"})

	DeactivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "deactivations_total",
		Help:      "Device deactivations by source.",
	}, []string{"source"})

	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "heartbeats_total",
		Help:      "Device heartbeats by result.",
	}, []string{"result"})

	TrialsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trial",
		Name:      "started_total",
		Help:      "Trials started.",
	})

	KeygenRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "keygen",
		Name:      "request_duration_seconds",
		Help:      "Keygen API latency by operation and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})

	SweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "affected_total",
		Help:      "Rows touched by the housekeeping sweeper by task.",
	}, []string{"task"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter.",
	}, []string{"route"})
)
