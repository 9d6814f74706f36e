package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeInvalidPayload   = "invalid_payload"
	OutcomeFailed           = "failed"
)

var (
	// WebhookEventsTotal counts webhook deliveries by normalized type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paygate",
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paygate",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
)
