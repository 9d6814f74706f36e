package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Checkout outcomes.
const (
	OutcomeSession     = "session"
	OutcomeWhitelisted = "whitelisted"
	OutcomeRejected    = "rejected"
	OutcomeConflict    = "conflict"
	OutcomeFailed      = "failed"
)

// CheckoutsTotal counts checkout requests by outcome.
var CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paygate",
	Name:      "checkout_total",
	Help:      "Checkout requests by outcome.",
}, []string{"outcome"})
