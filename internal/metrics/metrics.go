package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RuleExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kontor_rule_executions_total",
		Help: "Total rule executions recorded in the execution log, labelled by outcome class.",
	}, []string{"outcome"})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_events_processed_total",
		Help: "Total event feed entries consumed by the runner.",
	})

	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kontor_actions_dispatched_total",
		Help: "Total actions dispatched by the executor, labelled by type and status.",
	}, []string{"action_type", "status"})

	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kontor_webhook_attempts_total",
		Help: "Total outbound webhook attempts, labelled by result.",
	}, []string{"result"})

	PendingConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kontor_pending_confirmations_total",
		Help: "Pending action resolutions, labelled by final state.",
	}, []string{"state"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kontor_runner_duration_seconds",
		Help:    "Duration of a single runner invocation.",
		Buckets: prometheus.DefBuckets,
	})
)

// OutcomeClass collapses reason codes like "error_permanent:domain_not_allowed"
// into a bounded label set.
func OutcomeClass(outcome string) string {
	for i := 0; i < len(outcome); i++ {
		if outcome[i] == ':' {
			return outcome[:i]
		}
	}
	return outcome
}
