package exit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exit engine metrics, served at /metrics
var (
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "exit",
		Subsystem: "engine",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one evaluation sweep over all open positions",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	})

	positionsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "engine",
		Name:      "positions_evaluated_total",
		Help:      "Positions evaluated",
	})

	positionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "engine",
		Name:      "positions_skipped_total",
		Help:      "Positions skipped, by reason (stale, disabled, locked)",
	}, []string{"reason"})

	positionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "engine",
		Name:      "position_errors_total",
		Help:      "Per-position evaluation failures (cycle discarded)",
	})

	triggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "evaluator",
		Name:      "triggers_selected_total",
		Help:      "Triggers selected by the evaluator, by reason code",
	}, []string{"reason"})

	triggersBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "governor",
		Name:      "triggers_blocked_total",
		Help:      "Triggers suppressed by the control mode",
	}, []string{"mode", "reason"})

	intentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "emitter",
		Name:      "intents_emitted_total",
		Help:      "Order intents created, by reason code and status",
	}, []string{"reason", "status"})

	intentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "emitter",
		Name:      "intents_dropped_total",
		Help:      "Intents not created (active intent exists or action key already emitted)",
	}, []string{"cause"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "state",
		Name:      "persist_failures_total",
		Help:      "State writes that exhausted retries",
	})

	resolverTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Profile resolutions by winning tier",
	}, []string{"tier"})

	reconcileCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exit",
		Subsystem: "reconcile",
		Name:      "intents_cancelled_total",
		Help:      "Duplicate active intents cancelled by reconciliation",
	})
)
