package jobs

import (
	"context"
	"time"

	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// DuplicateCanceller cancels all but one active intent per position
type DuplicateCanceller interface {
	CancelDuplicateActive(ctx context.Context) (int, error)
}

// ReconcileJob repairs duplicate active intents
type ReconcileJob struct {
	reconciler DuplicateCanceller
	interval   time.Duration
	logger     *logger.Logger
}

// NewReconcileJob creates the reconcile job
func NewReconcileJob(r DuplicateCanceller, interval time.Duration, log *logger.Logger) *ReconcileJob {
	return &ReconcileJob{reconciler: r, interval: interval, logger: log}
}

func (j *ReconcileJob) Name() string     { return "intent_reconcile" }
func (j *ReconcileJob) Schedule() string { return every(j.interval) }

func (j *ReconcileJob) Run(ctx context.Context) error {
	n, err := j.reconciler.CancelDuplicateActive(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.WithField("cancelled", n).Warn("Duplicate active intents cancelled")
	}
	return nil
}
