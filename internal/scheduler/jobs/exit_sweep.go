package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PriceRefresher pulls the latest quotes into the price cache
type PriceRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Sweeper runs one evaluation pass over all open positions
type Sweeper interface {
	Sweep(ctx context.Context) (*exit.SweepResult, error)
}

// ExitSweepJob is the tick: price refresh → sweep
// ⭐ SSOT: 청산 평가 주기는 이 job에서만
type ExitSweepJob struct {
	prices   PriceRefresher
	engine   Sweeper
	interval time.Duration
	logger   *logger.Logger
}

// NewExitSweepJob creates the sweep job; prices may be nil when the cache is push-fed
func NewExitSweepJob(prices PriceRefresher, engine Sweeper, interval time.Duration, log *logger.Logger) *ExitSweepJob {
	return &ExitSweepJob{
		prices:   prices,
		engine:   engine,
		interval: interval,
		logger:   log,
	}
}

// Name returns the job name
func (j *ExitSweepJob) Name() string {
	return "exit_sweep"
}

// Schedule returns the cron schedule
func (j *ExitSweepJob) Schedule() string {
	return every(j.interval)
}

// Run refreshes prices then sweeps. A refresh failure is logged only;
// the staleness guard skips positions whose cached quote is too old.
func (j *ExitSweepJob) Run(ctx context.Context) error {
	if j.prices != nil {
		if _, err := j.prices.Refresh(ctx); err != nil {
			j.logger.WithError(err).Warn("Price refresh failed, sweeping with cached prices")
		}
	}

	res, err := j.engine.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("exit sweep: %w", err)
	}
	if res.Intents > 0 || res.Errors > 0 {
		j.logger.WithFields(map[string]interface{}{
			"mode":      res.Mode,
			"positions": res.Positions,
			"intents":   res.Intents,
			"errors":    res.Errors,
		}).Info("Exit sweep produced intents")
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
