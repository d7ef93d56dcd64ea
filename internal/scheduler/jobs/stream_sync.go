package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// HeldSymbolSource lists symbols with open positions
type HeldSymbolSource interface {
	HeldSymbols(ctx context.Context) ([]string, error)
}

// SymbolSyncer follows a symbol set (quote stream subscriptions)
type SymbolSyncer interface {
	Sync(symbols []string) error
}

// StreamSyncJob keeps quote stream subscriptions equal to the held symbols
type StreamSyncJob struct {
	source   HeldSymbolSource
	stream   SymbolSyncer
	interval time.Duration
	logger   *logger.Logger
}

// NewStreamSyncJob creates the stream sync job
func NewStreamSyncJob(source HeldSymbolSource, stream SymbolSyncer, interval time.Duration, log *logger.Logger) *StreamSyncJob {
	return &StreamSyncJob{source: source, stream: stream, interval: interval, logger: log}
}

func (j *StreamSyncJob) Name() string     { return "stream_sync" }
func (j *StreamSyncJob) Schedule() string { return every(j.interval) }

func (j *StreamSyncJob) Run(ctx context.Context) error {
	symbols, err := j.source.HeldSymbols(ctx)
	if err != nil {
		return err
	}
	if err := j.stream.Sync(symbols); err != nil {
		return fmt.Errorf("sync stream symbols: %w", err)
	}
	return nil
}
