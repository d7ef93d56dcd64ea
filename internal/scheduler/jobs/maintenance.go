package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PriceCacheTrimJob keeps the price cache to held symbols with recent quotes
type PriceCacheTrimJob struct {
	cache    *cache.PriceCache
	held     HeldSymbolSource
	interval time.Duration
	logger   *logger.Logger
}

// NewPriceCacheTrimJob creates the trim job; held may be nil (TTL cleanup only)
func NewPriceCacheTrimJob(priceCache *cache.PriceCache, held HeldSymbolSource, interval time.Duration, log *logger.Logger) *PriceCacheTrimJob {
	return &PriceCacheTrimJob{
		cache:    priceCache,
		held:     held,
		interval: interval,
		logger:   log.Component("price_cache_trim"),
	}
}

func (j *PriceCacheTrimJob) Name() string     { return "price_cache_trim" }
func (j *PriceCacheTrimJob) Schedule() string { return every(j.interval) }

// Run drops quotes past the cache TTL, then quotes for symbols no longer held
func (j *PriceCacheTrimJob) Run(ctx context.Context) error {
	stale := j.cache.CleanStale()
	if j.held == nil {
		return nil
	}

	symbols, err := j.held.HeldSymbols(ctx)
	if err != nil {
		return fmt.Errorf("held symbols: %w", err)
	}
	held := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		held[s] = true
	}

	dropped := 0
	for _, s := range j.cache.Symbols() {
		if !held[s] {
			j.cache.Delete(s)
			dropped++
		}
	}
	if stale+dropped > 0 {
		j.logger.WithFields(map[string]interface{}{
			"stale":     stale,
			"not_held":  dropped,
			"remaining": j.cache.Len(),
		}).Info("Price cache trimmed")
	}
	return nil
}
