package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PriceCache is an in-memory cache of the latest price per symbol
// ⭐ SSOT: 가격 캐싱은 이 구조체에서만
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]*realtime.PriceTick
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewPriceCache creates a new price cache. ttl only affects Stats and CleanStale;
// staleness for exit decisions is judged by the engine from AsOf.
func NewPriceCache(ttl time.Duration, log *logger.Logger) *PriceCache {
	return &PriceCache{
		prices: make(map[string]*realtime.PriceTick),
		ttl:    ttl,
		logger: log.Component("price_cache"),
		now:    time.Now,
	}
}

// Update stores tick. Older data is rejected; the same timestamp is accepted
// only from a higher priority source.
func (c *PriceCache) Update(tick *realtime.PriceTick) bool {
	if tick == nil || tick.Symbol == "" || !tick.Price.IsPositive() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.prices[tick.Symbol]; ok {
		if tick.AsOf.Before(existing.AsOf) {
			c.logger.WithFields(map[string]interface{}{
				"symbol":     tick.Symbol,
				"new_time":   tick.AsOf,
				"old_time":   existing.AsOf,
				"new_source": tick.Source,
				"old_source": existing.Source,
			}).Debug("Rejected older price data")
			return false
		}
		if tick.AsOf.Equal(existing.AsOf) && tick.Source.Priority() <= existing.Source.Priority() {
			return false
		}
	}

	cp := *tick
	c.prices[tick.Symbol] = &cp
	return true
}

// Quote implements exit.PriceFeed
func (c *PriceCache) Quote(symbol string) (contracts.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, ok := c.prices[symbol]
	if !ok {
		return contracts.Quote{}, false
	}
	return tick.Quote(), true
}

// Get returns a copy of the cached tick
func (c *PriceCache) Get(symbol string) (realtime.PriceTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, ok := c.prices[symbol]
	if !ok {
		return realtime.PriceTick{}, false
	}
	return *tick, true
}

// Symbols returns cached symbols, sorted
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.prices))
	for s := range c.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Delete removes price from cache
func (c *PriceCache) Delete(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.prices, symbol)
}

// Len returns the number of prices in cache
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.prices)
}

// CleanStale removes prices older than ttl
func (c *PriceCache) CleanStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for symbol, tick := range c.prices {
		if now.Sub(tick.AsOf) > c.ttl {
			delete(c.prices, symbol)
			count++
		}
	}

	if count > 0 {
		c.logger.WithField("count", count).Info("Cleaned stale prices from cache")
	}
	return count
}

// Stats returns cache statistics
func (c *PriceCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{TotalCount: len(c.prices)}
	now := c.now()
	for _, tick := range c.prices {
		if now.Sub(tick.AsOf) > c.ttl {
			stats.StaleCount++
		}
		switch tick.Source {
		case realtime.SourceStream:
			stats.StreamCount++
		case realtime.SourceDB:
			stats.DBCount++
		}
	}
	stats.FreshCount = stats.TotalCount - stats.StaleCount
	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalCount  int `json:"total_count"`
	FreshCount  int `json:"fresh_count"`
	StaleCount  int `json:"stale_count"`
	StreamCount int `json:"stream_count"`
	DBCount     int `json:"db_count"`
}
