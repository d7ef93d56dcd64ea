package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/exitengine/internal/exit"
)

// ATRProvider computes ATR from daily bars. Daily bars change once a day,
// so results are cached per (symbol, period) until the date rolls over.
type ATRProvider struct {
	pool *pgxpool.Pool
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]atrEntry
}

type atrEntry struct {
	atr float64
	day string
}

var _ exit.VolatilityProvider = (*ATRProvider)(nil)

// NewATRProvider creates the provider
func NewATRProvider(s *Store) *ATRProvider {
	return &ATRProvider{pool: s.pool, now: time.Now, cache: make(map[string]atrEntry)}
}

// GetATR returns the SMA of true range over the last period bars (0 when no history)
func (p *ATRProvider) GetATR(ctx context.Context, symbol string, period int) (float64, error) {
	if period < 1 {
		period = 14
	}
	key := fmt.Sprintf("%s:%d", symbol, period)
	today := p.now().Format("2006-01-02")

	p.mu.Lock()
	if e, ok := p.cache[key]; ok && e.day == today {
		p.mu.Unlock()
		return e.atr, nil
	}
	p.mu.Unlock()

	query := `
		WITH daily_data AS (
			SELECT
				trade_date,
				high,
				low,
				close,
				LAG(close) OVER (ORDER BY trade_date) AS prev_close
			FROM data.daily_prices
			WHERE stock_code = $1
			ORDER BY trade_date DESC
			LIMIT $2 + 1
		),
		true_ranges AS (
			SELECT
				trade_date,
				GREATEST(
					high - low,
					ABS(high - prev_close),
					ABS(low - prev_close)
				) AS true_range
			FROM daily_data
			WHERE prev_close IS NOT NULL
			ORDER BY trade_date DESC
			LIMIT $2
		)
		SELECT COALESCE(AVG(true_range), 0)::float8 FROM true_ranges
	`

	var atr float64
	if err := p.pool.QueryRow(ctx, query, symbol, period).Scan(&atr); err != nil {
		return 0, fmt.Errorf("calculate ATR for %s: %w", symbol, err)
	}

	p.mu.Lock()
	p.cache[key] = atrEntry{atr: atr, day: today}
	p.mu.Unlock()
	return atr, nil
}
