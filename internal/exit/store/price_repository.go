package store

import (
	"context"
	"fmt"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// LoadQuotes reads the latest price per symbol from market.best_prices.
// Symbols without a row are omitted.
func (s *Store) LoadQuotes(ctx context.Context, symbols []string) ([]contracts.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, price, updated_ts
		FROM market.best_prices
		WHERE symbol = ANY($1)
	`, symbols)
	if err != nil {
		return nil, fmt.Errorf("query best prices: %w", err)
	}
	defer rows.Close()

	quotes := make([]contracts.Quote, 0, len(symbols))
	for rows.Next() {
		var q contracts.Quote
		if err := rows.Scan(&q.Symbol, &q.Price, &q.AsOf); err != nil {
			return nil, fmt.Errorf("scan best price: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate best prices: %w", err)
	}
	return quotes, nil
}
