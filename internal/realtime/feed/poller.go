package feed

import (
	"context"
	"fmt"
	"sort"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// QuoteLoader reads the latest stored quote per symbol
type QuoteLoader interface {
	LoadQuotes(ctx context.Context, symbols []string) ([]contracts.Quote, error)
}

// HoldingsLister lists open positions; only their symbols are polled
type HoldingsLister interface {
	ListOpenPositions(ctx context.Context) ([]*contracts.Position, error)
}

// DBPoller refreshes the cache from market.best_prices for held symbols
type DBPoller struct {
	holdings HoldingsLister
	quotes   QuoteLoader
	cache    *cache.PriceCache
	logger   *logger.Logger
}

// NewDBPoller creates a poller
func NewDBPoller(holdings HoldingsLister, quotes QuoteLoader, priceCache *cache.PriceCache, log *logger.Logger) *DBPoller {
	return &DBPoller{
		holdings: holdings,
		quotes:   quotes,
		cache:    priceCache,
		logger:   log.Component("db_poller"),
	}
}

// HeldSymbols returns the distinct symbols of open positions
func (p *DBPoller) HeldSymbols(ctx context.Context) ([]string, error) {
	positions, err := p.holdings.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	seen := make(map[string]struct{}, len(positions))
	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		if _, ok := seen[pos.Symbol]; ok {
			continue
		}
		seen[pos.Symbol] = struct{}{}
		symbols = append(symbols, pos.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Refresh loads quotes for held symbols and returns how many were accepted
func (p *DBPoller) Refresh(ctx context.Context) (int, error) {
	symbols, err := p.HeldSymbols(ctx)
	if err != nil {
		return 0, err
	}
	if len(symbols) == 0 {
		return 0, nil
	}

	quotes, err := p.quotes.LoadQuotes(ctx, symbols)
	if err != nil {
		return 0, fmt.Errorf("load quotes: %w", err)
	}

	updated := 0
	for _, q := range quotes {
		if p.cache.Update(&realtime.PriceTick{Symbol: q.Symbol, Price: q.Price, AsOf: q.AsOf, Source: realtime.SourceDB}) {
			updated++
		}
	}

	p.logger.WithFields(map[string]interface{}{
		"symbols": len(symbols),
		"loaded":  len(quotes),
		"updated": updated,
	}).Debug("Price cache refreshed")
	return updated, nil
}
