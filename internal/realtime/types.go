package realtime

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// PriceTick represents a price update for one symbol
// ⭐ SSOT: 실시간 가격 데이터 구조
type PriceTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
	Source PriceSource     `json:"source"`
}

// Quote converts the tick to the engine's quote
func (t *PriceTick) Quote() contracts.Quote {
	return contracts.Quote{Symbol: t.Symbol, Price: t.Price, AsOf: t.AsOf}
}

// PriceSource represents the source of price data
type PriceSource string

const (
	SourceStream PriceSource = "STREAM" // websocket push
	SourceDB     PriceSource = "DB"     // market.best_prices poll
)

// Priority returns priority for source (higher = better)
func (s PriceSource) Priority() int {
	switch s {
	case SourceStream:
		return 2
	case SourceDB:
		return 1
	default:
		return 0
	}
}
