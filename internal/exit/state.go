package exit

import (
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// 평단가 변화율 임계값
var (
	avgResetThreshold = decimal.NewFromFloat(0.02)  // 이상이면 새 phase (추가매수)
	avgNoiseThreshold = decimal.NewFromFloat(0.005) // 이하면 노이즈로 무시 (경계 포함)
)

// AvgPriceChange classifies an avg_price move against PositionState.LastAvgPrice
type AvgPriceChange string

const (
	AvgUnchanged   AvgPriceChange = "unchanged"
	AvgNoise       AvgPriceChange = "noise"        // Δ <= 0.5%, ignored entirely
	AvgPartialFill AvgPriceChange = "partial_fill" // 0.5% < Δ < 2%, keep phase
	AvgReset       AvgPriceChange = "reset"        // Δ >= 2%, new accumulation
)

// ApplyAvgPriceChange updates s in place for a new average price.
// price is the current market price, used as the new HWM on reset.
func ApplyAvgPriceChange(s *contracts.PositionState, newAvg, price decimal.Decimal) AvgPriceChange {
	if s.LastAvgPrice.IsZero() {
		s.LastAvgPrice = newAvg
		return AvgUnchanged
	}
	if newAvg.Equal(s.LastAvgPrice) {
		return AvgUnchanged
	}

	delta := newAvg.Sub(s.LastAvgPrice).Abs().Div(s.LastAvgPrice)

	switch {
	case delta.GreaterThanOrEqual(avgResetThreshold):
		resetPhase(s, newAvg, price)
		return AvgReset
	case delta.GreaterThan(avgNoiseThreshold):
		// 부분 체결: phase, fired, stop floor 유지
		s.LastAvgPrice = newAvg
		return AvgPartialFill
	default:
		return AvgNoise
	}
}

// OpenState returns the state to evaluate for pos: the stored one, a fresh one on
// first observation, or a reopened one when the stored state was archived.
func OpenState(stored *contracts.PositionState, pos *contracts.Position, price decimal.Decimal) *contracts.PositionState {
	if stored == nil {
		return contracts.NewPositionState(pos, price)
	}
	s := stored.Clone()
	if s.Phase == contracts.PhaseClosed {
		// 같은 position_id 재진입: generation을 올려 이전 action_key와 충돌 방지
		resetPhase(s, pos.AvgPrice, price)
	}
	if s.FiredTriggers == nil {
		s.FiredTriggers = make(map[contracts.TriggerID]bool)
	}
	return s
}

// resetPhase starts a new phase; Version is kept for the optimistic save
func resetPhase(s *contracts.PositionState, avg, price decimal.Decimal) {
	s.Phase = contracts.PhaseOpen
	s.FiredTriggers = make(map[contracts.TriggerID]bool)
	s.StopFloorPrice = nil
	s.StopFloorBreachTicks = 0
	s.TrailingBreachTicks = 0
	s.HWMPrice = price
	s.LastAvgPrice = avg
	s.Generation++
}
