package exit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// TriggerKind groups triggers for the control governor
type TriggerKind string

const (
	KindHardStop  TriggerKind = "hardstop"
	KindLoss      TriggerKind = "loss"   // SL1, SL2, STOP_FLOOR, custom profit_below
	KindProfit    TriggerKind = "profit" // TP1..TP3, TRAIL, TRAIL_PARTIAL, TIME, custom profit_above
	KindEmergency TriggerKind = "emergency"
)

// FiredTrigger is the evaluator's selection for one cycle
type FiredTrigger struct {
	ID         contracts.TriggerID
	Kind       TriggerKind
	Qty        int64
	IntentType contracts.IntentType
	OrderType  contracts.OrderType
	LimitPrice *decimal.Decimal
	Detail     string
	Seq        int // > 0: re-emission within a phase, appended to the action key
}

// EvalInput is everything one evaluation needs; Evaluate has no other inputs
type EvalInput struct {
	Position *contracts.Position
	Price    decimal.Decimal
	State    *contracts.PositionState
	Profile  *contracts.ExitProfile
	// VolFactor scales SL/TP thresholds; 0 disables scaling and clamping
	VolFactor float64
	Now       time.Time
	// Allow is the governor gate; a blocked candidate is skipped, not fired. nil allows all.
	Allow func(*FiredTrigger) bool
}

// Decision is the evaluator output. Next carries the per-cycle observations
// (HWM, breach counters); fire side effects are applied separately by ApplyFire
// once the intent is emitted.
type Decision struct {
	Trigger   *FiredTrigger
	Blocked   []contracts.TriggerID
	Next      *contracts.PositionState
	ProfitPct decimal.Decimal
}

var one = decimal.NewFromInt(1)

// Evaluate walks TriggerPriority, then custom rules, and selects at most one trigger
// ⭐ SSOT: 청산 트리거 판정은 여기서만
func Evaluate(in EvalInput) Decision {
	next := in.State.Clone()
	if in.Price.GreaterThan(next.HWMPrice) {
		next.HWMPrice = in.Price
	}

	d := Decision{Next: next}
	pos := in.Position
	if pos.Qty <= 0 || !pos.AvgPrice.IsPositive() || !in.Price.IsPositive() {
		return d
	}

	cfg := &in.Profile.Config
	profit := in.Price.Sub(pos.AvgPrice).Div(pos.AvgPrice)
	d.ProfitPct = profit

	// breach 카운터는 각자 자기 조건으로만 증가/리셋
	stopFloorArmed := next.StopFloorPrice != nil && !next.HasFired(contracts.TriggerStopFloor)
	if stopFloorArmed && in.Price.LessThanOrEqual(*next.StopFloorPrice) {
		next.StopFloorBreachTicks++
	} else {
		next.StopFloorBreachTicks = 0
	}

	trailID, trailArmed := trailingTarget(cfg, next)
	drawdown := decimal.Zero
	if next.HWMPrice.IsPositive() {
		drawdown = in.Price.Sub(next.HWMPrice).Div(next.HWMPrice)
	}
	if trailArmed && drawdown.LessThanOrEqual(decimal.NewFromFloat(-cfg.Trailing.PctTrail)) {
		next.TrailingBreachTicks++
	} else {
		next.TrailingBreachTicks = 0
	}

	e := &evaluation{
		in:             in,
		cfg:            cfg,
		state:          next,
		profit:         profit,
		drawdown:       drawdown,
		confirmTicks:   cfg.EffectiveConfirmTicks(),
		stopFloorArmed: stopFloorArmed,
		trailID:        trailID,
		trailArmed:     trailArmed,
	}

	for _, id := range contracts.TriggerPriority {
		cand := e.candidate(id)
		if cand == nil || next.HasFired(cand.ID) {
			continue
		}
		if in.Allow != nil && !in.Allow(cand) {
			d.Blocked = append(d.Blocked, cand.ID)
			continue
		}
		d.Trigger = cand
		return d
	}

	for _, cand := range customCandidates(cfg.CustomRules, profit, next, pos, in.Price) {
		if in.Allow != nil && !in.Allow(cand) {
			d.Blocked = append(d.Blocked, cand.ID)
			continue
		}
		d.Trigger = cand
		return d
	}

	return d
}

// ApplyFire commits the side effects of an emitted trigger onto a copy of s
func ApplyFire(s *contracts.PositionState, pos *contracts.Position, profile *contracts.ExitProfile, t *FiredTrigger) *contracts.PositionState {
	next := s.Clone()
	next.FiredTriggers[t.ID] = true

	switch t.ID {
	case contracts.TriggerStopFloor:
		next.StopFloorBreachTicks = 0
	case contracts.TriggerTrail, contracts.TriggerTrailPartial:
		next.TrailingBreachTicks = 0
	case contracts.TriggerTP1:
		sfp := contracts.DefaultStopFloorProfit
		if tp1 := profile.Config.TP1; tp1 != nil && tp1.StopFloorProfit != nil {
			sfp = *tp1.StopFloorProfit
		}
		floor := pos.AvgPrice.Mul(one.Add(decimal.NewFromFloat(sfp)))
		// stop floor는 phase 내에서 내려가지 않음
		if next.StopFloorPrice == nil || floor.GreaterThan(*next.StopFloorPrice) {
			next.StopFloorPrice = &floor
		}
	}
	return next
}

// VolatilityFactor returns clamp(atrPct/ref, factor_min, factor_max)
func VolatilityFactor(v *contracts.VolatilityConfig, atrPct float64) float64 {
	if v == nil || v.Ref <= 0 || atrPct <= 0 {
		return 0
	}
	return clampFloat(atrPct/v.Ref, v.FactorMin, v.FactorMax)
}

// trailingTarget returns which trailing id is armed, if any.
// TP3(start_trailing) arms TRAIL over the full remainder; TP2 alone arms TRAIL_PARTIAL.
func trailingTarget(cfg *contracts.ExitProfileConfig, s *contracts.PositionState) (contracts.TriggerID, bool) {
	if cfg.Trailing == nil {
		return "", false
	}
	if cfg.TP3 != nil && cfg.TP3.StartTrailing && s.HasFired(contracts.TriggerTP3) {
		if s.HasFired(contracts.TriggerTrail) {
			return "", false
		}
		return contracts.TriggerTrail, true
	}
	if s.HasFired(contracts.TriggerTP2) && !s.HasFired(contracts.TriggerTrailPartial) {
		return contracts.TriggerTrailPartial, true
	}
	return "", false
}

type evaluation struct {
	in             EvalInput
	cfg            *contracts.ExitProfileConfig
	state          *contracts.PositionState
	profit         decimal.Decimal
	drawdown       decimal.Decimal
	confirmTicks   int
	stopFloorArmed bool
	trailID        contracts.TriggerID
	trailArmed     bool
}

func (e *evaluation) candidate(id contracts.TriggerID) *FiredTrigger {
	pos := e.in.Position

	switch id {
	case contracts.TriggerHardStop:
		hs := e.cfg.HardStop
		if hs == nil || !hs.Enabled {
			return nil
		}
		if e.profit.LessThanOrEqual(decimal.NewFromFloat(hs.Pct)) {
			return e.full(id, KindHardStop, e.detail(decimal.NewFromFloat(hs.Pct)))
		}

	case contracts.TriggerSL2:
		if e.cfg.SL2 == nil {
			return nil
		}
		if thr := e.threshold(e.cfg.SL2); e.profit.LessThanOrEqual(thr) {
			return e.full(id, KindLoss, e.detail(thr))
		}

	case contracts.TriggerStopFloor:
		if e.stopFloorArmed && e.state.StopFloorBreachTicks >= e.confirmTicks {
			return e.full(id, KindLoss, fmt.Sprintf("price=%s floor=%s ticks=%d",
				e.in.Price.String(), e.state.StopFloorPrice.String(), e.state.StopFloorBreachTicks))
		}

	case contracts.TriggerSL1:
		if e.cfg.SL1 == nil {
			return nil
		}
		if thr := e.threshold(e.cfg.SL1); e.profit.LessThanOrEqual(thr) {
			return e.sized(id, KindLoss, qtyOf(originalBasis(pos), e.cfg.SL1.QtyPct, pos.Qty), contracts.OrderTypeMKT, e.detail(thr))
		}

	case contracts.TriggerTP3, contracts.TriggerTP2, contracts.TriggerTP1:
		tc := e.tpConfig(id)
		if tc == nil {
			return nil
		}
		if thr := e.threshold(tc); e.profit.GreaterThanOrEqual(thr) {
			return e.sized(id, KindProfit, qtyOf(originalBasis(pos), tc.QtyPct, pos.Qty), contracts.OrderTypeLMT, e.detail(thr))
		}

	case contracts.TriggerTrail:
		if !e.trailArmed || e.state.TrailingBreachTicks < e.confirmTicks {
			return nil
		}
		detail := fmt.Sprintf("drawdown=%s hwm=%s ticks=%d", pctString(e.drawdown), e.state.HWMPrice.String(), e.state.TrailingBreachTicks)
		if e.trailID == contracts.TriggerTrail {
			return e.full(contracts.TriggerTrail, KindProfit, detail)
		}
		return e.sized(contracts.TriggerTrailPartial, KindProfit, qtyOf(pos.Qty, e.cfg.Trailing.PartialQtyPct, pos.Qty), contracts.OrderTypeMKT, detail)

	case contracts.TriggerTime:
		if detail, hit := e.timeStop(); hit {
			return e.full(id, KindProfit, detail)
		}
	}

	return nil
}

func (e *evaluation) tpConfig(id contracts.TriggerID) *contracts.TriggerConfig {
	switch id {
	case contracts.TriggerTP1:
		return e.cfg.TP1
	case contracts.TriggerTP2:
		return e.cfg.TP2
	default:
		return e.cfg.TP3
	}
}

// threshold applies volatility scaling and the [min_pct, max_pct] clamp
func (e *evaluation) threshold(tc *contracts.TriggerConfig) decimal.Decimal {
	if e.in.VolFactor <= 0 {
		return decimal.NewFromFloat(tc.BasePct)
	}
	t := tc.BasePct * e.in.VolFactor
	if tc.MinPct != nil && t < *tc.MinPct {
		t = *tc.MinPct
	}
	if tc.MaxPct != nil && t > *tc.MaxPct {
		t = *tc.MaxPct
	}
	return decimal.NewFromFloat(t)
}

func (e *evaluation) timeStop() (string, bool) {
	ts := e.cfg.TimeStop
	opened := e.in.Position.OpenedTS
	if ts == nil || opened.IsZero() {
		return "", false
	}
	days := int(e.in.Now.Sub(opened).Hours() / 24)

	if ts.MaxHoldDays > 0 && days >= ts.MaxHoldDays {
		return fmt.Sprintf("held %dd >= max %dd", days, ts.MaxHoldDays), true
	}
	if ts.NoMomentumDays > 0 && days >= ts.NoMomentumDays &&
		e.profit.LessThan(decimal.NewFromFloat(ts.NoMomentumProfit)) {
		return fmt.Sprintf("no momentum: held %dd, profit=%s < %s", days, pctString(e.profit), pctString(decimal.NewFromFloat(ts.NoMomentumProfit))), true
	}
	return "", false
}

func (e *evaluation) full(id contracts.TriggerID, kind TriggerKind, detail string) *FiredTrigger {
	return &FiredTrigger{
		ID:         id,
		Kind:       kind,
		Qty:        e.in.Position.Qty,
		IntentType: contracts.IntentTypeExitFull,
		OrderType:  contracts.OrderTypeMKT,
		Detail:     detail,
	}
}

func (e *evaluation) sized(id contracts.TriggerID, kind TriggerKind, qty int64, orderType contracts.OrderType, detail string) *FiredTrigger {
	return newSizedTrigger(id, kind, qty, e.in.Position.Qty, orderType, e.in.Price, detail)
}

func (e *evaluation) detail(threshold decimal.Decimal) string {
	return fmt.Sprintf("profit=%s threshold=%s", pctString(e.profit), pctString(threshold))
}

func newSizedTrigger(id contracts.TriggerID, kind TriggerKind, qty, remaining int64, orderType contracts.OrderType, price decimal.Decimal, detail string) *FiredTrigger {
	t := &FiredTrigger{
		ID:         id,
		Kind:       kind,
		Qty:        qty,
		IntentType: contracts.IntentTypeExitPartial,
		OrderType:  orderType,
		Detail:     detail,
	}
	if qty >= remaining {
		t.IntentType = contracts.IntentTypeExitFull
	}
	if orderType == contracts.OrderTypeLMT {
		limit := price
		t.LimitPrice = &limit
	}
	return t
}

// qtyOf returns floor(basis × pct), at least 1, capped at remaining
func qtyOf(basis int64, pct float64, remaining int64) int64 {
	q := decimal.NewFromInt(basis).Mul(decimal.NewFromFloat(pct)).Floor().IntPart()
	if q < 1 {
		q = 1
	}
	if q > remaining {
		q = remaining
	}
	return q
}

func originalBasis(pos *contracts.Position) int64 {
	if pos.OriginalQty > 0 {
		return pos.OriginalQty
	}
	return pos.Qty
}

func pctString(d decimal.Decimal) string {
	s := d.Mul(decimal.NewFromInt(100)).StringFixed(2)
	if d.IsPositive() {
		s = "+" + s
	}
	return s + "%"
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
