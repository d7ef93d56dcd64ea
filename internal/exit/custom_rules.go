package exit

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// customCandidates returns matching, enabled, not-yet-fired custom rules in
// ascending priority. Sized against the remaining qty, not original_qty.
func customCandidates(rules []contracts.CustomExitRule, profit decimal.Decimal, s *contracts.PositionState, pos *contracts.Position, price decimal.Decimal) []*FiredTrigger {
	if len(rules) == 0 {
		return nil
	}

	ordered := make([]contracts.CustomExitRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var out []*FiredTrigger
	for _, r := range ordered {
		if !r.Enabled {
			continue
		}
		id := contracts.CustomTriggerID(r.ID)
		if s.HasFired(id) {
			continue
		}

		thr := decimal.NewFromFloat(r.ThresholdPct)
		var (
			matched   bool
			kind      TriggerKind
			orderType contracts.OrderType
		)
		switch r.Condition {
		case contracts.ConditionProfitAbove:
			matched = profit.GreaterThanOrEqual(thr)
			kind, orderType = KindProfit, contracts.OrderTypeLMT
		case contracts.ConditionProfitBelow:
			matched = profit.LessThanOrEqual(thr)
			kind, orderType = KindLoss, contracts.OrderTypeMKT
		}
		if !matched {
			continue
		}

		detail := fmt.Sprintf("%s profit=%s threshold=%s", r.Condition, pctString(profit), pctString(thr))
		if r.Description != "" {
			detail += " (" + r.Description + ")"
		}
		out = append(out, newSizedTrigger(id, kind, qtyOf(pos.Qty, r.ExitPercent, pos.Qty), pos.Qty, orderType, price, detail))
	}
	return out
}
