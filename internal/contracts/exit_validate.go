package contracts

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ValidationError 프로파일 검증 실패 (쓰기 시점에 거부, evaluator까지 가지 않음)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const (
	// 이 범위를 벗어나면 percent-integer 값이 fraction 필드에 들어온 것으로 간주
	maxPlausibleFraction = 1.0
	qtySumTolerance      = 1e-9
)

// PercentToFraction converts percent-integer scale (7 = 7%) to fraction (0.07)
func PercentToFraction(pct float64) float64 {
	return decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)).InexactFloat64()
}

// FractionToPercent converts fraction (0.07) to percent-integer scale (7)
func FractionToPercent(frac float64) float64 {
	return decimal.NewFromFloat(frac).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// ValidateProfile checks a profile before it is written.
// Returns the first ValidationError found.
func ValidateProfile(p *ExitProfile) error {
	if p.ProfileID == "" {
		return ValidationError{"profile_id", "required"}
	}
	if p.Name == "" {
		return ValidationError{"name", "required"}
	}
	return ValidateProfileConfig(&p.Config)
}

// ValidateProfileConfig checks the trigger set alone
func ValidateProfileConfig(c *ExitProfileConfig) error {
	if c.ConfirmTicks < 0 {
		return ValidationError{"confirm_ticks", "must be >= 0"}
	}

	if v := c.Volatility; v != nil {
		if v.Period < 1 {
			return ValidationError{"volatility.period", "must be >= 1"}
		}
		if v.Ref <= 0 || v.Ref > maxPlausibleFraction {
			return ValidationError{"volatility.ref", "must be in (0, 1]"}
		}
		if v.FactorMin <= 0 || v.FactorMax < v.FactorMin {
			return ValidationError{"volatility", "require 0 < factor_min <= factor_max"}
		}
	}

	// 손절: threshold < 0
	for _, t := range []struct {
		field string
		cfg   *TriggerConfig
	}{{"sl1", c.SL1}, {"sl2", c.SL2}} {
		if t.cfg == nil {
			continue
		}
		if err := validateTrigger(t.field, t.cfg); err != nil {
			return err
		}
		if t.cfg.BasePct >= 0 {
			return ValidationError{t.field + ".base_pct", "stop-loss threshold must be negative"}
		}
	}

	// 익절: threshold > 0, Σqty_pct <= 1
	qtySum := 0.0
	for _, t := range []struct {
		field string
		cfg   *TriggerConfig
	}{{"tp1", c.TP1}, {"tp2", c.TP2}, {"tp3", c.TP3}} {
		if t.cfg == nil {
			continue
		}
		if err := validateTrigger(t.field, t.cfg); err != nil {
			return err
		}
		if t.cfg.BasePct <= 0 {
			return ValidationError{t.field + ".base_pct", "take-profit threshold must be positive"}
		}
		qtySum += t.cfg.QtyPct
	}
	if qtySum > 1.0+qtySumTolerance {
		return ValidationError{"tp.qty_pct", fmt.Sprintf("sum of tp1..tp3 qty_pct is %.4f, must be <= 1.0", qtySum)}
	}

	if c.TP1 != nil && c.TP1.StopFloorProfit != nil {
		sfp := *c.TP1.StopFloorProfit
		if math.Abs(sfp) > maxPlausibleFraction {
			return ValidationError{"tp1.stop_floor_profit", "outside plausible bounds [-1, 1]"}
		}
		if sfp >= c.TP1.BasePct {
			return ValidationError{"tp1.stop_floor_profit", "must be below tp1.base_pct"}
		}
	}

	if tr := c.Trailing; tr != nil {
		if tr.PctTrail <= 0 || tr.PctTrail >= maxPlausibleFraction {
			return ValidationError{"trailing.pct_trail", "must be in (0, 1)"}
		}
		if tr.PartialQtyPct <= 0 || tr.PartialQtyPct > 1 {
			return ValidationError{"trailing.partial_qty_pct", "must be in (0, 1]"}
		}
	}

	if ts := c.TimeStop; ts != nil {
		if ts.MaxHoldDays < 0 || ts.NoMomentumDays < 0 {
			return ValidationError{"time_stop", "days must be >= 0"}
		}
		if math.Abs(ts.NoMomentumProfit) > maxPlausibleFraction {
			return ValidationError{"time_stop.no_momentum_profit", "outside plausible bounds [-1, 1]"}
		}
	}

	if hs := c.HardStop; hs != nil && hs.Enabled {
		if hs.Pct >= 0 || hs.Pct < -maxPlausibleFraction {
			return ValidationError{"hardstop.pct", "must be in [-1, 0)"}
		}
	}

	seen := make(map[string]bool, len(c.CustomRules))
	for i, r := range c.CustomRules {
		field := fmt.Sprintf("custom_rules[%d]", i)
		if r.ID == "" {
			return ValidationError{field + ".id", "required"}
		}
		if seen[r.ID] {
			return ValidationError{field + ".id", fmt.Sprintf("duplicate id %q", r.ID)}
		}
		seen[r.ID] = true

		if r.Condition != ConditionProfitAbove && r.Condition != ConditionProfitBelow {
			return ValidationError{field + ".condition", fmt.Sprintf("unknown condition %q", r.Condition)}
		}
		if math.Abs(r.ThresholdPct) > maxPlausibleFraction {
			return ValidationError{field + ".threshold_pct", "outside plausible bounds [-1, 1]"}
		}
		if r.ExitPercent <= 0 || r.ExitPercent > 1 {
			return ValidationError{field + ".exit_percent", "must be in (0, 1]"}
		}
	}

	return nil
}

func validateTrigger(field string, t *TriggerConfig) error {
	if math.Abs(t.BasePct) > maxPlausibleFraction {
		return ValidationError{field + ".base_pct", "outside plausible bounds [-1, 1]"}
	}
	if t.QtyPct <= 0 || t.QtyPct > 1 {
		return ValidationError{field + ".qty_pct", "must be in (0, 1]"}
	}
	if t.MinPct != nil && math.Abs(*t.MinPct) > maxPlausibleFraction {
		return ValidationError{field + ".min_pct", "outside plausible bounds [-1, 1]"}
	}
	if t.MaxPct != nil && math.Abs(*t.MaxPct) > maxPlausibleFraction {
		return ValidationError{field + ".max_pct", "outside plausible bounds [-1, 1]"}
	}
	if t.MinPct != nil && t.MaxPct != nil && *t.MinPct > *t.MaxPct {
		return ValidationError{field, "min_pct must be <= max_pct"}
	}
	return nil
}
