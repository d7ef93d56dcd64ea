package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerPriority_Order(t *testing.T) {
	want := []TriggerID{
		TriggerHardStop, TriggerSL2, TriggerStopFloor, TriggerSL1,
		TriggerTP3, TriggerTP2, TriggerTP1, TriggerTrail, TriggerTime,
	}
	assert.Equal(t, want, TriggerPriority[:])
}

func TestActiveIntentStatuses(t *testing.T) {
	assert.ElementsMatch(t,
		[]IntentStatus{IntentStatusPendingApproval, IntentStatusNew, IntentStatusAck},
		ActiveIntentStatuses[:])

	for _, s := range []IntentStatus{IntentStatusSubmitted, IntentStatusFilled, IntentStatusRejected, IntentStatusCancelled} {
		assert.False(t, s.IsActive(), s)
	}
	assert.Equal(t, []string{"PENDING_APPROVAL", "NEW", "ACK"}, ActiveIntentStatusStrings())
	assert.True(t, IntentStatusCancelled.IsTerminal())
	assert.False(t, IntentStatusAck.IsTerminal())
}

func TestPercentConversion_BothWays(t *testing.T) {
	tests := []struct {
		percent  float64
		fraction float64
	}{
		{7, 0.07},
		{-3, -0.03},
		{20, 0.2},
		{12.5, 0.125},
		{-3.5, -0.035},
		{0, 0},
		{100, 1},
		{0.6, 0.006},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.fraction, PercentToFraction(tt.percent), "PercentToFraction(%v)", tt.percent)
		assert.Equal(t, tt.percent, FractionToPercent(tt.fraction), "FractionToPercent(%v)", tt.fraction)
		assert.Equal(t, tt.percent, FractionToPercent(PercentToFraction(tt.percent)), "round trip %v", tt.percent)
	}
}

func TestCustomTriggerID(t *testing.T) {
	id := CustomTriggerID("r1")
	assert.Equal(t, TriggerID("CUSTOM:r1"), id)
	assert.True(t, id.IsCustom())
	assert.False(t, TriggerTP1.IsCustom())
	assert.False(t, TriggerID("CUSTOM:").IsCustom())
}

func TestPositionState_CloneIsDeep(t *testing.T) {
	floor := decimal.NewFromInt(10060)
	s := &PositionState{
		PositionID:     uuid.New(),
		Phase:          PhaseOpen,
		StopFloorPrice: &floor,
		FiredTriggers:  map[TriggerID]bool{TriggerTP1: true},
	}

	c := s.Clone()
	c.FiredTriggers[TriggerTP2] = true
	*c.StopFloorPrice = decimal.NewFromInt(1)

	assert.False(t, s.HasFired(TriggerTP2))
	assert.True(t, s.StopFloorPrice.Equal(decimal.NewFromInt(10060)))
}

func TestPositionState_FiredListOrder(t *testing.T) {
	s := &PositionState{FiredTriggers: map[TriggerID]bool{
		CustomTriggerID("x"): true,
		TriggerTP1:           true,
		TriggerTrailPartial:  true,
		TriggerTP2:           true,
	}}
	assert.Equal(t, []TriggerID{TriggerTP2, TriggerTP1, TriggerTrailPartial, CustomTriggerID("x")}, s.FiredList())
}

func TestDefaultExitProfile_IsValid(t *testing.T) {
	p := DefaultExitProfile()
	require.NoError(t, ValidateProfile(p))
	assert.Equal(t, DefaultConfirmTicks, p.Config.EffectiveConfirmTicks())
}

func TestExitProfileConfig_ZeroThresholdIsNotDisabled(t *testing.T) {
	// base_pct 0은 "비활성"과 구분되어야 함
	raw := `{"tp1":{"base_pct":0,"qty_pct":0.1}}`
	var cfg ExitProfileConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))

	require.NotNil(t, cfg.TP1)
	assert.Equal(t, 0.0, cfg.TP1.BasePct)
	assert.Nil(t, cfg.TP2)
	assert.Nil(t, cfg.SL1)
}

func TestExitProfile_JSONRoundTrip(t *testing.T) {
	p := DefaultExitProfile()
	min, max := 0.05, 0.09
	p.Config.TP1.MinPct, p.Config.TP1.MaxPct = &min, &max
	p.Config.Volatility = &VolatilityConfig{Period: 14, Ref: 0.02, FactorMin: 0.7, FactorMax: 1.6}
	p.Config.TimeStop = &TimeStopConfig{MaxHoldDays: 10, NoMomentumDays: 3, NoMomentumProfit: 0.02}
	p.Config.CustomRules = []CustomExitRule{
		{ID: "r1", Enabled: true, Condition: ConditionProfitAbove, ThresholdPct: 0.07, ExitPercent: 0.2, Priority: 1},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back ExitProfile
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p.Config, back.Config)
}

func TestValidateProfile(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		mutate func(c *ExitProfileConfig)
		field  string
	}{
		{"tp qty sum over one", func(c *ExitProfileConfig) { c.TP3.QtyPct = 0.8 }, "tp.qty_pct"},
		{"unknown custom condition", func(c *ExitProfileConfig) {
			c.CustomRules = []CustomExitRule{{ID: "a", Condition: "profit_sideways", ExitPercent: 0.1}}
		}, "custom_rules[0].condition"},
		{"percent scale leaked into tp", func(c *ExitProfileConfig) { c.TP1.BasePct = 7 }, "tp1.base_pct"},
		{"percent scale leaked into custom threshold", func(c *ExitProfileConfig) {
			c.CustomRules = []CustomExitRule{{ID: "a", Condition: ConditionProfitAbove, ThresholdPct: 7, ExitPercent: 0.2}}
		}, "custom_rules[0].threshold_pct"},
		{"custom exit percent as integer", func(c *ExitProfileConfig) {
			c.CustomRules = []CustomExitRule{{ID: "a", Condition: ConditionProfitAbove, ThresholdPct: 0.07, ExitPercent: 20}}
		}, "custom_rules[0].exit_percent"},
		{"duplicate custom id", func(c *ExitProfileConfig) {
			r := CustomExitRule{ID: "a", Condition: ConditionProfitBelow, ThresholdPct: -0.02, ExitPercent: 0.5}
			c.CustomRules = []CustomExitRule{r, r}
		}, "custom_rules[1].id"},
		{"positive stop loss", func(c *ExitProfileConfig) { c.SL1.BasePct = 0.03 }, "sl1.base_pct"},
		{"negative take profit", func(c *ExitProfileConfig) { c.TP2.BasePct = -0.01 }, "tp2.base_pct"},
		{"zero qty", func(c *ExitProfileConfig) { c.SL1.QtyPct = 0 }, "sl1.qty_pct"},
		{"min above max", func(c *ExitProfileConfig) { c.TP1.MinPct, c.TP1.MaxPct = f(0.09), f(0.05) }, "tp1"},
		{"stop floor above tp1", func(c *ExitProfileConfig) { c.TP1.StopFloorProfit = f(0.08) }, "tp1.stop_floor_profit"},
		{"trailing zero", func(c *ExitProfileConfig) { c.Trailing.PctTrail = 0 }, "trailing.pct_trail"},
		{"hardstop positive", func(c *ExitProfileConfig) { c.HardStop.Pct = 0.1 }, "hardstop.pct"},
		{"negative confirm ticks", func(c *ExitProfileConfig) { c.ConfirmTicks = -1 }, "confirm_ticks"},
		{"bad volatility factors", func(c *ExitProfileConfig) {
			c.Volatility = &VolatilityConfig{Period: 14, Ref: 0.02, FactorMin: 1.5, FactorMax: 1.0}
		}, "volatility"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultExitProfile()
			tt.mutate(&p.Config)

			err := ValidateProfile(p)
			require.Error(t, err)

			var verr ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateProfile_RequiredFields(t *testing.T) {
	p := DefaultExitProfile()
	p.ProfileID = ""
	assert.EqualError(t, ValidateProfile(p), "profile_id: required")

	p = DefaultExitProfile()
	p.Name = ""
	assert.EqualError(t, ValidateProfile(p), "name: required")
}

func TestValidateProfile_TPQtySumBoundary(t *testing.T) {
	// 정확히 1.0은 허용
	p := DefaultExitProfile()
	p.Config.TP1.QtyPct, p.Config.TP2.QtyPct, p.Config.TP3.QtyPct = 0.3, 0.3, 0.4
	assert.NoError(t, ValidateProfile(p))
}

func TestSymbolOverride_IsEffective(t *testing.T) {
	now := mustTime(t, "2026-01-10T09:00:00Z")
	later := now.Add(1)

	assert.True(t, (&SymbolOverride{Enabled: true}).IsEffective(now))
	assert.False(t, (&SymbolOverride{Enabled: false}).IsEffective(now))
	assert.True(t, (&SymbolOverride{Enabled: true, EffectiveFrom: &now}).IsEffective(now))
	assert.False(t, (&SymbolOverride{Enabled: true, EffectiveFrom: &later}).IsEffective(now))
}

func TestControlMode_Valid(t *testing.T) {
	assert.True(t, ControlModePauseProfit.Valid())
	assert.False(t, ControlMode("HALT").Valid())
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
