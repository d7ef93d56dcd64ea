package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

func customOnlyProfile(rules ...contracts.CustomExitRule) *contracts.ExitProfile {
	return &contracts.ExitProfile{
		ProfileID: "custom-only",
		Name:      "custom",
		IsActive:  true,
		Config:    contracts.ExitProfileConfig{CustomRules: rules},
	}
}

func TestCustomRules_PriorityOrderAndRemainingQty(t *testing.T) {
	profile := customOnlyProfile(
		contracts.CustomExitRule{ID: "late", Enabled: true, Condition: contracts.ConditionProfitAbove, ThresholdPct: 0.03, ExitPercent: 0.5, Priority: 20},
		contracts.CustomExitRule{ID: "early", Enabled: true, Condition: contracts.ConditionProfitAbove, ThresholdPct: 0.05, ExitPercent: 0.25, Priority: 10},
	)
	pos := testPosition("10000", 100)
	pos.Qty = 40
	s := contracts.NewPositionState(pos, dec("10000"))

	trig, s := fire(pos, "10600", s, profile)
	require.NotNil(t, trig)
	assert.Equal(t, contracts.CustomTriggerID("early"), trig.ID)
	assert.Equal(t, int64(10), trig.Qty, "25% of remaining 40, not original 100")
	assert.Equal(t, contracts.OrderTypeLMT, trig.OrderType)
	assert.Equal(t, KindProfit, trig.Kind)

	pos.Qty = 30
	trig, s = fire(pos, "10600", s, profile)
	require.NotNil(t, trig)
	assert.Equal(t, contracts.CustomTriggerID("late"), trig.ID)
	assert.Equal(t, int64(15), trig.Qty)

	trig, _ = fire(pos, "10600", s, profile)
	assert.Nil(t, trig, "fired rules stay fired until a phase reset")
}

func TestCustomRules_ProfitBelowIsLossKind(t *testing.T) {
	profile := customOnlyProfile(
		contracts.CustomExitRule{ID: "cut", Enabled: true, Condition: contracts.ConditionProfitBelow, ThresholdPct: -0.02, ExitPercent: 1.0, Priority: 1},
	)
	pos := testPosition("10000", 100)
	s := contracts.NewPositionState(pos, dec("10000"))

	d := evalAt(pos, "9800", s, profile)
	require.NotNil(t, d.Trigger)
	assert.Equal(t, KindLoss, d.Trigger.Kind)
	assert.Equal(t, contracts.OrderTypeMKT, d.Trigger.OrderType)
	assert.Equal(t, contracts.IntentTypeExitFull, d.Trigger.IntentType)

	d = Evaluate(EvalInput{Position: pos, Price: dec("9800"), State: s, Profile: profile, Now: evalNow,
		Allow: Gate(contracts.ControlModePauseProfit)})
	require.NotNil(t, d.Trigger, "loss rules run under PAUSE_PROFIT")
}

func TestCustomRules_DisabledSkipped(t *testing.T) {
	profile := customOnlyProfile(
		contracts.CustomExitRule{ID: "off", Enabled: false, Condition: contracts.ConditionProfitAbove, ThresholdPct: 0.01, ExitPercent: 0.5, Priority: 1},
	)
	pos := testPosition("10000", 100)
	s := contracts.NewPositionState(pos, dec("10000"))
	assert.Nil(t, evalAt(pos, "11000", s, profile).Trigger)
}

func TestCustomRules_RunAfterBaseTriggers(t *testing.T) {
	profile := contracts.DefaultExitProfile()
	profile.Config.CustomRules = []contracts.CustomExitRule{
		{ID: "early-take", Enabled: true, Condition: contracts.ConditionProfitAbove, ThresholdPct: 0.05, ExitPercent: 0.1, Priority: 1},
	}
	pos := testPosition("10000", 100)
	s := contracts.NewPositionState(pos, dec("10000"))

	trig, s := fire(pos, "10800", s, profile)
	require.NotNil(t, trig)
	assert.Equal(t, contracts.TriggerTP1, trig.ID)

	trig, _ = fire(pos, "10800", s, profile)
	require.NotNil(t, trig)
	assert.Equal(t, contracts.CustomTriggerID("early-take"), trig.ID)
}

func TestCustomRules_BlockedRuleDoesNotStopWalk(t *testing.T) {
	profile := customOnlyProfile(
		contracts.CustomExitRule{ID: "take", Enabled: true, Condition: contracts.ConditionProfitAbove, ThresholdPct: -0.5, ExitPercent: 0.5, Priority: 1},
		contracts.CustomExitRule{ID: "cut", Enabled: true, Condition: contracts.ConditionProfitBelow, ThresholdPct: -0.01, ExitPercent: 0.5, Priority: 2},
	)
	pos := testPosition("10000", 100)
	s := contracts.NewPositionState(pos, dec("10000"))

	d := Evaluate(EvalInput{Position: pos, Price: dec("9800"), State: s, Profile: profile, Now: evalNow,
		Allow: Gate(contracts.ControlModePauseProfit)})
	require.NotNil(t, d.Trigger)
	assert.Equal(t, contracts.CustomTriggerID("cut"), d.Trigger.ID)
	assert.Equal(t, []contracts.TriggerID{contracts.CustomTriggerID("take")}, d.Blocked)
}
