package exit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

const profilesYAML = `
profiles:
  - profile_id: swing
    name: Swing
    is_active: true
    config:
      confirm_ticks: 3
      volatility:
        period: 14
        ref: 0.02
        factor_min: 0.7
        factor_max: 1.6
      sl1: {base_pct: -0.03, min_pct: -0.05, max_pct: -0.02, qty_pct: 0.5}
      sl2: {base_pct: -0.05, qty_pct: 1.0}
      tp1: {base_pct: 0.07, qty_pct: 0.1, stop_floor_profit: 0.006}
      tp2: {base_pct: 0.10, qty_pct: 0.2}
      tp3: {base_pct: 0.15, qty_pct: 0.3, start_trailing: true}
      trailing: {pct_trail: 0.03, partial_qty_pct: 0.2}
      hardstop: {enabled: true, pct: -0.10}
      custom_rules:
        - id: take-5
          enabled: true
          condition: profit_above
          threshold: 5
          exitPercent: 20
          priority: 1
`

func TestLoadProfilesYAML_PercentBoundary(t *testing.T) {
	profiles, err := LoadProfilesYAML([]byte(profilesYAML))
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	p := profiles[0]
	assert.Equal(t, "swing", p.ProfileID)
	assert.Equal(t, 3, p.Config.ConfirmTicks)
	require.Len(t, p.Config.CustomRules, 1)
	assert.Equal(t, 0.05, p.Config.CustomRules[0].ThresholdPct)
	assert.Equal(t, 0.2, p.Config.CustomRules[0].ExitPercent)
	assert.Equal(t, -0.03, p.Config.SL1.BasePct)
	require.NotNil(t, p.Config.SL1.MinPct)
	assert.Equal(t, -0.05, *p.Config.SL1.MinPct)
}

func TestLoadProfilesYAML_UnknownFieldRejected(t *testing.T) {
	_, err := LoadProfilesYAML([]byte(`
profiles:
  - profile_id: x
    name: x
    config:
      tp1: {base_pct: 0.07, qty_pct: 0.1, stop_flor_profit: 0.006}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_flor_profit")
}

func TestLoadProfilesYAML_InvalidProfileRejected(t *testing.T) {
	_, err := LoadProfilesYAML([]byte(`
profiles:
  - profile_id: greedy
    name: greedy
    config:
      tp1: {base_pct: 0.07, qty_pct: 0.5}
      tp2: {base_pct: 0.10, qty_pct: 0.4}
      tp3: {base_pct: 0.15, qty_pct: 0.3}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greedy")

	var verr contracts.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProfileDocument_RoundTripPreservesTriggers(t *testing.T) {
	orig := contracts.DefaultExitProfile()
	orig.ProfileID = "rt"
	orig.Config.CustomRules = []contracts.CustomExitRule{
		{ID: "r1", Enabled: true, Condition: contracts.ConditionProfitAbove, ThresholdPct: 0.07, ExitPercent: 0.29, Priority: 2},
		{ID: "r2", Enabled: true, Condition: contracts.ConditionProfitBelow, ThresholdPct: -0.035, ExitPercent: 1, Priority: 1},
	}

	t.Run("yaml", func(t *testing.T) {
		data, err := MarshalProfilesYAML([]*contracts.ExitProfile{orig})
		require.NoError(t, err)
		assert.Contains(t, string(data), "threshold: 7")
		assert.Contains(t, string(data), "exitPercent: 29")

		back, err := LoadProfilesYAML(data)
		require.NoError(t, err)
		require.Len(t, back, 1)
		assert.Equal(t, orig.Config, back[0].Config)
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(NewProfileDocument(orig))
		require.NoError(t, err)

		back, err := DecodeProfileJSON(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, orig.Config, back.Config)
	})
}

func TestDecodeProfileJSON_RejectsUnknownField(t *testing.T) {
	_, err := DecodeProfileJSON(strings.NewReader(`{"profile_id":"x","name":"x","config":{},"colour":"red"}`))
	require.Error(t, err)
}

func TestProfileHash_Stable(t *testing.T) {
	a, err := ProfileHash(contracts.DefaultExitProfile())
	require.NoError(t, err)
	b, err := ProfileHash(contracts.DefaultExitProfile())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	changed := contracts.DefaultExitProfile()
	changed.Config.TP1.BasePct = 0.08
	c, err := ProfileHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
