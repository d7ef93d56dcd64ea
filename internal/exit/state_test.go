package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

func TestApplyAvgPriceChange_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		newAvg     string
		want       AvgPriceChange
		wantLast   string
		wantGenInc bool
	}{
		{"same", "10000", AvgUnchanged, "10000", false},
		{"noise below", "10030", AvgNoise, "10000", false},
		{"noise at 0.5% boundary", "10050", AvgNoise, "10000", false},
		{"partial just above 0.5%", "10051", AvgPartialFill, "10051", false},
		{"partial 1%", "10100", AvgPartialFill, "10100", false},
		{"partial just below 2%", "10199", AvgPartialFill, "10199", false},
		{"reset at 2%", "10200", AvgReset, "10200", true},
		{"reset 3%", "10300", AvgReset, "10300", true},
		{"reset on decrease", "9700", AvgReset, "9700", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := testPosition("10000", 100)
			s := contracts.NewPositionState(pos, dec("10000"))
			floor := dec("10060")
			s.StopFloorPrice = &floor
			s.FiredTriggers[contracts.TriggerTP1] = true
			s.StopFloorBreachTicks = 1

			got := ApplyAvgPriceChange(s, dec(tt.newAvg), dec("10500"))

			assert.Equal(t, tt.want, got)
			assert.True(t, s.LastAvgPrice.Equal(dec(tt.wantLast)), "last=%s", s.LastAvgPrice)
			if tt.wantGenInc {
				assert.Equal(t, 1, s.Generation)
				assert.Empty(t, s.FiredTriggers)
				assert.Nil(t, s.StopFloorPrice)
				assert.Zero(t, s.StopFloorBreachTicks)
				assert.True(t, s.HWMPrice.Equal(dec("10500")))
				assert.Equal(t, contracts.PhaseOpen, s.Phase)
				return
			}
			assert.Zero(t, s.Generation)
			assert.True(t, s.HasFired(contracts.TriggerTP1))
			require.NotNil(t, s.StopFloorPrice)
			assert.True(t, s.StopFloorPrice.Equal(floor))
		})
	}
}

func TestApplyAvgPriceChange_FirstObservation(t *testing.T) {
	s := &contracts.PositionState{FiredTriggers: map[contracts.TriggerID]bool{}}
	assert.Equal(t, AvgUnchanged, ApplyAvgPriceChange(s, dec("5000"), dec("5100")))
	assert.True(t, s.LastAvgPrice.Equal(dec("5000")))
}

func TestScenarioC_AvgResetRearmsTP1(t *testing.T) {
	profile := contracts.DefaultExitProfile()
	pos := testPosition("10000", 100)
	s := contracts.NewPositionState(pos, dec("10000"))

	trig, s := fire(pos, "10700", s, profile)
	require.NotNil(t, trig)
	require.Equal(t, contracts.TriggerTP1, trig.ID)

	// 추가매수로 평단 +3%
	pos.AvgPrice = dec("10300")
	pos.Qty = 150
	change := ApplyAvgPriceChange(s, pos.AvgPrice, dec("10700"))
	require.Equal(t, AvgReset, change)
	assert.Equal(t, contracts.PhaseOpen, s.Phase)
	assert.Empty(t, s.FiredTriggers)
	assert.Nil(t, s.StopFloorPrice)

	trig, s = fire(pos, "11100", s, profile) // +7.77% on the new average
	require.NotNil(t, trig)
	assert.Equal(t, contracts.TriggerTP1, trig.ID)
	require.NotNil(t, s.StopFloorPrice)
	assert.True(t, s.StopFloorPrice.Equal(dec("10361.8")))
}

func TestOpenState(t *testing.T) {
	pos := testPosition("10000", 100)

	t.Run("first observation", func(t *testing.T) {
		s := OpenState(nil, pos, dec("10100"))
		assert.Equal(t, pos.PositionID, s.PositionID)
		assert.Equal(t, contracts.PhaseOpen, s.Phase)
		assert.True(t, s.HWMPrice.Equal(dec("10100")))
		assert.True(t, s.LastAvgPrice.Equal(dec("10000")))
		assert.Zero(t, s.Generation)
		assert.Zero(t, s.Version)
	})

	t.Run("stored open state is cloned", func(t *testing.T) {
		stored := contracts.NewPositionState(pos, dec("10400"))
		stored.FiredTriggers[contracts.TriggerTP1] = true
		stored.Version = 4

		s := OpenState(stored, pos, dec("10100"))
		assert.True(t, s.HasFired(contracts.TriggerTP1))
		assert.True(t, s.HWMPrice.Equal(dec("10400")))
		assert.Equal(t, 4, s.Version)

		s.FiredTriggers[contracts.TriggerTP2] = true
		assert.False(t, stored.HasFired(contracts.TriggerTP2))
	})

	t.Run("closed state reopens with new generation", func(t *testing.T) {
		stored := contracts.NewPositionState(pos, dec("12000"))
		stored.Phase = contracts.PhaseClosed
		stored.FiredTriggers[contracts.TriggerTrail] = true
		stored.Generation = 2
		stored.Version = 9

		s := OpenState(stored, pos, dec("9900"))
		assert.Equal(t, contracts.PhaseOpen, s.Phase)
		assert.Equal(t, 3, s.Generation)
		assert.Empty(t, s.FiredTriggers)
		assert.True(t, s.HWMPrice.Equal(dec("9900")))
		assert.Equal(t, 9, s.Version, "version kept for optimistic save")
	})
}
