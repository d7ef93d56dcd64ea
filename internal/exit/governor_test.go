package exit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

type stubControl struct {
	ctrl *contracts.ExitControl
	err  error
}

func (s *stubControl) GetControl(ctx context.Context) (*contracts.ExitControl, error) {
	return s.ctrl, s.err
}

func (s *stubControl) SetControl(ctx context.Context, c *contracts.ExitControl) error {
	if s.err != nil {
		return s.err
	}
	s.ctrl = c
	return nil
}

func TestAllows_Matrix(t *testing.T) {
	kinds := []TriggerKind{KindHardStop, KindLoss, KindProfit, KindEmergency}
	want := map[contracts.ControlMode][]bool{
		contracts.ControlModeRunning:          {true, true, true, true},
		contracts.ControlModePauseAll:         {true, false, false, true},
		contracts.ControlModePauseProfit:      {true, true, false, true},
		contracts.ControlModeEmergencyFlatten: {true, true, true, true},
	}

	for mode, allowed := range want {
		for i, k := range kinds {
			assert.Equal(t, allowed[i], Allows(mode, &FiredTrigger{Kind: k}), "%s/%s", mode, k)
		}
	}
	assert.Nil(t, Gate(contracts.ControlModeRunning))
}

func TestGovernor_Mode(t *testing.T) {
	ctx := context.Background()
	store := &stubControl{ctrl: &contracts.ExitControl{Mode: contracts.ControlModePauseProfit}}
	g := NewGovernor(store, logger.Nop())

	assert.Equal(t, contracts.ControlModePauseProfit, g.Mode(ctx))

	// 조회 실패: 마지막 모드 유지
	store.err = errors.New("connection refused")
	assert.Equal(t, contracts.ControlModePauseProfit, g.Mode(ctx))
}

func TestGovernor_ModeFallbackWithoutHistory(t *testing.T) {
	g := NewGovernor(&stubControl{err: errors.New("down")}, logger.Nop())
	assert.Equal(t, contracts.ControlModePauseAll, g.Mode(context.Background()))

	g = NewGovernor(&stubControl{ctrl: &contracts.ExitControl{Mode: "BOGUS"}}, logger.Nop())
	assert.Equal(t, contracts.ControlModePauseAll, g.Mode(context.Background()))
}

func TestGovernor_Set(t *testing.T) {
	ctx := context.Background()
	store := &stubControl{}
	g := NewGovernor(store, logger.Nop())

	_, err := g.Set(ctx, "HALT", "typo", "ops")
	assert.ErrorIs(t, err, ErrInvalidControlMode)

	ctrl, err := g.Set(ctx, contracts.ControlModeEmergencyFlatten, "broker outage", "ops")
	require.NoError(t, err)
	assert.Equal(t, contracts.ControlModeEmergencyFlatten, ctrl.Mode)
	assert.Equal(t, contracts.ControlModeEmergencyFlatten, g.Mode(ctx))
}

func TestEmergencyTrigger(t *testing.T) {
	pos := testPosition("10000", 37)
	tr := emergencyTrigger(pos)
	assert.Equal(t, contracts.TriggerEmergencyFlatten, tr.ID)
	assert.Equal(t, int64(37), tr.Qty)
	assert.Equal(t, contracts.IntentTypeExitFull, tr.IntentType)
	assert.Equal(t, contracts.OrderTypeMKT, tr.OrderType)
	assert.True(t, Allows(contracts.ControlModePauseAll, tr))
}
