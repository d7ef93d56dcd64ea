package exit

import (
	"context"
	"sync"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// Governor reads the global control mode and gates triggers.
// Precedence: EMERGENCY_FLATTEN > HARDSTOP > mode gate > normal result.
type Governor struct {
	store  ControlStore
	logger *logger.Logger

	mu       sync.Mutex
	lastMode contracts.ControlMode
}

// NewGovernor creates a governor over the control store
func NewGovernor(store ControlStore, log *logger.Logger) *Governor {
	return &Governor{store: store, logger: log.Component("governor")}
}

// Mode reads the mode once per sweep. When the store is unreadable the last
// known mode is kept; with no history the governor falls back to PAUSE_ALL,
// which still lets HARDSTOP through.
func (g *Governor) Mode(ctx context.Context) contracts.ControlMode {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctrl, err := g.store.GetControl(ctx)
	if err == nil && ctrl != nil && ctrl.Mode.Valid() {
		if ctrl.Mode != g.lastMode && g.lastMode != "" {
			g.logger.WithFields(map[string]interface{}{
				"from": g.lastMode,
				"to":   ctrl.Mode,
				"by":   ctrl.UpdatedBy,
			}).Warn("Exit control mode changed")
		}
		g.lastMode = ctrl.Mode
		return ctrl.Mode
	}

	fallback := g.lastMode
	if fallback == "" {
		fallback = contracts.ControlModePauseAll
	}
	g.logger.WithError(err).WithField("mode", fallback).Warn("Control mode unavailable, using fallback")
	return fallback
}

// Set validates and writes a new mode
func (g *Governor) Set(ctx context.Context, mode contracts.ControlMode, reason, by string) (*contracts.ExitControl, error) {
	if !mode.Valid() {
		return nil, ErrInvalidControlMode
	}
	ctrl := &contracts.ExitControl{Mode: mode, Reason: reason, UpdatedBy: by}
	if err := g.store.SetControl(ctx, ctrl); err != nil {
		return nil, err
	}
	g.logger.WithFields(map[string]interface{}{
		"mode":   mode,
		"reason": reason,
		"by":     by,
	}).Warn("Exit control mode set")
	return ctrl, nil
}

// Allows reports whether a trigger may fire under mode.
// EMERGENCY_FLATTEN is handled before evaluation and lets everything through here.
func Allows(mode contracts.ControlMode, t *FiredTrigger) bool {
	if t.Kind == KindHardStop || t.Kind == KindEmergency {
		return true
	}
	switch mode {
	case contracts.ControlModePauseAll:
		return false
	case contracts.ControlModePauseProfit:
		return t.Kind != KindProfit
	default:
		return true
	}
}

// Gate binds Allows to a mode for EvalInput.Allow
func Gate(mode contracts.ControlMode) func(*FiredTrigger) bool {
	if mode == contracts.ControlModeRunning {
		return nil
	}
	return func(t *FiredTrigger) bool { return Allows(mode, t) }
}

// emergencyTrigger forces a full market exit of the remaining qty
func emergencyTrigger(pos *contracts.Position) *FiredTrigger {
	return &FiredTrigger{
		ID:         contracts.TriggerEmergencyFlatten,
		Kind:       KindEmergency,
		Qty:        pos.Qty,
		IntentType: contracts.IntentTypeExitFull,
		OrderType:  contracts.OrderTypeMKT,
		Detail:     "control mode EMERGENCY_FLATTEN",
	}
}
