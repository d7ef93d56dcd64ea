package exit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// EmitterConfig controls intent status and throughput
type EmitterConfig struct {
	RequireApproval bool    // 모든 intent를 PENDING_APPROVAL로
	RatePerSec      float64 // <= 0 이면 무제한
}

// Emitter converts fired triggers into order intents, enforcing
// at most one active intent per position
type Emitter struct {
	store   IntentStore
	cfg     EmitterConfig
	limiter *rate.Limiter
	logger  *logger.Logger
	now     func() time.Time
}

// NewEmitter creates an emitter over the intent store
func NewEmitter(store IntentStore, cfg EmitterConfig, log *logger.Logger) *Emitter {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Emitter{
		store:   store,
		cfg:     cfg,
		limiter: limiter,
		logger:  log.Component("emitter"),
		now:     time.Now,
	}
}

// ActionKey is the idempotency key: {position_id}:{generation}:{reason}
func ActionKey(positionID uuid.UUID, generation int, reason contracts.TriggerID) string {
	return fmt.Sprintf("%s:%d:%s", positionID, generation, reason)
}

func triggerActionKey(pos *contracts.Position, s *contracts.PositionState, t *FiredTrigger) string {
	key := ActionKey(pos.PositionID, s.Generation, t.ID)
	if t.Seq > 0 {
		key = fmt.Sprintf("%s:%d", key, t.Seq)
	}
	return key
}

// Emit persists an intent for t, sized to the qty not already at the broker.
// Returns ErrDuplicateIntent when the position already has an active intent,
// ErrIntentExists when the action key was emitted before, ErrNoAvailableQty
// when SUBMITTED intents cover the whole position.
func (e *Emitter) Emit(ctx context.Context, pos *contracts.Position, s *contracts.PositionState, t *FiredTrigger) (*contracts.OrderIntent, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("intent rate limit: %w", err)
	}

	t, err := e.clampToAvailable(ctx, pos, t)
	if err != nil {
		return nil, err
	}

	now := e.now()
	intent := &contracts.OrderIntent{
		IntentID:     uuid.New(),
		PositionID:   pos.PositionID,
		Symbol:       pos.Symbol,
		IntentType:   t.IntentType,
		Qty:          t.Qty,
		OrderType:    t.OrderType,
		LimitPrice:   t.LimitPrice,
		ReasonCode:   t.ID,
		ReasonDetail: t.Detail,
		ActionKey:    triggerActionKey(pos, s, t),
		Status:       e.initialStatus(pos, t),
		CreatedTS:    now,
		UpdatedTS:    now,
	}

	log := e.logger.WithFields(map[string]interface{}{
		"position_id": pos.PositionID.String(),
		"symbol":      pos.Symbol,
		"reason":      t.ID,
		"qty":         t.Qty,
		"action_key":  intent.ActionKey,
	})

	err = e.store.CreateIfNoActive(ctx, intent)
	switch {
	case err == nil:
		intentsEmitted.WithLabelValues(string(t.ID), string(intent.Status)).Inc()
		log.WithFields(map[string]interface{}{
			"intent_id":  intent.IntentID.String(),
			"status":     intent.Status,
			"order_type": intent.OrderType,
			"detail":     t.Detail,
		}).Info("Exit intent created")
		return intent, nil
	case errors.Is(err, ErrIntentExists):
		intentsDropped.WithLabelValues("action_key_exists").Inc()
		log.Debug("Intent already emitted for action key")
		return nil, err
	case errors.Is(err, ErrDuplicateIntent):
		intentsDropped.WithLabelValues("active_intent").Inc()
		log.Warn("Trigger dropped: position already has an active intent")
		return nil, err
	default:
		return nil, fmt.Errorf("create intent: %w", err)
	}
}

// clampToAvailable caps t.Qty at qty − submitted; a capped trigger exits everything left
func (e *Emitter) clampToAvailable(ctx context.Context, pos *contracts.Position, t *FiredTrigger) (*FiredTrigger, error) {
	submitted, err := e.store.SubmittedQty(ctx, pos.PositionID)
	if err != nil {
		return nil, fmt.Errorf("submitted qty: %w", err)
	}
	available := pos.Qty - submitted
	if available <= 0 {
		intentsDropped.WithLabelValues("no_available_qty").Inc()
		return nil, fmt.Errorf("%w: qty=%d submitted=%d", ErrNoAvailableQty, pos.Qty, submitted)
	}
	if t.Qty <= available {
		return t, nil
	}

	e.logger.WithFields(map[string]interface{}{
		"position_id": pos.PositionID.String(),
		"reason":      t.ID,
		"qty":         t.Qty,
		"available":   available,
	}).Info("Trigger qty clamped to available qty")
	c := *t
	c.Qty = available
	c.IntentType = contracts.IntentTypeExitFull
	return &c, nil
}

func (e *Emitter) initialStatus(pos *contracts.Position, t *FiredTrigger) contracts.IntentStatus {
	if t.ID == contracts.TriggerEmergencyFlatten {
		return contracts.IntentStatusNew
	}
	if e.cfg.RequireApproval || pos.ExitMode == contracts.ExitModeManualApproval {
		return contracts.IntentStatusPendingApproval
	}
	return contracts.IntentStatusNew
}

// 라우터 콜백 허용 전이
var routerTransitions = map[contracts.IntentStatus][]contracts.IntentStatus{
	contracts.IntentStatusAck:       {contracts.IntentStatusNew},
	contracts.IntentStatusSubmitted: {contracts.IntentStatusNew, contracts.IntentStatusAck},
	contracts.IntentStatusFilled:    {contracts.IntentStatusAck, contracts.IntentStatusSubmitted},
	contracts.IntentStatusRejected:  {contracts.IntentStatusNew, contracts.IntentStatusAck, contracts.IntentStatusSubmitted},
}

// Approve moves PENDING_APPROVAL → NEW
func (e *Emitter) Approve(ctx context.Context, intentID uuid.UUID, by string) error {
	if err := e.store.TransitionStatus(ctx, intentID,
		[]contracts.IntentStatus{contracts.IntentStatusPendingApproval}, contracts.IntentStatusNew); err != nil {
		return err
	}
	e.logger.WithFields(map[string]interface{}{"intent_id": intentID.String(), "by": by}).Info("Intent approved")
	return nil
}

// Cancel cancels an active intent
func (e *Emitter) Cancel(ctx context.Context, intentID uuid.UUID, by string) error {
	if err := e.store.TransitionStatus(ctx, intentID,
		contracts.ActiveIntentStatuses[:], contracts.IntentStatusCancelled); err != nil {
		return err
	}
	e.logger.WithFields(map[string]interface{}{"intent_id": intentID.String(), "by": by}).Info("Intent cancelled")
	return nil
}

// UpdateStatus applies an order-router callback (ACK, SUBMITTED, FILLED, REJECTED)
func (e *Emitter) UpdateStatus(ctx context.Context, intentID uuid.UUID, to contracts.IntentStatus) error {
	from, ok := routerTransitions[to]
	if !ok {
		return fmt.Errorf("%w: router cannot set %s", ErrInvalidTransition, to)
	}
	return e.store.TransitionStatus(ctx, intentID, from, to)
}
