package exit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// EngineConfig sweep settings
type EngineConfig struct {
	StaleAfter     time.Duration
	Workers        int
	PersistRetries int
	PersistBackoff time.Duration
}

// EngineDeps collaborators of the engine; Volatility may be nil
type EngineDeps struct {
	Positions  PositionStore
	States     StateStore
	Intents    IntentStore
	Prices     PriceFeed
	Volatility VolatilityProvider
	Resolver   *Resolver
	Governor   *Governor
	Emitter    *Emitter
}

// Outcome of one position evaluation
type Outcome string

const (
	OutcomeNoTrigger Outcome = "no_trigger"
	OutcomeIntent    Outcome = "intent"
	OutcomeDropped   Outcome = "dropped" // active intent exists / action key already emitted
	OutcomeBlocked   Outcome = "blocked" // governor suppressed every candidate
	OutcomeStale     Outcome = "stale"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeLocked    Outcome = "locked" // overlapping evaluation in progress
)

// PositionResult describes one position's cycle
type PositionResult struct {
	PositionID uuid.UUID
	Outcome    Outcome
	Trigger    contracts.TriggerID
	Intent     *contracts.OrderIntent
	AvgChange  AvgPriceChange
	Tier       ResolveTier
}

// SweepResult summarises one sweep
type SweepResult struct {
	Mode      contracts.ControlMode
	Positions int
	Evaluated int
	Intents   int
	Skipped   int
	Errors    int
	Archived  int
	Duration  time.Duration
}

func (r *SweepResult) record(p *PositionResult) {
	switch p.Outcome {
	case OutcomeStale, OutcomeDisabled, OutcomeLocked:
		r.Skipped++
		return
	case OutcomeIntent:
		r.Intents++
	}
	r.Evaluated++
}

// Engine runs the per-position pipeline:
// staleness → avg reset → resolve → evaluate (gated) → emit → persist
type Engine struct {
	deps   EngineDeps
	cfg    EngineConfig
	logger *logger.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[uuid.UUID]struct{}
}

// NewEngine creates the exit engine
func NewEngine(deps EngineDeps, cfg EngineConfig, log *logger.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 100 * time.Millisecond
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: log.Component("engine"),
		now:    time.Now,
		locks:  make(map[uuid.UUID]struct{}),
	}
}

// Sweep evaluates every open position once. A single position's failure is
// logged and counted; it never aborts the sweep.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	mode := e.deps.Governor.Mode(ctx)

	positions, err := e.deps.Positions.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	res := &SweepResult{Mode: mode, Positions: len(positions)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, pos := range positions {
		g.Go(func() error {
			r, err := e.EvaluatePosition(ctx, mode, pos)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors++
				positionErrors.Inc()
				e.logger.ForPosition(pos.PositionID.String(), pos.Symbol).WithError(err).
					Warn("Position evaluation failed, cycle discarded")
				return nil
			}
			res.record(r)
			return nil
		})
	}
	_ = g.Wait()

	res.Archived = e.archiveClosed(ctx, positions)
	res.Duration = time.Since(start)
	sweepDuration.Observe(res.Duration.Seconds())

	e.logger.WithFields(map[string]interface{}{
		"mode":      mode,
		"positions": res.Positions,
		"evaluated": res.Evaluated,
		"intents":   res.Intents,
		"skipped":   res.Skipped,
		"errors":    res.Errors,
		"archived":  res.Archived,
		"duration":  res.Duration.String(),
	}).Debug("Exit sweep completed")

	return res, nil
}

// EvaluatePosition runs one cycle for pos under mode
func (e *Engine) EvaluatePosition(ctx context.Context, mode contracts.ControlMode, pos *contracts.Position) (*PositionResult, error) {
	res := &PositionResult{PositionID: pos.PositionID}

	if !e.tryLock(pos.PositionID) {
		positionsSkipped.WithLabelValues("locked").Inc()
		res.Outcome = OutcomeLocked
		return res, nil
	}
	defer e.unlock(pos.PositionID)

	now := e.now()

	// EMERGENCY_FLATTEN은 exit_mode, 신선도와 무관하게 전량 청산
	if mode == contracts.ControlModeEmergencyFlatten {
		return e.flatten(ctx, pos, res, now)
	}

	if pos.ExitMode == contracts.ExitModeDisabled {
		positionsSkipped.WithLabelValues("disabled").Inc()
		res.Outcome = OutcomeDisabled
		return res, nil
	}

	quote, ok := e.deps.Prices.Quote(pos.Symbol)
	if err := checkFresh(pos.Symbol, quote, ok, now, e.cfg.StaleAfter); err != nil {
		positionsSkipped.WithLabelValues("stale").Inc()
		e.logger.WithError(err).WithField("position_id", pos.PositionID.String()).Debug("Skipping position this cycle")
		res.Outcome = OutcomeStale
		return res, nil
	}

	stored, err := e.deps.States.LoadState(ctx, pos.PositionID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	state := OpenState(stored, pos, quote.Price)

	res.AvgChange = ApplyAvgPriceChange(state, pos.AvgPrice, quote.Price)
	if res.AvgChange == AvgReset {
		e.logger.ForPosition(pos.PositionID.String(), pos.Symbol).WithFields(map[string]interface{}{
			"avg_price":  pos.AvgPrice.String(),
			"generation": state.Generation,
		}).Info("Average price moved >= 2%, phase reset")
	}

	resolution := e.deps.Resolver.Resolve(ctx, pos)
	res.Tier = resolution.Tier

	decision := Evaluate(EvalInput{
		Position:  pos,
		Price:     quote.Price,
		State:     state,
		Profile:   resolution.Profile,
		VolFactor: e.volatilityFactor(ctx, resolution.Profile, pos.Symbol, quote.Price),
		Now:       now,
		Allow:     Gate(mode),
	})
	for _, id := range decision.Blocked {
		triggersBlocked.WithLabelValues(string(mode), string(id)).Inc()
	}

	next := decision.Next
	switch t := decision.Trigger; {
	case t != nil:
		triggersFired.WithLabelValues(string(t.ID)).Inc()
		res.Trigger = t.ID
		if next, err = e.emit(ctx, pos, next, resolution.Profile, t, res); err != nil {
			return nil, err
		}
	case len(decision.Blocked) > 0:
		res.Outcome = OutcomeBlocked
	default:
		res.Outcome = OutcomeNoTrigger
	}

	next.LastEvalTS = &now
	if err := e.persist(ctx, next); err != nil {
		return nil, err
	}
	positionsEvaluated.Inc()
	return res, nil
}

// emit creates the intent and commits fire side effects when it exists
func (e *Engine) emit(ctx context.Context, pos *contracts.Position, s *contracts.PositionState, profile *contracts.ExitProfile, t *FiredTrigger, res *PositionResult) (*contracts.PositionState, error) {
	intent, err := e.deps.Emitter.Emit(ctx, pos, s, t)
	switch {
	case err == nil:
		res.Outcome = OutcomeIntent
		res.Intent = intent
		return ApplyFire(s, pos, profile, t), nil
	case errors.Is(err, ErrIntentExists):
		// 이전 cycle에서 emit 후 state 저장이 실패한 경우: fired 반영
		res.Outcome = OutcomeDropped
		return ApplyFire(s, pos, profile, t), nil
	case errors.Is(err, ErrDuplicateIntent), errors.Is(err, ErrNoAvailableQty):
		// fired에 반영하지 않음: 가용 수량이 생기면 다시 발동
		res.Outcome = OutcomeDropped
		return s, nil
	default:
		return nil, err
	}
}

// flatten emits a full exit unless a flatten intent is still live. It is not
// recorded in fired_triggers: a cancelled or rejected flatten, or a later
// activation, gets a new intent with the next sequence in its action key.
func (e *Engine) flatten(ctx context.Context, pos *contracts.Position, res *PositionResult, now time.Time) (*PositionResult, error) {
	price := pos.AvgPrice
	if q, ok := e.deps.Prices.Quote(pos.Symbol); ok && q.Price.IsPositive() {
		price = q.Price
	}

	stored, err := e.deps.States.LoadState(ctx, pos.PositionID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	state := OpenState(stored, pos, price)
	if price.GreaterThan(state.HWMPrice) {
		state.HWMPrice = price
	}

	t := emergencyTrigger(pos)
	res.Trigger = t.ID

	live, emitted, err := e.flattenHistory(ctx, pos, state)
	if err != nil {
		return nil, err
	}
	if live {
		res.Outcome = OutcomeDropped
	} else {
		t.Seq = emitted + 1
		if err := e.emitFlatten(ctx, pos, state, t, res); err != nil {
			return nil, err
		}
	}

	state.LastEvalTS = &now
	if err := e.persist(ctx, state); err != nil {
		return nil, err
	}
	return res, nil
}

// flattenHistory reports whether a flatten intent is active or SUBMITTED, and how
// many flatten intents this generation has produced
func (e *Engine) flattenHistory(ctx context.Context, pos *contracts.Position, s *contracts.PositionState) (bool, int, error) {
	if e.deps.Intents == nil {
		return false, 0, nil
	}
	intents, err := e.deps.Intents.ListIntents(ctx, IntentFilter{PositionID: &pos.PositionID})
	if err != nil {
		return false, 0, fmt.Errorf("list intents: %w", err)
	}

	prefix := ActionKey(pos.PositionID, s.Generation, contracts.TriggerEmergencyFlatten)
	live, emitted := false, 0
	for _, in := range intents {
		if in.ReasonCode != contracts.TriggerEmergencyFlatten {
			continue
		}
		if in.Status.IsActive() || in.Status == contracts.IntentStatusSubmitted {
			live = true
		}
		if strings.HasPrefix(in.ActionKey, prefix) {
			emitted++
		}
	}
	return live, emitted, nil
}

func (e *Engine) emitFlatten(ctx context.Context, pos *contracts.Position, s *contracts.PositionState, t *FiredTrigger, res *PositionResult) error {
	intent, err := e.deps.Emitter.Emit(ctx, pos, s, t)
	if errors.Is(err, ErrDuplicateIntent) && !errors.Is(err, ErrIntentExists) {
		// 라우터가 아직 가져가지 않은 intent는 취소하고 flatten으로 대체
		if e.cancelUnrouted(ctx, pos.PositionID) > 0 {
			intent, err = e.deps.Emitter.Emit(ctx, pos, s, t)
		}
	}

	switch {
	case err == nil:
		res.Outcome = OutcomeIntent
		res.Intent = intent
		return nil
	case errors.Is(err, ErrDuplicateIntent), errors.Is(err, ErrNoAvailableQty):
		res.Outcome = OutcomeDropped
		return nil
	default:
		return err
	}
}

func (e *Engine) cancelUnrouted(ctx context.Context, positionID uuid.UUID) int {
	if e.deps.Intents == nil {
		return 0
	}
	unrouted := []contracts.IntentStatus{contracts.IntentStatusPendingApproval, contracts.IntentStatusNew}
	intents, err := e.deps.Intents.ListIntents(ctx, IntentFilter{PositionID: &positionID, Statuses: unrouted})
	if err != nil {
		e.logger.WithError(err).Warn("List active intents failed")
		return 0
	}

	cancelled := 0
	for _, in := range intents {
		if in.ReasonCode == contracts.TriggerEmergencyFlatten {
			continue
		}
		if err := e.deps.Intents.TransitionStatus(ctx, in.IntentID, unrouted, contracts.IntentStatusCancelled); err != nil {
			continue
		}
		cancelled++
		e.logger.WithFields(map[string]interface{}{
			"intent_id": in.IntentID.String(),
			"reason":    in.ReasonCode,
		}).Warn("Cancelled intent superseded by EMERGENCY_FLATTEN")
	}
	return cancelled
}

// persist saves state with exponential backoff. ErrStateConflict is not retried.
func (e *Engine) persist(ctx context.Context, s *contracts.PositionState) error {
	b := &backoff.Backoff{
		Min:    e.cfg.PersistBackoff,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = e.deps.States.SaveState(ctx, s); err == nil {
			return nil
		}
		if errors.Is(err, ErrStateConflict) || attempt >= e.cfg.PersistRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}

	if errors.Is(err, ErrStateConflict) {
		return err
	}
	persistFailures.Inc()
	return fmt.Errorf("%w: save state %s: %v", ErrPersistence, s.PositionID, err)
}

func (e *Engine) volatilityFactor(ctx context.Context, profile *contracts.ExitProfile, symbol string, price decimal.Decimal) float64 {
	vc := profile.Config.Volatility
	if vc == nil || e.deps.Volatility == nil || !price.IsPositive() {
		return 0
	}
	atr, err := e.deps.Volatility.GetATR(ctx, symbol, vc.Period)
	if err != nil || atr <= 0 {
		if err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Debug("ATR unavailable, using base thresholds")
		}
		return 0
	}
	return VolatilityFactor(vc, atr/price.InexactFloat64())
}

// archiveClosed marks states CLOSED for positions that left the holdings feed
func (e *Engine) archiveClosed(ctx context.Context, open []*contracts.Position) int {
	ids, err := e.deps.States.ListOpenStateIDs(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("List open states failed, archive skipped")
		return 0
	}

	live := make(map[uuid.UUID]bool, len(open))
	for _, p := range open {
		live[p.PositionID] = true
	}

	archived := 0
	for _, id := range ids {
		if live[id] {
			continue
		}
		if err := e.deps.States.ArchiveState(ctx, id); err != nil {
			e.logger.WithError(err).WithField("position_id", id.String()).Warn("Archive state failed")
			continue
		}
		archived++
	}
	return archived
}

func (e *Engine) tryLock(id uuid.UUID) bool {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	if _, held := e.locks[id]; held {
		return false
	}
	e.locks[id] = struct{}{}
	return true
}

func (e *Engine) unlock(id uuid.UUID) {
	e.locksMu.Lock()
	delete(e.locks, id)
	e.locksMu.Unlock()
}

func checkFresh(symbol string, q contracts.Quote, ok bool, now time.Time, staleAfter time.Duration) error {
	if !ok || !q.Price.IsPositive() {
		return &StaleDataError{Symbol: symbol}
	}
	if age := now.Sub(q.AsOf); age > staleAfter {
		return &StaleDataError{Symbol: symbol, Age: age}
	}
	return nil
}
