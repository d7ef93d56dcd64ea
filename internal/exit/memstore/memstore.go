// Package memstore is an in-process implementation of the exit stores.
// Used by tests and by `exitctl run --memory` for dry runs without PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

// Store holds every exit table in memory behind one mutex
type Store struct {
	mu        sync.Mutex
	positions map[uuid.UUID]*contracts.Position
	states    map[uuid.UUID]*contracts.PositionState
	profiles  map[string]*contracts.ExitProfile
	overrides map[string]*contracts.SymbolOverride
	intents   map[uuid.UUID]*contracts.OrderIntent
	keys      map[string]uuid.UUID
	control   *contracts.ExitControl
	quotes    map[string]contracts.Quote
	atr       map[string]float64

	// FailSave makes the next n SaveState calls fail (persistence tests)
	FailSave int
	// FailControl makes GetControl fail while set
	FailControl bool

	saves int
	now   func() time.Time
}

// New returns an empty store in RUNNING mode
func New() *Store {
	return &Store{
		positions: make(map[uuid.UUID]*contracts.Position),
		states:    make(map[uuid.UUID]*contracts.PositionState),
		profiles:  make(map[string]*contracts.ExitProfile),
		overrides: make(map[string]*contracts.SymbolOverride),
		intents:   make(map[uuid.UUID]*contracts.OrderIntent),
		keys:      make(map[string]uuid.UUID),
		control:   &contracts.ExitControl{Mode: contracts.ControlModeRunning, UpdatedBy: "system"},
		quotes:    make(map[string]contracts.Quote),
		atr:       make(map[string]float64),
		now:       time.Now,
	}
}

var (
	_ exit.PositionStore      = (*Store)(nil)
	_ exit.StateStore         = (*Store)(nil)
	_ exit.ProfileStore       = (*Store)(nil)
	_ exit.OverrideStore      = (*Store)(nil)
	_ exit.ControlStore       = (*Store)(nil)
	_ exit.IntentStore        = (*Store)(nil)
	_ exit.PriceFeed          = (*Store)(nil)
	_ exit.VolatilityProvider = (*Store)(nil)
)

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PutPosition inserts or replaces a holding; qty 0 removes it from the open list
func (s *Store) PutPosition(p *contracts.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.PositionID] = &cp
}

// RemovePosition drops a holding (position closed upstream)
func (s *Store) RemovePosition(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Qty > 0 {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) GetPosition(ctx context.Context, id uuid.UUID) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, exit.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) SetExitProfile(ctx context.Context, id uuid.UUID, profileID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return exit.ErrPositionNotFound
	}
	if profileID == nil {
		p.ExitProfileID = nil
	} else {
		v := *profileID
		p.ExitProfileID = &v
	}
	return nil
}

func (s *Store) SetExitMode(ctx context.Context, id uuid.UUID, mode contracts.ExitMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return exit.ErrPositionNotFound
	}
	p.ExitMode = mode
	return nil
}

// ---------------------------------------------------------------------------
// Position state
// ---------------------------------------------------------------------------

func (s *Store) LoadState(ctx context.Context, id uuid.UUID) (*contracts.PositionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (s *Store) SaveState(ctx context.Context, st *contracts.PositionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave > 0 {
		s.FailSave--
		return errSaveInjected
	}
	cur, ok := s.states[st.PositionID]
	if ok && cur.Version != st.Version {
		return exit.ErrStateConflict
	}
	if !ok && st.Version != 0 {
		return exit.ErrStateConflict
	}
	st.Version++
	s.states[st.PositionID] = st.Clone()
	s.saves++
	return nil
}

func (s *Store) ListOpenStateIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, st := range s.states {
		if st.Phase == contracts.PhaseOpen {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) ArchiveState(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil
	}
	st.Phase = contracts.PhaseClosed
	st.Version++
	return nil
}

// Saves returns the number of successful SaveState calls
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// ---------------------------------------------------------------------------
// Profiles & overrides
// ---------------------------------------------------------------------------

func (s *Store) GetProfile(ctx context.Context, id string) (*contracts.ExitProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, exit.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]*contracts.ExitProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.ExitProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID < out[j].ProfileID })
	return out, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *contracts.ExitProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.ProfileID] = &cp
	return nil
}

func (s *Store) GetOverride(ctx context.Context, symbol string) (*contracts.SymbolOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[symbol]
	if !ok {
		return nil, exit.ErrOverrideNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) ListOverrides(ctx context.Context) ([]*contracts.SymbolOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.SymbolOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) UpsertOverride(ctx context.Context, o *contracts.SymbolOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.overrides[o.Symbol] = &cp
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[symbol]; !ok {
		return exit.ErrOverrideNotFound
	}
	delete(s.overrides, symbol)
	return nil
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

func (s *Store) GetControl(ctx context.Context) (*contracts.ExitControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailControl {
		return nil, errControlInjected
	}
	cp := *s.control
	return &cp, nil
}

func (s *Store) SetControl(ctx context.Context, c *contracts.ExitControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedTS = s.now()
	cp := *c
	s.control = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Intents
// ---------------------------------------------------------------------------

func (s *Store) CreateIfNoActive(ctx context.Context, in *contracts.OrderIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[in.ActionKey]; ok {
		return exit.ErrIntentExists
	}
	for _, cur := range s.intents {
		if cur.PositionID == in.PositionID && cur.Status.IsActive() {
			return exit.ErrDuplicateIntent
		}
	}
	cp := *in
	s.intents[in.IntentID] = &cp
	s.keys[in.ActionKey] = in.IntentID
	return nil
}

// PutIntent inserts an intent without any checks (reconciliation tests)
func (s *Store) PutIntent(in *contracts.OrderIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.intents[in.IntentID] = &cp
	if in.ActionKey != "" {
		s.keys[in.ActionKey] = in.IntentID
	}
}

func (s *Store) GetIntent(ctx context.Context, id uuid.UUID) (*contracts.OrderIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, exit.ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (s *Store) ListIntents(ctx context.Context, f exit.IntentFilter) ([]*contracts.OrderIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*contracts.OrderIntent
	for _, in := range s.intents {
		if f.PositionID != nil && in.PositionID != *f.PositionID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, in.Status) {
			continue
		}
		cp := *in
		out = append(out, &cp)
	}
	// 최신순 (pgx store와 동일)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS.After(out[j].CreatedTS) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from []contracts.IntentStatus, to contracts.IntentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return exit.ErrIntentNotFound
	}
	if !hasStatus(from, in.Status) {
		return exit.ErrInvalidTransition
	}
	in.Status = to
	in.UpdatedTS = s.now()
	return nil
}

func (s *Store) SubmittedQty(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var qty int64
	for _, in := range s.intents {
		if in.PositionID == id && in.Status == contracts.IntentStatusSubmitted {
			qty += in.Qty
		}
	}
	return qty, nil
}

func hasStatus(set []contracts.IntentStatus, st contracts.IntentStatus) bool {
	for _, v := range set {
		if v == st {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Prices & volatility
// ---------------------------------------------------------------------------

// SetQuote sets the latest price for symbol
func (s *Store) SetQuote(symbol string, price decimal.Decimal, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = contracts.Quote{Symbol: symbol, Price: price, AsOf: asOf}
}

func (s *Store) Quote(symbol string) (contracts.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// SetATR sets the ATR (price units) for symbol
func (s *Store) SetATR(symbol string, atr float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atr[symbol] = atr
}

func (s *Store) GetATR(ctx context.Context, symbol string, period int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atr[symbol], nil
}
