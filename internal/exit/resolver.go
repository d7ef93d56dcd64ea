package exit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// InvalidationChannel carries "profile:<id>", "override:<symbol>" or "all"
const InvalidationChannel = "exit:profile:invalidate"

// ResolveTier is the chain level that produced the profile
type ResolveTier string

const (
	TierPosition ResolveTier = "position"
	TierSymbol   ResolveTier = "symbol"
	TierDefault  ResolveTier = "default"
	TierBuiltin  ResolveTier = "builtin"
)

// Resolution is the resolver output
type Resolution struct {
	Profile *contracts.ExitProfile
	Tier    ResolveTier
}

type cacheEntry struct {
	profile  *contracts.ExitProfile
	override *contracts.SymbolOverride
	missing  bool
	expires  time.Time
}

// Resolver resolves the effective profile: position assignment → symbol override
// → system default → built-in default. Reads go through a TTL cache that the
// write path invalidates explicitly.
type Resolver struct {
	profiles  ProfileStore
	overrides OverrideStore
	defaultID string
	builtin   *contracts.ExitProfile
	ttl       time.Duration
	logger    *logger.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a resolver; ttl <= 0 disables caching
func NewResolver(profiles ProfileStore, overrides OverrideStore, defaultID string, ttl time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		profiles:  profiles,
		overrides: overrides,
		defaultID: defaultID,
		builtin:   contracts.DefaultExitProfile(),
		ttl:       ttl,
		logger:    log.Component("resolver"),
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
}

// Resolve never fails; a missing or inactive profile falls through to the next tier
func (r *Resolver) Resolve(ctx context.Context, pos *contracts.Position) Resolution {
	log := r.logger.ForPosition(pos.PositionID.String(), pos.Symbol)

	// 1. Position-level assignment
	if pos.ExitProfileID != nil && *pos.ExitProfileID != "" {
		if p, err := r.activeProfile(ctx, *pos.ExitProfileID); err == nil {
			return r.resolved(p, TierPosition)
		} else {
			log.WithError(err).WithField("profile_id", *pos.ExitProfileID).Warn("Position profile unusable, falling through")
		}
	}

	// 2. Symbol override
	if o, err := r.override(ctx, pos.Symbol); err == nil && o.IsEffective(r.now()) {
		if p, err := r.activeProfile(ctx, o.ProfileID); err == nil {
			return r.resolved(p, TierSymbol)
		} else {
			log.WithError(err).WithField("profile_id", o.ProfileID).Warn("Symbol override profile unusable, falling through")
		}
	} else if err != nil && !errors.Is(err, ErrOverrideNotFound) {
		log.WithError(err).Warn("Symbol override lookup failed, falling through")
	}

	// 3. System default
	if r.defaultID != "" {
		if p, err := r.activeProfile(ctx, r.defaultID); err == nil {
			return r.resolved(p, TierDefault)
		} else {
			log.WithError(err).WithField("profile_id", r.defaultID).Warn("Default profile unusable, using built-in")
		}
	}

	// 4. Built-in
	return r.resolved(r.builtin, TierBuiltin)
}

func (r *Resolver) resolved(p *contracts.ExitProfile, tier ResolveTier) Resolution {
	resolverTier.WithLabelValues(string(tier)).Inc()
	return Resolution{Profile: p, Tier: tier}
}

func (r *Resolver) activeProfile(ctx context.Context, id string) (*contracts.ExitProfile, error) {
	key := "profile:" + id
	if e, ok := r.lookup(key); ok {
		if e.missing || !e.profile.IsActive {
			return nil, ErrProfileNotFound
		}
		return e.profile, nil
	}

	p, err := r.profiles.GetProfile(ctx, id)
	if errors.Is(err, ErrProfileNotFound) {
		r.store(key, cacheEntry{missing: true})
		return nil, err
	}
	if err != nil {
		// 조회 실패는 캐시하지 않음
		return nil, err
	}
	r.store(key, cacheEntry{profile: p})
	if !p.IsActive {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (r *Resolver) override(ctx context.Context, symbol string) (*contracts.SymbolOverride, error) {
	key := "override:" + symbol
	if e, ok := r.lookup(key); ok {
		if e.missing {
			return nil, ErrOverrideNotFound
		}
		return e.override, nil
	}

	o, err := r.overrides.GetOverride(ctx, symbol)
	if errors.Is(err, ErrOverrideNotFound) {
		r.store(key, cacheEntry{missing: true})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	r.store(key, cacheEntry{override: o})
	return o, nil
}

func (r *Resolver) lookup(key string) (cacheEntry, bool) {
	if r.ttl <= 0 {
		return cacheEntry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[key]
	if !ok || r.now().After(e.expires) {
		return cacheEntry{}, false
	}
	return e, true
}

func (r *Resolver) store(key string, e cacheEntry) {
	if r.ttl <= 0 {
		return
	}
	e.expires = r.now().Add(r.ttl)
	r.mu.Lock()
	r.cache[key] = e
	r.mu.Unlock()
}

// InvalidateProfile drops the cached profile
func (r *Resolver) InvalidateProfile(profileID string) {
	r.mu.Lock()
	delete(r.cache, "profile:"+profileID)
	r.mu.Unlock()
}

// InvalidateSymbol drops the cached override for symbol
func (r *Resolver) InvalidateSymbol(symbol string) {
	r.mu.Lock()
	delete(r.cache, "override:"+symbol)
	r.mu.Unlock()
}

// InvalidateAll clears the cache
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

// HandleInvalidation applies a message from InvalidationChannel
func (r *Resolver) HandleInvalidation(payload string) {
	switch {
	case strings.HasPrefix(payload, "profile:"):
		r.InvalidateProfile(strings.TrimPrefix(payload, "profile:"))
	case strings.HasPrefix(payload, "override:"):
		r.InvalidateSymbol(strings.TrimPrefix(payload, "override:"))
	default:
		r.InvalidateAll()
	}
	r.logger.WithField("payload", payload).Debug("Profile cache invalidated")
}

// Listen applies invalidations from other processes until ctx is done
func (r *Resolver) Listen(ctx context.Context, sub Subscriber) error {
	return sub.Subscribe(ctx, InvalidationChannel, r.HandleInvalidation)
}
