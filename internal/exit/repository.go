package exit

import (
	"context"

	"github.com/google/uuid"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// PositionStore is the holdings feed plus the exit-owned position columns
type PositionStore interface {
	// ListOpenPositions returns positions with qty > 0
	ListOpenPositions(ctx context.Context) ([]*contracts.Position, error)
	GetPosition(ctx context.Context, positionID uuid.UUID) (*contracts.Position, error)
	SetExitProfile(ctx context.Context, positionID uuid.UUID, profileID *string) error
	SetExitMode(ctx context.Context, positionID uuid.UUID, mode contracts.ExitMode) error
}

// StateStore persists PositionState for crash recovery
type StateStore interface {
	// LoadState returns (nil, nil) when no state exists
	LoadState(ctx context.Context, positionID uuid.UUID) (*contracts.PositionState, error)
	// SaveState writes s if the stored version equals s.Version, then bumps s.Version.
	// Returns ErrStateConflict otherwise.
	SaveState(ctx context.Context, s *contracts.PositionState) error
	// ListOpenStateIDs returns ids of states in phase OPEN
	ListOpenStateIDs(ctx context.Context) ([]uuid.UUID, error)
	ArchiveState(ctx context.Context, positionID uuid.UUID) error
}

// ProfileStore trade.exit_profiles
type ProfileStore interface {
	// GetProfile returns ErrProfileNotFound when missing
	GetProfile(ctx context.Context, profileID string) (*contracts.ExitProfile, error)
	ListProfiles(ctx context.Context) ([]*contracts.ExitProfile, error)
	UpsertProfile(ctx context.Context, p *contracts.ExitProfile) error
}

// OverrideStore trade.symbol_exit_overrides
type OverrideStore interface {
	// GetOverride returns ErrOverrideNotFound when missing
	GetOverride(ctx context.Context, symbol string) (*contracts.SymbolOverride, error)
	ListOverrides(ctx context.Context) ([]*contracts.SymbolOverride, error)
	UpsertOverride(ctx context.Context, o *contracts.SymbolOverride) error
	DeleteOverride(ctx context.Context, symbol string) error
}

// ControlStore trade.exit_control
type ControlStore interface {
	GetControl(ctx context.Context) (*contracts.ExitControl, error)
	SetControl(ctx context.Context, c *contracts.ExitControl) error
}

// IntentFilter narrows ListIntents
type IntentFilter struct {
	PositionID *uuid.UUID
	Statuses   []contracts.IntentStatus
	Limit      int
}

// IntentStore trade.order_intents
type IntentStore interface {
	// CreateIfNoActive atomically inserts intent unless its action key exists
	// (ErrIntentExists) or the position has an active intent (ErrDuplicateIntent).
	CreateIfNoActive(ctx context.Context, intent *contracts.OrderIntent) error
	GetIntent(ctx context.Context, intentID uuid.UUID) (*contracts.OrderIntent, error)
	ListIntents(ctx context.Context, f IntentFilter) ([]*contracts.OrderIntent, error)
	// TransitionStatus moves the intent to `to` if its current status is in `from`.
	// Returns ErrIntentNotFound or ErrInvalidTransition.
	TransitionStatus(ctx context.Context, intentID uuid.UUID, from []contracts.IntentStatus, to contracts.IntentStatus) error
	// SubmittedQty sums qty of SUBMITTED intents: at the broker, not yet in holdings
	SubmittedQty(ctx context.Context, positionID uuid.UUID) (int64, error)
}

// PriceFeed latest quote per symbol
type PriceFeed interface {
	Quote(symbol string) (contracts.Quote, bool)
}

// VolatilityProvider returns ATR in price units; 0 means unavailable
type VolatilityProvider interface {
	GetATR(ctx context.Context, symbol string, period int) (float64, error)
}

// Publisher broadcasts profile cache invalidations to other processes
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Subscriber receives invalidations until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}
