package exit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// Admin is the profile/override/position write path. Every write is validated,
// invalidates the local resolver cache and is broadcast to other processes.
type Admin struct {
	profiles  ProfileStore
	overrides OverrideStore
	positions PositionStore
	resolver  *Resolver
	publisher Publisher // nil = single process
	logger    *logger.Logger
}

// NewAdmin creates the write path
func NewAdmin(profiles ProfileStore, overrides OverrideStore, positions PositionStore, resolver *Resolver, publisher Publisher, log *logger.Logger) *Admin {
	return &Admin{
		profiles:  profiles,
		overrides: overrides,
		positions: positions,
		resolver:  resolver,
		publisher: publisher,
		logger:    log.Component("admin"),
	}
}

// SaveProfile validates and upserts a profile
func (a *Admin) SaveProfile(ctx context.Context, p *contracts.ExitProfile) error {
	if err := contracts.ValidateProfile(p); err != nil {
		return err
	}
	p.UpdatedTS = time.Now()
	if err := a.profiles.UpsertProfile(ctx, p); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ProfileID, err)
	}

	a.resolver.InvalidateProfile(p.ProfileID)
	a.broadcast(ctx, "profile:"+p.ProfileID)

	a.logger.WithFields(map[string]interface{}{
		"profile_id": p.ProfileID,
		"active":     p.IsActive,
	}).Info("Exit profile saved")
	return nil
}

// SetOverride upserts a symbol override; the target profile must exist
func (a *Admin) SetOverride(ctx context.Context, o *contracts.SymbolOverride) error {
	if o.Symbol == "" {
		return contracts.ValidationError{Field: "symbol", Message: "required"}
	}
	if o.ProfileID == "" {
		return contracts.ValidationError{Field: "profile_id", Message: "required"}
	}
	if _, err := a.profiles.GetProfile(ctx, o.ProfileID); err != nil {
		return fmt.Errorf("override target %s: %w", o.ProfileID, err)
	}
	if err := a.overrides.UpsertOverride(ctx, o); err != nil {
		return fmt.Errorf("upsert override %s: %w", o.Symbol, err)
	}

	a.resolver.InvalidateSymbol(o.Symbol)
	a.broadcast(ctx, "override:"+o.Symbol)
	return nil
}

// DeleteOverride removes a symbol override
func (a *Admin) DeleteOverride(ctx context.Context, symbol string) error {
	if err := a.overrides.DeleteOverride(ctx, symbol); err != nil {
		return err
	}
	a.resolver.InvalidateSymbol(symbol)
	a.broadcast(ctx, "override:"+symbol)
	return nil
}

// AssignPositionProfile sets or clears (nil) the position-level profile
func (a *Admin) AssignPositionProfile(ctx context.Context, positionID uuid.UUID, profileID *string) error {
	if profileID != nil {
		if _, err := a.profiles.GetProfile(ctx, *profileID); err != nil {
			return fmt.Errorf("position profile %s: %w", *profileID, err)
		}
	}
	return a.positions.SetExitProfile(ctx, positionID, profileID)
}

// SetExitMode changes a position's exit mode
func (a *Admin) SetExitMode(ctx context.Context, positionID uuid.UUID, mode contracts.ExitMode) error {
	switch mode {
	case contracts.ExitModeAuto, contracts.ExitModeManualApproval, contracts.ExitModeDisabled:
	default:
		return contracts.ValidationError{Field: "exit_mode", Message: fmt.Sprintf("unknown mode %q", mode)}
	}
	return a.positions.SetExitMode(ctx, positionID, mode)
}

func (a *Admin) broadcast(ctx context.Context, payload string) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, InvalidationChannel, payload); err != nil {
		// 다른 프로세스는 TTL 만료로 수렴
		a.logger.WithError(err).WithField("payload", payload).Warn("Invalidation broadcast failed")
	}
}
