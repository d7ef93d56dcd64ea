package exit

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// Reconciler repairs violations of the one-active-intent-per-position invariant
// (e.g. rows written by an older build or a manual insert)
type Reconciler struct {
	intents IntentStore
	logger  *logger.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(intents IntentStore, log *logger.Logger) *Reconciler {
	return &Reconciler{intents: intents, logger: log.Component("reconcile")}
}

// CancelDuplicateActive keeps the oldest active intent per position and cancels the rest.
// Returns the number cancelled.
func (r *Reconciler) CancelDuplicateActive(ctx context.Context) (int, error) {
	active, err := r.intents.ListIntents(ctx, IntentFilter{Statuses: contracts.ActiveIntentStatuses[:]})
	if err != nil {
		return 0, fmt.Errorf("list active intents: %w", err)
	}

	byPosition := make(map[uuid.UUID][]*contracts.OrderIntent)
	for _, in := range active {
		if !in.Status.IsActive() {
			continue
		}
		byPosition[in.PositionID] = append(byPosition[in.PositionID], in)
	}

	cancelled := 0
	for positionID, group := range byPosition {
		if len(group) <= 1 {
			continue
		}
		// 먼저 생성된 intent가 우선
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedTS.Before(group[j].CreatedTS) })

		for _, dup := range group[1:] {
			err := r.intents.TransitionStatus(ctx, dup.IntentID, contracts.ActiveIntentStatuses[:], contracts.IntentStatusCancelled)
			if err != nil {
				r.logger.WithError(err).WithField("intent_id", dup.IntentID.String()).Warn("Failed to cancel duplicate intent")
				continue
			}
			cancelled++
			reconcileCancelled.Inc()
			r.logger.WithFields(map[string]interface{}{
				"position_id": positionID.String(),
				"kept":        group[0].IntentID.String(),
				"cancelled":   dup.IntentID.String(),
				"reason":      dup.ReasonCode,
			}).Warn("Cancelled duplicate active intent")
		}
	}

	if cancelled > 0 {
		r.logger.WithField("count", cancelled).Info("Intent reconciliation cancelled duplicates")
	}
	return cancelled, nil
}
