package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

// LoadState returns (nil, nil) when the position has never been evaluated
func (s *Store) LoadState(ctx context.Context, positionID uuid.UUID) (*contracts.PositionState, error) {
	query := `
		SELECT
			position_id,
			phase,
			hwm_price,
			stop_floor_price,
			stop_floor_breach_ticks,
			trailing_breach_ticks,
			fired_triggers,
			last_eval_ts,
			last_avg_price,
			generation,
			version
		FROM trade.position_state
		WHERE position_id = $1
	`

	var (
		st    contracts.PositionState
		fired []string
	)
	err := s.pool.QueryRow(ctx, query, positionID).Scan(
		&st.PositionID,
		&st.Phase,
		&st.HWMPrice,
		&st.StopFloorPrice,
		&st.StopFloorBreachTicks,
		&st.TrailingBreachTicks,
		&fired,
		&st.LastEvalTS,
		&st.LastAvgPrice,
		&st.Generation,
		&st.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query position state: %w", err)
	}

	st.FiredTriggers = make(map[contracts.TriggerID]bool, len(fired))
	for _, id := range fired {
		st.FiredTriggers[contracts.TriggerID(id)] = true
	}
	return &st, nil
}

// SaveState writes st guarded by its version; a first save inserts
func (s *Store) SaveState(ctx context.Context, st *contracts.PositionState) error {
	fired := make([]string, 0, len(st.FiredTriggers))
	for _, id := range st.FiredList() {
		fired = append(fired, string(id))
	}

	var (
		query string
		args  = []any{
			st.PositionID,
			string(st.Phase),
			st.HWMPrice,
			st.StopFloorPrice,
			st.StopFloorBreachTicks,
			st.TrailingBreachTicks,
			fired,
			st.LastEvalTS,
			st.LastAvgPrice,
			st.Generation,
		}
	)

	if st.Version == 0 {
		query = `
			INSERT INTO trade.position_state (
				position_id,
				phase,
				hwm_price,
				stop_floor_price,
				stop_floor_breach_ticks,
				trailing_breach_ticks,
				fired_triggers,
				last_eval_ts,
				last_avg_price,
				generation,
				version,
				updated_ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, NOW())
			ON CONFLICT (position_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE trade.position_state
			SET
				phase = $2,
				hwm_price = $3,
				stop_floor_price = $4,
				stop_floor_breach_ticks = $5,
				trailing_breach_ticks = $6,
				fired_triggers = $7,
				last_eval_ts = $8,
				last_avg_price = $9,
				generation = $10,
				version = version + 1,
				updated_ts = NOW()
			WHERE position_id = $1 AND version = $11
		`
		args = append(args, st.Version)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save position state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exit.ErrStateConflict
	}
	st.Version++
	return nil
}

// ListOpenStateIDs returns position ids whose state is OPEN
func (s *Store) ListOpenStateIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT position_id FROM trade.position_state WHERE phase = 'OPEN'`)
	if err != nil {
		return nil, fmt.Errorf("query open states: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect open states: %w", err)
	}
	return ids, nil
}

// ArchiveState marks the state CLOSED; history is kept for audit
func (s *Store) ArchiveState(ctx context.Context, positionID uuid.UUID) error {
	query := `
		UPDATE trade.position_state
		SET phase = 'CLOSED', version = version + 1, updated_ts = NOW()
		WHERE position_id = $1 AND phase = 'OPEN'
	`
	if _, err := s.pool.Exec(ctx, query, positionID); err != nil {
		return fmt.Errorf("archive position state: %w", err)
	}
	return nil
}
