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

const positionColumns = `
	position_id,
	account_id,
	symbol,
	qty,
	COALESCE(original_qty, qty) AS original_qty,
	avg_price,
	entry_ts,
	COALESCE(exit_mode, 'AUTO') AS exit_mode,
	exit_profile_id`

func scanPosition(row pgx.Row) (*contracts.Position, error) {
	var pos contracts.Position
	err := row.Scan(
		&pos.PositionID,
		&pos.AccountID,
		&pos.Symbol,
		&pos.Qty,
		&pos.OriginalQty,
		&pos.AvgPrice,
		&pos.OpenedTS,
		&pos.ExitMode,
		&pos.ExitProfileID,
	)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// ListOpenPositions returns OPEN positions with qty > 0
func (s *Store) ListOpenPositions(ctx context.Context) ([]*contracts.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM trade.positions
		WHERE status = 'OPEN' AND qty > 0
		ORDER BY symbol
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*contracts.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return positions, nil
}

// GetPosition returns one position
func (s *Store) GetPosition(ctx context.Context, positionID uuid.UUID) (*contracts.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM trade.positions
		WHERE position_id = $1
	`

	pos, err := scanPosition(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exit.ErrPositionNotFound
		}
		return nil, fmt.Errorf("query position: %w", err)
	}
	return pos, nil
}

// SetExitProfile assigns (or clears with nil) the position-level profile
func (s *Store) SetExitProfile(ctx context.Context, positionID uuid.UUID, profileID *string) error {
	query := `
		UPDATE trade.positions
		SET exit_profile_id = $2, updated_ts = NOW()
		WHERE position_id = $1
	`
	return s.updatePosition(ctx, query, positionID, profileID)
}

// SetExitMode changes the position exit mode
func (s *Store) SetExitMode(ctx context.Context, positionID uuid.UUID, mode contracts.ExitMode) error {
	query := `
		UPDATE trade.positions
		SET exit_mode = $2, updated_ts = NOW()
		WHERE position_id = $1
	`
	return s.updatePosition(ctx, query, positionID, string(mode))
}

func (s *Store) updatePosition(ctx context.Context, query string, positionID uuid.UUID, value any) error {
	tag, err := s.pool.Exec(ctx, query, positionID, value)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exit.ErrPositionNotFound
	}
	return nil
}
