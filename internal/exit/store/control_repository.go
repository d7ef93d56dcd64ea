package store

import (
	"context"
	"fmt"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// GetControl reads the singleton control row (id = 1)
func (s *Store) GetControl(ctx context.Context) (*contracts.ExitControl, error) {
	query := `
		SELECT mode, reason, updated_by, updated_ts
		FROM trade.exit_control
		WHERE id = 1
	`

	var ctrl contracts.ExitControl
	err := s.pool.QueryRow(ctx, query).Scan(
		&ctrl.Mode,
		&ctrl.Reason,
		&ctrl.UpdatedBy,
		&ctrl.UpdatedTS,
	)
	if err != nil {
		return nil, fmt.Errorf("query exit control: %w", err)
	}
	return &ctrl, nil
}

// SetControl writes the mode; the row is created on first use
func (s *Store) SetControl(ctx context.Context, c *contracts.ExitControl) error {
	query := `
		INSERT INTO trade.exit_control (id, mode, reason, updated_by, updated_ts)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET
			mode = EXCLUDED.mode,
			reason = EXCLUDED.reason,
			updated_by = EXCLUDED.updated_by,
			updated_ts = NOW()
		RETURNING updated_ts
	`

	if err := s.pool.QueryRow(ctx, query, string(c.Mode), c.Reason, c.UpdatedBy).Scan(&c.UpdatedTS); err != nil {
		return fmt.Errorf("update exit control: %w", err)
	}
	return nil
}
