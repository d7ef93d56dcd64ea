package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

const overrideColumns = `
	symbol,
	profile_id,
	enabled,
	effective_from,
	reason,
	created_by`

func scanOverride(row pgx.Row) (*contracts.SymbolOverride, error) {
	var o contracts.SymbolOverride
	if err := row.Scan(
		&o.Symbol,
		&o.ProfileID,
		&o.Enabled,
		&o.EffectiveFrom,
		&o.Reason,
		&o.CreatedBy,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOverride returns ErrOverrideNotFound when the symbol has none
func (s *Store) GetOverride(ctx context.Context, symbol string) (*contracts.SymbolOverride, error) {
	query := `SELECT` + overrideColumns + `
		FROM trade.symbol_exit_overrides
		WHERE symbol = $1
	`

	o, err := scanOverride(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exit.ErrOverrideNotFound
		}
		return nil, fmt.Errorf("query override: %w", err)
	}
	return o, nil
}

func (s *Store) ListOverrides(ctx context.Context) ([]*contracts.SymbolOverride, error) {
	query := `SELECT` + overrideColumns + `
		FROM trade.symbol_exit_overrides
		ORDER BY symbol
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]*contracts.SymbolOverride, 0)
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return overrides, nil
}

func (s *Store) UpsertOverride(ctx context.Context, o *contracts.SymbolOverride) error {
	query := `
		INSERT INTO trade.symbol_exit_overrides (
			symbol,
			profile_id,
			enabled,
			effective_from,
			reason,
			created_by,
			created_ts
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (symbol) DO UPDATE
		SET
			profile_id = EXCLUDED.profile_id,
			enabled = EXCLUDED.enabled,
			effective_from = EXCLUDED.effective_from,
			reason = EXCLUDED.reason,
			created_by = EXCLUDED.created_by
	`

	_, err := s.pool.Exec(ctx, query,
		o.Symbol,
		o.ProfileID,
		o.Enabled,
		o.EffectiveFrom,
		o.Reason,
		o.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, symbol string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade.symbol_exit_overrides WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exit.ErrOverrideNotFound
	}
	return nil
}
