package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

const profileColumns = `
	profile_id,
	name,
	description,
	config,
	is_active,
	created_by,
	updated_ts`

func scanProfile(row pgx.Row) (*contracts.ExitProfile, error) {
	var (
		p          contracts.ExitProfile
		configJSON []byte
	)
	if err := row.Scan(
		&p.ProfileID,
		&p.Name,
		&p.Description,
		&configJSON,
		&p.IsActive,
		&p.CreatedBy,
		&p.UpdatedTS,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configJSON, &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal profile %s config: %w", p.ProfileID, err)
	}
	return &p, nil
}

// GetProfile returns a profile regardless of is_active; the resolver decides
func (s *Store) GetProfile(ctx context.Context, profileID string) (*contracts.ExitProfile, error) {
	query := `SELECT` + profileColumns + `
		FROM trade.exit_profiles
		WHERE profile_id = $1
	`

	p, err := scanProfile(s.pool.QueryRow(ctx, query, profileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exit.ErrProfileNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile, active first
func (s *Store) ListProfiles(ctx context.Context) ([]*contracts.ExitProfile, error) {
	query := `SELECT` + profileColumns + `
		FROM trade.exit_profiles
		ORDER BY is_active DESC, profile_id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*contracts.ExitProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// UpsertProfile inserts or replaces a profile
func (s *Store) UpsertProfile(ctx context.Context, p *contracts.ExitProfile) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal profile config: %w", err)
	}

	query := `
		INSERT INTO trade.exit_profiles (
			profile_id,
			name,
			description,
			config,
			is_active,
			created_by,
			created_ts,
			updated_ts
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (profile_id) DO UPDATE
		SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			config = EXCLUDED.config,
			is_active = EXCLUDED.is_active,
			updated_ts = NOW()
	`

	_, err = s.pool.Exec(ctx, query,
		p.ProfileID,
		p.Name,
		p.Description,
		configJSON,
		p.IsActive,
		p.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
