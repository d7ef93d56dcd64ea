package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

const pgUniqueViolation = "23505"

const intentColumns = `
	intent_id,
	position_id,
	symbol,
	intent_type,
	qty,
	order_type,
	limit_price,
	reason_code,
	reason_detail,
	action_key,
	status,
	created_ts,
	updated_ts`

func scanIntent(row pgx.Row) (*contracts.OrderIntent, error) {
	var in contracts.OrderIntent
	if err := row.Scan(
		&in.IntentID,
		&in.PositionID,
		&in.Symbol,
		&in.IntentType,
		&in.Qty,
		&in.OrderType,
		&in.LimitPrice,
		&in.ReasonCode,
		&in.ReasonDetail,
		&in.ActionKey,
		&in.Status,
		&in.CreatedTS,
		&in.UpdatedTS,
	); err != nil {
		return nil, err
	}
	return &in, nil
}

// CreateIfNoActive is the check-and-set for the one-active-intent invariant.
// A per-position advisory lock serialises concurrent emitters across processes.
func (s *Store) CreateIfNoActive(ctx context.Context, intent *contracts.OrderIntent) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, intent.PositionID.String()); err != nil {
			return fmt.Errorf("lock position %s: %w", intent.PositionID, err)
		}

		var keyExists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM trade.order_intents WHERE action_key = $1)`,
			intent.ActionKey,
		).Scan(&keyExists)
		if err != nil {
			return fmt.Errorf("check action key: %w", err)
		}
		if keyExists {
			return exit.ErrIntentExists
		}

		var activeExists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM trade.order_intents WHERE position_id = $1 AND status = ANY($2))`,
			intent.PositionID, contracts.ActiveIntentStatusStrings(),
		).Scan(&activeExists)
		if err != nil {
			return fmt.Errorf("check active intent: %w", err)
		}
		if activeExists {
			return exit.ErrDuplicateIntent
		}

		query := `
			INSERT INTO trade.order_intents (
				intent_id,
				position_id,
				symbol,
				intent_type,
				qty,
				order_type,
				limit_price,
				reason_code,
				reason_detail,
				action_key,
				status,
				created_ts,
				updated_ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		_, err = tx.Exec(ctx, query,
			intent.IntentID,
			intent.PositionID,
			intent.Symbol,
			string(intent.IntentType),
			intent.Qty,
			string(intent.OrderType),
			intent.LimitPrice,
			string(intent.ReasonCode),
			intent.ReasonDetail,
			intent.ActionKey,
			string(intent.Status),
			intent.CreatedTS,
			intent.UpdatedTS,
		)
		if err != nil {
			return mapInsertError(err)
		}
		return nil
	})
}

// mapInsertError translates unique violations that slipped past the checks
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == activeIntentIndex {
			return exit.ErrDuplicateIntent
		}
		return exit.ErrIntentExists
	}
	return fmt.Errorf("insert intent: %w", err)
}

func (s *Store) GetIntent(ctx context.Context, intentID uuid.UUID) (*contracts.OrderIntent, error) {
	query := `SELECT` + intentColumns + `
		FROM trade.order_intents
		WHERE intent_id = $1
	`

	in, err := scanIntent(s.pool.QueryRow(ctx, query, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exit.ErrIntentNotFound
		}
		return nil, fmt.Errorf("query intent: %w", err)
	}
	return in, nil
}

// ListIntents returns matching intents, newest first
func (s *Store) ListIntents(ctx context.Context, f exit.IntentFilter) ([]*contracts.OrderIntent, error) {
	var (
		where []string
		args  []any
	)
	if f.PositionID != nil {
		args = append(args, *f.PositionID)
		where = append(where, fmt.Sprintf("position_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT` + intentColumns + ` FROM trade.order_intents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_ts DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	intents := make([]*contracts.OrderIntent, 0)
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}
	return intents, nil
}

// TransitionStatus is a compare-and-set on status
func (s *Store) TransitionStatus(ctx context.Context, intentID uuid.UUID, from []contracts.IntentStatus, to contracts.IntentStatus) error {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE trade.order_intents
		SET status = $3, updated_ts = NOW()
		WHERE intent_id = $1 AND status = ANY($2)
	`, intentID, allowed, string(to))
	if err != nil {
		return fmt.Errorf("update intent status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trade.order_intents WHERE intent_id = $1)`, intentID).Scan(&exists); err != nil {
		return fmt.Errorf("check intent: %w", err)
	}
	if !exists {
		return exit.ErrIntentNotFound
	}
	return exit.ErrInvalidTransition
}

// SubmittedQty is the qty already at the broker for positionID
func (s *Store) SubmittedQty(ctx context.Context, positionID uuid.UUID) (int64, error) {
	var qty int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty), 0)::BIGINT
		FROM trade.order_intents
		WHERE position_id = $1 AND status = $2
	`, positionID, string(contracts.IntentStatusSubmitted)).Scan(&qty)
	if err != nil {
		return 0, fmt.Errorf("query submitted qty: %w", err)
	}
	return qty, nil
}
