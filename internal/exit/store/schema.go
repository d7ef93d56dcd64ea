package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

const activeIntentIndex = "uq_order_intents_active"

// schemaStatements are idempotent; applied in order by Migrate
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS trade`,
	`CREATE SCHEMA IF NOT EXISTS market`,
	`CREATE SCHEMA IF NOT EXISTS data`,

	`CREATE TABLE IF NOT EXISTS trade.exit_profiles (
		profile_id  TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		config      JSONB NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_by  TEXT NOT NULL DEFAULT '',
		created_ts  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_ts  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS trade.positions (
		position_id     UUID PRIMARY KEY,
		account_id      TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		qty             BIGINT NOT NULL,
		original_qty    BIGINT,
		avg_price       NUMERIC(20, 4) NOT NULL,
		entry_ts        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status          TEXT NOT NULL DEFAULT 'OPEN',
		exit_mode       TEXT NOT NULL DEFAULT 'AUTO',
		exit_profile_id TEXT REFERENCES trade.exit_profiles (profile_id) ON DELETE SET NULL,
		updated_ts      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_open ON trade.positions (status) WHERE status = 'OPEN'`,

	`CREATE TABLE IF NOT EXISTS trade.position_state (
		position_id             UUID PRIMARY KEY,
		phase                   TEXT NOT NULL DEFAULT 'OPEN',
		hwm_price               NUMERIC(20, 4) NOT NULL,
		stop_floor_price        NUMERIC(20, 4),
		stop_floor_breach_ticks INT NOT NULL DEFAULT 0,
		trailing_breach_ticks   INT NOT NULL DEFAULT 0,
		fired_triggers          TEXT[] NOT NULL DEFAULT '{}',
		last_eval_ts            TIMESTAMPTZ,
		last_avg_price          NUMERIC(20, 4) NOT NULL,
		generation              INT NOT NULL DEFAULT 0,
		version                 INT NOT NULL DEFAULT 0,
		updated_ts              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS trade.symbol_exit_overrides (
		symbol         TEXT PRIMARY KEY,
		profile_id     TEXT NOT NULL REFERENCES trade.exit_profiles (profile_id),
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		effective_from TIMESTAMPTZ,
		reason         TEXT NOT NULL DEFAULT '',
		created_by     TEXT NOT NULL DEFAULT '',
		created_ts     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS trade.exit_control (
		id         INT PRIMARY KEY CHECK (id = 1),
		mode       TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT 'system',
		updated_ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`INSERT INTO trade.exit_control (id, mode) VALUES (1, 'RUNNING') ON CONFLICT (id) DO NOTHING`,

	`CREATE TABLE IF NOT EXISTS trade.order_intents (
		intent_id     UUID PRIMARY KEY,
		position_id   UUID NOT NULL,
		symbol        TEXT NOT NULL,
		intent_type   TEXT NOT NULL,
		qty           BIGINT NOT NULL CHECK (qty > 0),
		order_type    TEXT NOT NULL,
		limit_price   NUMERIC(20, 4),
		reason_code   TEXT NOT NULL,
		reason_detail TEXT NOT NULL DEFAULT '',
		action_key    TEXT NOT NULL UNIQUE,
		status        TEXT NOT NULL,
		created_ts    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_ts    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// active intent은 position당 최대 1개 (advisory lock과 별개로 DB에서도 보장)
	fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s
		ON trade.order_intents (position_id)
		WHERE status IN (%s)`, activeIntentIndex, sqlList(contracts.ActiveIntentStatusStrings())),
	`CREATE INDEX IF NOT EXISTS idx_order_intents_status ON trade.order_intents (status, created_ts DESC)`,

	`CREATE TABLE IF NOT EXISTS market.best_prices (
		symbol     TEXT PRIMARY KEY,
		price      NUMERIC(20, 4) NOT NULL,
		updated_ts TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS data.daily_prices (
		stock_code TEXT NOT NULL,
		trade_date DATE NOT NULL,
		high       NUMERIC(20, 4) NOT NULL,
		low        NUMERIC(20, 4) NOT NULL,
		close      NUMERIC(20, 4) NOT NULL,
		PRIMARY KEY (stock_code, trade_date)
	)`,
}

// Migrate creates the exit tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}

func sqlList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}
