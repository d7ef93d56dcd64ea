// Package store implements the exit stores on PostgreSQL (pgx).
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/database"
)

// Store implements every exit repository over one pool
// ⭐ SSOT: trade.* 청산 테이블 접근은 여기서만
type Store struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// New creates the store
func New(db *database.DB) *Store {
	return &Store{db: db, pool: db.Pool}
}

var (
	_ exit.PositionStore = (*Store)(nil)
	_ exit.StateStore    = (*Store)(nil)
	_ exit.ProfileStore  = (*Store)(nil)
	_ exit.OverrideStore = (*Store)(nil)
	_ exit.ControlStore  = (*Store)(nil)
	_ exit.IntentStore   = (*Store)(nil)
)
