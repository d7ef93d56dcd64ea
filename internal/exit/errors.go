package exit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStaleData price is missing or older than the staleness threshold (skip this cycle)
	ErrStaleData = errors.New("price data is stale")

	// ErrProfileNotFound referenced profile is missing or inactive (fall through to next tier)
	ErrProfileNotFound = errors.New("exit profile not found")

	// ErrDuplicateIntent an active intent already exists for the position (trigger dropped)
	ErrDuplicateIntent = errors.New("active intent already exists")

	// ErrIntentExists the action key was already emitted; matches ErrDuplicateIntent too
	ErrIntentExists = fmt.Errorf("%w: action key already emitted", ErrDuplicateIntent)

	// ErrNoAvailableQty the whole position is locked by SUBMITTED intents (trigger dropped)
	ErrNoAvailableQty = errors.New("no available qty")

	// ErrPersistence state write failed after retries (cycle discarded)
	ErrPersistence = errors.New("persistence failed")

	// ErrStateConflict optimistic version check failed (another evaluator saved first)
	ErrStateConflict = errors.New("position state version conflict")

	ErrIntentNotFound     = errors.New("intent not found")
	ErrInvalidTransition  = errors.New("invalid intent status transition")
	ErrPositionNotFound   = errors.New("position not found")
	ErrOverrideNotFound   = errors.New("symbol override not found")
	ErrInvalidControlMode = errors.New("invalid control mode")
)

// StaleDataError carries the symbol and age of the rejected quote
type StaleDataError struct {
	Symbol string
	Age    time.Duration // 0 when no quote exists
}

func (e *StaleDataError) Error() string {
	if e.Age == 0 {
		return fmt.Sprintf("no price for %s", e.Symbol)
	}
	return fmt.Sprintf("price for %s is %s old", e.Symbol, e.Age.Truncate(time.Millisecond))
}

func (e *StaleDataError) Unwrap() error {
	return ErrStaleData
}
