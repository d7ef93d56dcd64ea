package exit_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/internal/exit/memstore"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

type harness struct {
	store    *memstore.Store
	resolver *exit.Resolver
	governor *exit.Governor
	emitter  *exit.Emitter
	engine   *exit.Engine
}

func newHarness(t *testing.T, emitCfg exit.EmitterConfig) *harness {
	t.Helper()
	return newHarnessOn(t, memstore.New(), emitCfg)
}

// newHarnessOn builds a second engine over an existing store (restart / overlap)
func newHarnessOn(t *testing.T, store *memstore.Store, emitCfg exit.EmitterConfig) *harness {
	t.Helper()
	log := logger.Nop()

	h := &harness{store: store}
	h.resolver = exit.NewResolver(store, store, "default", time.Minute, log)
	h.governor = exit.NewGovernor(store, log)
	h.emitter = exit.NewEmitter(store, emitCfg, log)
	h.engine = exit.NewEngine(exit.EngineDeps{
		Positions:  store,
		States:     store,
		Intents:    store,
		Prices:     store,
		Volatility: store,
		Resolver:   h.resolver,
		Governor:   h.governor,
		Emitter:    h.emitter,
	}, exit.EngineConfig{
		StaleAfter:     10 * time.Second,
		Workers:        4,
		PersistRetries: 2,
		PersistBackoff: time.Millisecond,
	}, log)
	return h
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) addPosition(symbol, avg string, qty int64) *contracts.Position {
	pos := &contracts.Position{
		PositionID:  uuid.New(),
		AccountID:   "acc-1",
		Symbol:      symbol,
		Qty:         qty,
		OriginalQty: qty,
		AvgPrice:    d(avg),
		OpenedTS:    time.Now().Add(-48 * time.Hour),
		ExitMode:    contracts.ExitModeAuto,
	}
	h.store.PutPosition(pos)
	return pos
}

func (h *harness) price(symbol, price string) {
	h.store.SetQuote(symbol, d(price), time.Now())
}

func (h *harness) intentsFor(t *testing.T, positionID uuid.UUID) []*contracts.OrderIntent {
	t.Helper()
	out, err := h.store.ListIntents(t.Context(), exit.IntentFilter{PositionID: &positionID})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func testProfile(id string, active bool) *contracts.ExitProfile {
	p := contracts.DefaultExitProfile()
	p.ProfileID = id
	p.Name = id
	p.IsActive = active
	return p
}
