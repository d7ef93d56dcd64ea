package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/api/handlers"
	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/internal/exit/memstore"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/database"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

type testAPI struct {
	store   *memstore.Store
	handler http.Handler
}

func newTestAPI(t *testing.T, db handlers.HealthChecker) *testAPI {
	t.Helper()
	log := logger.Nop()
	store := memstore.New()

	resolver := exit.NewResolver(store, store, "default", time.Minute, log)
	governor := exit.NewGovernor(store, log)
	emitter := exit.NewEmitter(store, exit.EmitterConfig{}, log)
	admin := exit.NewAdmin(store, store, store, resolver, nil, log)

	h := Handlers{
		Control:   handlers.NewControlHandler(store, governor, log),
		Profiles:  handlers.NewProfileHandler(store, store, admin, log),
		Positions: handlers.NewPositionHandler(store, store, resolver, admin, log),
		Intents:   handlers.NewIntentHandler(store, emitter, log),
		System:    handlers.NewSystemHandler(db, nil, cache.NewPriceCache(time.Minute, log)),
	}
	return &testAPI{store: store, handler: NewRouter(h, true, log)}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Operator", "ops-1")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func swingDocument(id string) *exit.ProfileDocument {
	p := contracts.DefaultExitProfile()
	p.ProfileID = id
	p.Name = "Swing"
	p.Config.CustomRules = []contracts.CustomExitRule{
		{ID: "r1", Enabled: true, Condition: contracts.ConditionProfitAbove, ThresholdPct: 0.07, ExitPercent: 0.2, Priority: 1},
	}
	return exit.NewProfileDocument(p)
}

type fakeDB struct{ healthy bool }

func (f fakeDB) HealthCheck(context.Context) *database.HealthStatus {
	return &database.HealthStatus{Healthy: f.healthy}
}

func TestHealth(t *testing.T) {
	rec := newTestAPI(t, nil).do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = newTestAPI(t, fakeDB{healthy: false}).do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])

	rec = newTestAPI(t, fakeDB{healthy: true}).do(t, "GET", "/api/exit/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "prices")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	a.do(t, "GET", "/api/exit/control", nil)

	rec := a.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "exit_api_http_requests_total")
}

func TestControlEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "GET", "/api/exit/control", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RUNNING", decodeBody(t, rec)["mode"])

	rec = a.do(t, "PUT", "/api/exit/control", map[string]string{"mode": "PAUSE_PROFIT", "reason": "earnings"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "PAUSE_PROFIT", body["mode"])
	assert.Equal(t, "ops-1", body["updated_by"])

	ctrl, err := a.store.GetControl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.ControlModePauseProfit, ctrl.Mode)

	assert.Equal(t, http.StatusBadRequest, a.do(t, "PUT", "/api/exit/control", map[string]string{"mode": "PANIC"}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, "PUT", "/api/exit/control", `{"mode":"RUNNING","extra":1}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(t, "DELETE", "/api/exit/control", nil).Code)
}

func TestProfileEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "PUT", "/api/exit/profiles/swing", swingDocument("swing"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody(t, rec)["hash"])

	stored, err := a.store.GetProfile(context.Background(), "swing")
	require.NoError(t, err)
	require.Len(t, stored.Config.CustomRules, 1)
	assert.InDelta(t, 0.07, stored.Config.CustomRules[0].ThresholdPct, 1e-9)
	assert.Equal(t, "ops-1", stored.CreatedBy)

	rec = a.do(t, "GET", "/api/exit/profiles/swing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc exit.ProfileDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Config.CustomRules, 1)
	assert.InDelta(t, 7.0, doc.Config.CustomRules[0].Threshold, 1e-9)
	assert.InDelta(t, 20.0, doc.Config.CustomRules[0].ExitPercent, 1e-9)

	rec = a.do(t, "GET", "/api/exit/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	t.Run("id from path", func(t *testing.T) {
		doc := swingDocument("")
		rec := a.do(t, "PUT", "/api/exit/profiles/pathonly", doc)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		stored, err := a.store.GetProfile(context.Background(), "pathonly")
		require.NoError(t, err)
		assert.Equal(t, "pathonly", stored.ProfileID)
	})

	t.Run("id mismatch", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(t, "PUT", "/api/exit/profiles/other", swingDocument("swing")).Code)
	})

	t.Run("invalid profile", func(t *testing.T) {
		bad := swingDocument("bad")
		bad.Config.TP1.BasePct = -0.07
		assert.Equal(t, http.StatusBadRequest, a.do(t, "PUT", "/api/exit/profiles/bad", bad).Code)
		_, err := a.store.GetProfile(context.Background(), "bad")
		assert.ErrorIs(t, err, exit.ErrProfileNotFound)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := a.do(t, "PUT", "/api/exit/profiles/x", `{"profile_id":"x","name":"x","config":{},"bogus":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(t, "GET", "/api/exit/profiles/nope", nil).Code)
	})

	t.Run("validate", func(t *testing.T) {
		rec := a.do(t, "POST", "/api/exit/profiles/validate", swingDocument("v"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["valid"])

		bad := swingDocument("v")
		bad.Config.SL1.BasePct = 0.03
		rec = a.do(t, "POST", "/api/exit/profiles/validate", bad)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["valid"])
		assert.Contains(t, body["error"], "sl1.base_pct")
	})
}

func TestOverrideEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "PUT", "/api/exit/overrides/005930", map[string]interface{}{"profile_id": "swing", "enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code, "target profile must exist")

	require.Equal(t, http.StatusOK, a.do(t, "PUT", "/api/exit/profiles/swing", swingDocument("swing")).Code)
	rec = a.do(t, "PUT", "/api/exit/overrides/005930", map[string]interface{}{"profile_id": "swing", "enabled": true, "reason": "volatile"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, "GET", "/api/exit/overrides", nil)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusNoContent, a.do(t, "DELETE", "/api/exit/overrides/005930", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, "DELETE", "/api/exit/overrides/005930", nil).Code)
}

func TestPositionEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)
	pos := &contracts.Position{
		PositionID:  uuid.New(),
		Symbol:      "005930",
		Qty:         100,
		OriginalQty: 100,
		AvgPrice:    decimal.NewFromInt(70000),
		OpenedTS:    time.Now(),
		ExitMode:    contracts.ExitModeAuto,
	}
	a.store.PutPosition(pos)
	base := "/api/exit/positions/" + pos.PositionID.String()

	rec := a.do(t, "GET", base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "builtin", body["profile_tier"])
	assert.Equal(t, []interface{}{}, body["fired_triggers"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/exit/positions/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, "GET", "/api/exit/positions/"+uuid.NewString(), nil).Code)

	rec = a.do(t, "PUT", base+"/mode", map[string]string{"exit_mode": "MANUAL_APPROVAL"})
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := a.store.GetPosition(context.Background(), pos.PositionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ExitModeManualApproval, got.ExitMode)

	assert.Equal(t, http.StatusBadRequest, a.do(t, "PUT", base+"/mode", map[string]string{"exit_mode": "YOLO"}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, "PUT", base+"/profile", map[string]string{"profile_id": "missing"}).Code)

	require.Equal(t, http.StatusOK, a.do(t, "PUT", "/api/exit/profiles/swing", swingDocument("swing")).Code)
	require.Equal(t, http.StatusOK, a.do(t, "PUT", base+"/profile", map[string]string{"profile_id": "swing"}).Code)
	rec = a.do(t, "GET", base, nil)
	body = decodeBody(t, rec)
	assert.Equal(t, "position", body["profile_tier"])
	assert.Equal(t, "swing", body["effective_profile_id"])

	require.Equal(t, http.StatusOK, a.do(t, "PUT", base+"/profile", `{"profile_id":null}`).Code)
	got, err = a.store.GetPosition(context.Background(), pos.PositionID)
	require.NoError(t, err)
	assert.Nil(t, got.ExitProfileID)
}

func TestIntentEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)
	posID := uuid.New()
	in := &contracts.OrderIntent{
		IntentID:   uuid.New(),
		PositionID: posID,
		Symbol:     "005930",
		IntentType: contracts.IntentTypeExitPartial,
		Qty:        10,
		OrderType:  contracts.OrderTypeMKT,
		ReasonCode: contracts.TriggerTP1,
		ActionKey:  exit.ActionKey(posID, 0, contracts.TriggerTP1),
		Status:     contracts.IntentStatusPendingApproval,
		CreatedTS:  time.Now(),
		UpdatedTS:  time.Now(),
	}
	a.store.PutIntent(in)
	base := "/api/exit/intents/" + in.IntentID.String()

	rec := a.do(t, "GET", "/api/exit/intents?active=true&position_id="+posID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = a.do(t, "POST", base+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "NEW", decodeBody(t, rec)["status"])

	assert.Equal(t, http.StatusConflict, a.do(t, "POST", base+"/approve", nil).Code)

	rec = a.do(t, "POST", base+"/status", map[string]string{"status": "ACK"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ACK", decodeBody(t, rec)["status"])

	assert.Equal(t, http.StatusConflict, a.do(t, "POST", base+"/status", map[string]string{"status": "CANCELLED"}).Code)

	rec = a.do(t, "POST", base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decodeBody(t, rec)["status"])

	rec = a.do(t, "GET", "/api/exit/intents?status=cancelled", nil)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusNotFound, a.do(t, "POST", "/api/exit/intents/"+uuid.NewString()+"/cancel", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/exit/intents?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/exit/intents?position_id=x", nil).Code)
}
