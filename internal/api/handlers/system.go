package handlers

import (
	"context"
	"net/http"

	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/internal/scheduler"
	"github.com/wonny/aegis/exitengine/pkg/database"
)

// HealthChecker is satisfied by *database.DB
type HealthChecker interface {
	HealthCheck(ctx context.Context) *database.HealthStatus
}

// JobStatsProvider is satisfied by *scheduler.Scheduler
type JobStatsProvider interface {
	GetJobStats() map[string]scheduler.JobStats
}

// SystemHandler serves health and runtime status. Any dependency may be nil.
type SystemHandler struct {
	db     HealthChecker
	jobs   JobStatsProvider
	prices *cache.PriceCache
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(db HealthChecker, jobs JobStatsProvider, prices *cache.PriceCache) *SystemHandler {
	return &SystemHandler{db: db, jobs: jobs, prices: prices}
}

// Health returns 503 when the database is unreachable
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"service": "aegis-exit-engine",
	}

	if h.db != nil {
		st := h.db.HealthCheck(r.Context())
		body["database"] = st
		if !st.Healthy {
			body["status"] = "degraded"
			respondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// Status returns scheduler job stats and price cache stats
// GET /api/exit/status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{}
	if h.jobs != nil {
		body["jobs"] = h.jobs.GetJobStats()
	}
	if h.prices != nil {
		body["prices"] = h.prices.Stats()
	}
	respondJSON(w, http.StatusOK, body)
}
