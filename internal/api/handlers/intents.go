package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

const (
	defaultIntentLimit = 100
	maxIntentLimit     = 1000
)

// IntentHandler handles order intent queries, approvals and router callbacks
type IntentHandler struct {
	intents exit.IntentStore
	emitter *exit.Emitter
	logger  *logger.Logger
}

// NewIntentHandler creates a new intent handler
func NewIntentHandler(intents exit.IntentStore, emitter *exit.Emitter, log *logger.Logger) *IntentHandler {
	return &IntentHandler{intents: intents, emitter: emitter, logger: log}
}

// ListIntents returns intents, newest first
// GET /api/exit/intents?position_id=&status=NEW,ACK&limit=
func (h *IntentHandler) ListIntents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := exit.IntentFilter{Limit: defaultIntentLimit}

	if v := q.Get("position_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid position_id")
			return
		}
		f.PositionID = &id
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, contracts.IntentStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	if v := q.Get("active"); v == "true" {
		f.Statuses = contracts.ActiveIntentStatuses[:]
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if n > maxIntentLimit {
			n = maxIntentLimit
		}
		f.Limit = n
	}

	intents, err := h.intents.ListIntents(r.Context(), f)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list intents")
		respondError(w, http.StatusInternalServerError, "Failed to list intents")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"intents": intents, "count": len(intents)})
}

func intentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid intent id")
		return uuid.Nil, false
	}
	return id, true
}

// GetIntent returns one intent
// GET /api/exit/intents/{id}
func (h *IntentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}
	in, err := h.intents.GetIntent(r.Context(), id)
	if err != nil {
		respondDomainError(w, err, "Failed to get intent")
		return
	}
	respondJSON(w, http.StatusOK, in)
}

// Approve moves PENDING_APPROVAL → NEW
// POST /api/exit/intents/{id}/approve
func (h *IntentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) error {
		return h.emitter.Approve(r.Context(), id, operator(r))
	})
}

// Cancel cancels an active intent
// POST /api/exit/intents/{id}/cancel
func (h *IntentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) error {
		return h.emitter.Cancel(r.Context(), id, operator(r))
	})
}

// UpdateStatusRequest router callback body
type UpdateStatusRequest struct {
	Status contracts.IntentStatus `json:"status"`
}

// UpdateStatus applies an order-router callback (ACK, SUBMITTED, FILLED, REJECTED)
// POST /api/exit/intents/{id}/status
func (h *IntentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.transition(w, r, func(id uuid.UUID) error {
		return h.emitter.UpdateStatus(r.Context(), id, req.Status)
	})
}

func (h *IntentHandler) transition(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID) error) {
	id, ok := intentID(w, r)
	if !ok {
		return
	}
	if err := apply(id); err != nil {
		respondDomainError(w, err, "Failed to update intent")
		return
	}

	in, err := h.intents.GetIntent(r.Context(), id)
	if err != nil {
		respondDomainError(w, err, "Failed to get intent")
		return
	}
	respondJSON(w, http.StatusOK, in)
}
