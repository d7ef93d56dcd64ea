package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PositionHandler handles per-position exit settings
type PositionHandler struct {
	positions exit.PositionStore
	states    exit.StateStore
	resolver  *exit.Resolver
	admin     *exit.Admin
	logger    *logger.Logger
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(positions exit.PositionStore, states exit.StateStore, resolver *exit.Resolver, admin *exit.Admin, log *logger.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, states: states, resolver: resolver, admin: admin, logger: log}
}

// PositionExitView is a position with its effective profile and exit state
type PositionExitView struct {
	Position  *contracts.Position      `json:"position"`
	ProfileID string                   `json:"effective_profile_id"`
	Tier      exit.ResolveTier         `json:"profile_tier"`
	State     *contracts.PositionState `json:"state,omitempty"`
	Fired     []contracts.TriggerID    `json:"fired_triggers"`
}

func positionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid position id")
		return uuid.Nil, false
	}
	return id, true
}

// GetPositionExit returns the position, resolved profile and stored state
// GET /api/exit/positions/{id}
func (h *PositionHandler) GetPositionExit(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	pos, err := h.positions.GetPosition(ctx, id)
	if err != nil {
		respondDomainError(w, err, "Failed to get position")
		return
	}
	state, err := h.states.LoadState(ctx, id)
	if err != nil {
		h.logger.WithError(err).WithField("position_id", id.String()).Error("Failed to load position state")
		respondError(w, http.StatusInternalServerError, "Failed to load position state")
		return
	}

	res := h.resolver.Resolve(ctx, pos)
	view := PositionExitView{
		Position:  pos,
		ProfileID: res.Profile.ProfileID,
		Tier:      res.Tier,
		State:     state,
		Fired:     []contracts.TriggerID{},
	}
	if state != nil {
		view.Fired = state.FiredList()
	}
	respondJSON(w, http.StatusOK, view)
}

// AssignProfileRequest PUT body; null profile_id clears the assignment
type AssignProfileRequest struct {
	ProfileID *string `json:"profile_id"`
}

// AssignProfile sets the position-level profile
// PUT /api/exit/positions/{id}/profile
func (h *PositionHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req AssignProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.admin.AssignPositionProfile(r.Context(), id, req.ProfileID); err != nil {
		respondDomainError(w, err, "Failed to assign profile")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"position_id": id, "profile_id": req.ProfileID})
}

// SetModeRequest PUT body
type SetModeRequest struct {
	ExitMode contracts.ExitMode `json:"exit_mode"`
}

// SetExitMode changes AUTO / MANUAL_APPROVAL / DISABLED
// PUT /api/exit/positions/{id}/mode
func (h *PositionHandler) SetExitMode(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req SetModeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.admin.SetExitMode(r.Context(), id, req.ExitMode); err != nil {
		respondDomainError(w, err, "Failed to set exit mode")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"position_id": id, "exit_mode": req.ExitMode})
}
