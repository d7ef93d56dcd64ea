package handlers

import (
	"net/http"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// ControlHandler exposes the global kill switch
type ControlHandler struct {
	store    exit.ControlStore
	governor *exit.Governor
	logger   *logger.Logger
}

// NewControlHandler creates a new control handler
func NewControlHandler(store exit.ControlStore, governor *exit.Governor, log *logger.Logger) *ControlHandler {
	return &ControlHandler{store: store, governor: governor, logger: log}
}

// SetControlRequest PUT body
type SetControlRequest struct {
	Mode   contracts.ControlMode `json:"mode"`
	Reason string                `json:"reason"`
}

// GetControl returns the current control row
// GET /api/exit/control
func (h *ControlHandler) GetControl(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.store.GetControl(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read exit control")
		respondError(w, http.StatusInternalServerError, "Failed to read exit control")
		return
	}
	respondJSON(w, http.StatusOK, ctrl)
}

// SetControl changes the mode
// PUT /api/exit/control
func (h *ControlHandler) SetControl(w http.ResponseWriter, r *http.Request) {
	var req SetControlRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctrl, err := h.governor.Set(r.Context(), req.Mode, req.Reason, operator(r))
	if err != nil {
		h.logger.WithError(err).WithField("mode", req.Mode).Warn("Failed to set exit control")
		respondDomainError(w, err, "Failed to set exit control")
		return
	}
	respondJSON(w, http.StatusOK, ctrl)
}
