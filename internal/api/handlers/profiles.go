package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// ProfileHandler handles exit profile and symbol override endpoints.
// Bodies use exit.ProfileDocument (percent-integer custom rules).
type ProfileHandler struct {
	profiles  exit.ProfileStore
	overrides exit.OverrideStore
	admin     *exit.Admin
	logger    *logger.Logger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles exit.ProfileStore, overrides exit.OverrideStore, admin *exit.Admin, log *logger.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, overrides: overrides, admin: admin, logger: log}
}

// ProfileResponse is a profile document plus its config hash
type ProfileResponse struct {
	*exit.ProfileDocument
	Hash string `json:"hash"`
}

func newProfileResponse(p *contracts.ExitProfile) ProfileResponse {
	hash, _ := exit.ProfileHash(p)
	return ProfileResponse{ProfileDocument: exit.NewProfileDocument(p), Hash: hash}
}

// ListProfiles returns all profiles
// GET /api/exit/profiles
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.ListProfiles(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list profiles")
		respondError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newProfileResponse(p))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"profiles": out, "count": len(out)})
}

// GetProfile returns one profile
// GET /api/exit/profiles/{id}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondDomainError(w, err, "Failed to get profile")
		return
	}
	respondJSON(w, http.StatusOK, newProfileResponse(p))
}

// PutProfile validates and upserts a profile. The body may omit profile_id;
// when present it must match the path.
// PUT /api/exit/profiles/{id}
func (h *ProfileHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var doc exit.ProfileDocument
	if err := decodeJSON(r, &doc); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid profile document: "+err.Error())
		return
	}
	if doc.ProfileID == "" {
		doc.ProfileID = id
	} else if doc.ProfileID != id {
		respondError(w, http.StatusBadRequest, "profile_id does not match path")
		return
	}

	p, err := doc.ToProfile()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.CreatedBy = operator(r)

	if err := h.admin.SaveProfile(r.Context(), p); err != nil {
		h.logger.WithError(err).WithField("profile_id", id).Warn("Failed to save profile")
		respondDomainError(w, err, "Failed to save profile")
		return
	}
	respondJSON(w, http.StatusOK, newProfileResponse(p))
}

// ValidateProfile checks a document without saving it
// POST /api/exit/profiles/validate
func (h *ProfileHandler) ValidateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := exit.DecodeProfileJSON(r.Body)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	hash, _ := exit.ProfileHash(p)
	respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "hash": hash})
}

// ListOverrides returns all symbol overrides
// GET /api/exit/overrides
func (h *ProfileHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.overrides.ListOverrides(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list overrides")
		respondError(w, http.StatusInternalServerError, "Failed to list overrides")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"overrides": overrides, "count": len(overrides)})
}

// PutOverride upserts the override for a symbol
// PUT /api/exit/overrides/{symbol}
func (h *ProfileHandler) PutOverride(w http.ResponseWriter, r *http.Request) {
	var o contracts.SymbolOverride
	if err := decodeJSON(r, &o); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	o.Symbol = mux.Vars(r)["symbol"]
	o.CreatedBy = operator(r)

	if err := h.admin.SetOverride(r.Context(), &o); err != nil {
		h.logger.WithError(err).WithField("symbol", o.Symbol).Warn("Failed to set override")
		respondDomainError(w, err, "Failed to set override")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// DeleteOverride removes the override for a symbol
// DELETE /api/exit/overrides/{symbol}
func (h *ProfileHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteOverride(r.Context(), mux.Vars(r)["symbol"]); err != nil {
		respondDomainError(w, err, "Failed to delete override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
