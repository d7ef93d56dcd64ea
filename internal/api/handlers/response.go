package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
)

const operatorHeader = "X-Operator"

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	var verr contracts.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, exit.ErrInvalidControlMode):
		return http.StatusBadRequest
	case errors.Is(err, exit.ErrProfileNotFound),
		errors.Is(err, exit.ErrOverrideNotFound),
		errors.Is(err, exit.ErrPositionNotFound),
		errors.Is(err, exit.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, exit.ErrInvalidTransition), errors.Is(err, exit.ErrDuplicateIntent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes err with its mapped status; 5xx bodies are generic
func respondDomainError(w http.ResponseWriter, err error, fallback string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		respondError(w, status, fallback)
		return
	}
	respondError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func operator(r *http.Request) string {
	if op := r.Header.Get(operatorHeader); op != "" {
		return op
	}
	return "api"
}
