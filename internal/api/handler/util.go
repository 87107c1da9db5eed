package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayo6706/trade-settlement/internal/api/problem"
	"github.com/ayo6706/trade-settlement/internal/domain"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problemType, message)
}

// respondServiceError maps domain errors to problem responses. Anything
// unrecognised is logged and reported as a 500 under fallbackType.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackType string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "resource not found")
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
		RespondError(w, r, http.StatusInternalServerError, fallbackType, "internal error")
	}
}
