package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
	"github.com/markjakearzadon/recetra-gobackend/internal/services"
	"github.com/markjakearzadon/recetra-gobackend/internal/store"
	"github.com/markjakearzadon/recetra-gobackend/internal/templates"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, errorResponse{Error: msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, services.ErrInvalidOutcome):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, templates.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateKey), errors.Is(err, services.ErrChannelSettled), errors.Is(err, services.ErrChannelBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Internal errors are logged and
// not echoed to the client.
func fail(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(action+" failed", zap.Error(err))
		writeError(w, logger, status, action+" failed")
		return
	}
	writeError(w, logger, status, err.Error())
}
