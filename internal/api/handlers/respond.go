package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps a pipeline error onto an HTTP status. Failures of the
// upstream partitioning or generation service are reported as gateway errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidStrategy):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrAuth), errors.Is(err, core.ErrService), errors.Is(err, core.ErrInvalidJSONLD):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
