package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	db "github.com/markdave123-py/Structa/internal/core/database"
	"github.com/markdave123-py/Structa/internal/models"
)

// RunReader is the read side of the run ledger.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRunsByDocument(ctx context.Context, document string) ([]models.RunRecord, error)
}

type RunsHandler struct {
	runs RunReader
}

func NewRunsHandler(runs RunReader) *RunsHandler {
	return &RunsHandler{runs: runs}
}

// ListRuns returns the runs recorded for ?document=, newest first.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	document := r.URL.Query().Get("document")
	if document == "" {
		writeError(w, http.StatusBadRequest, errors.New("document is required"))
		return
	}

	runs, err := h.runs.ListRunsByDocument(r.Context(), document)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns one run. Run ids are UUIDs; anything else is a bad request.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run id %q", id))
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
