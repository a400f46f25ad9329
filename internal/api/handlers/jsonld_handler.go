package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/markdave123-py/Structa/internal/models"
)

// Converter turns elements into a JSON-LD document.
type Converter interface {
	Convert(ctx context.Context, elements models.ExtractionResult) (any, error)
}

// ArtifactWriter persists a JSON-LD document next to the extraction artifacts.
type ArtifactWriter interface {
	WriteJSONLD(source string, doc any) (models.Artifact, error)
}

type JSONLDHandler struct {
	converter Converter
	writer    ArtifactWriter
	maxBody   int64
}

func NewJSONLDHandler(converter Converter, writer ArtifactWriter) *JSONLDHandler {
	return &JSONLDHandler{converter: converter, writer: writer, maxBody: DefaultMaxUpload}
}

type jsonldResponse struct {
	Artifact models.Artifact `json:"artifact"`
	Document any             `json:"document"`
}

// Convert reads an element array and returns its JSON-LD rendition. The
// ?name= query parameter names the source the artifact is derived from.
func (h *JSONLDHandler) Convert(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	var elements models.ExtractionResult
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&elements); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode elements: %w", err))
		return
	}

	doc, err := h.converter.Convert(r.Context(), elements)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	artifact, err := h.writer.WriteJSONLD(name, doc)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, jsonldResponse{Artifact: artifact, Document: doc})
}
