package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/markdave123-py/Structa/internal/core/extraction_engine"
	"github.com/markdave123-py/Structa/internal/core/strategy"
	"github.com/markdave123-py/Structa/internal/logger"
	"github.com/markdave123-py/Structa/internal/models"
)

// DefaultMaxUpload bounds the size of an uploaded document.
const DefaultMaxUpload = 50 << 20

// Extractor runs one document through several strategies.
type Extractor interface {
	RunStrategies(ctx context.Context, doc extraction_engine.Document, options []strategy.Options) []extraction_engine.Result
}

type ExtractHandler struct {
	extractor Extractor
	maxUpload int64
}

func NewExtractHandler(extractor Extractor, maxUpload int64) *ExtractHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &ExtractHandler{extractor: extractor, maxUpload: maxUpload}
}

type runResponse struct {
	RunID                string                  `json:"run_id,omitempty"`
	PartitioningStrategy string                  `json:"partitioning_strategy"`
	ChunkingStrategy     string                  `json:"chunking_strategy"`
	Stage                string                  `json:"stage"`
	Attempts             int                     `json:"attempts"`
	Artifact             *models.Artifact        `json:"artifact,omitempty"`
	ElementCount         int                     `json:"element_count"`
	Elements             models.ExtractionResult `json:"elements,omitempty"`
	Error                string                  `json:"error,omitempty"`
}

type extractResponse struct {
	Document string        `json:"document"`
	Runs     []runResponse `json:"runs"`
}

// Extract partitions the uploaded "file" once per requested chunking
// strategy. It answers 200 when at least one run persisted; otherwise the
// status reflects the first failure. ?elements=true inlines the elements.
func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("document exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("files")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing file"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read file: %w", err))
		return
	}

	options, err := optionsFromForm(r.MultipartForm.Value)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	doc := extraction_engine.Document{Name: filepath.Base(header.Filename), Content: content}
	results := h.extractor.RunStrategies(r.Context(), doc, options)

	inline := r.URL.Query().Get("elements") == "true"
	resp := extractResponse{Document: doc.Name, Runs: make([]runResponse, 0, len(results))}

	status := http.StatusOK
	var firstErr error
	succeeded := 0
	for _, res := range results {
		rr := runResponse{
			PartitioningStrategy: string(res.Job.Options.PartitioningStrategy),
			ChunkingStrategy:     string(res.Job.Options.ChunkingStrategy),
		}
		if res.Err != nil {
			rr.Stage = extraction_engine.StageFailed.String()
			rr.Error = res.Err.Error()
			var se *extraction_engine.StageError
			if errors.As(res.Err, &se) {
				rr.RunID = se.RunID
				rr.Attempts = se.Attempts
			}
			if firstErr == nil {
				firstErr = res.Err
			}
		} else {
			out := res.Outcome
			artifact := out.Artifact
			rr.RunID = out.RunID
			rr.Stage = out.Stage.String()
			rr.Attempts = out.Attempts
			rr.Artifact = &artifact
			rr.ElementCount = len(out.Elements)
			if inline {
				rr.Elements = out.Elements
			}
			succeeded++
		}
		resp.Runs = append(resp.Runs, rr)
	}

	if succeeded == 0 && firstErr != nil {
		status = statusFor(firstErr)
		logger.Warn("extract: every run failed", "document", doc.Name, "err", firstErr)
	}
	writeJSON(w, status, resp)
}
