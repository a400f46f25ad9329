package partitioner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/core/strategy"
)

func similarityRequest(t *testing.T) *Request {
	t.Helper()
	cfg := mustConfig(t, func(o *strategy.Options) {
		o.ChunkingStrategy = strategy.ChunkBySimilarity
		o.SimilarityThreshold = strategy.Float64(0.9)
	})
	req, err := BuildRequest(cfg, "report.pdf", pdfBytes)
	require.NoError(t, err)
	return req
}

func TestUnstructured_Partition(t *testing.T) {
	t.Run("Should post a multipart form and decode the elements", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/general/v0/general", r.URL.Path)
			assert.Equal(t, "secret", r.Header.Get("unstructured-api-key"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))

			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, []string{"hi_res"}, r.MultipartForm.Value["strategy"])
			assert.Equal(t, []string{"Image", "Table"}, r.MultipartForm.Value["extract_image_block_types"])
			assert.Equal(t, []string{"0.9"}, r.MultipartForm.Value["similarity_threshold"])
			assert.NotContains(t, r.MultipartForm.Value, "combine_under_n_chars")

			files := r.MultipartForm.File["files"]
			require.Len(t, files, 1)
			assert.Equal(t, "report.pdf", files[0].Filename)
			assert.Equal(t, "application/pdf", files[0].Header.Get("Content-Type"))

			f, err := files[0].Open()
			require.NoError(t, err)
			defer f.Close()
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Equal(t, pdfBytes, data)

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[
				{"type": "Title", "element_id": "a", "text": "Minutes", "metadata": {"page_number": 1, "filename": "report.pdf"}},
				{"type": "CompositeElement", "element_id": "b", "text": "Body", "metadata": {"orig_elements": "eJy..."}, "embeddings": null}
			]`)
		}))
		defer server.Close()

		client := NewUnstructured(server.URL+"/general/v0/general", WithToken("secret"), WithClient(server.Client()))
		elements, err := client.Partition(context.Background(), similarityRequest(t))
		require.NoError(t, err)

		require.Len(t, elements, 2)
		assert.Equal(t, "Title", elements[0].Type)
		assert.Equal(t, "Minutes", elements[0].Text)
		assert.Equal(t, float64(1), elements[0].Metadata["page_number"])
		assert.Equal(t, json.RawMessage("null"), elements[1].Extra["embeddings"])
	})

	t.Run("Should map 401 to AuthError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail": "API key is malformed, please type the API key correctly in the header."}`)
		}))
		defer server.Close()

		_, err := NewUnstructured(server.URL).Partition(context.Background(), similarityRequest(t))

		var authErr *core.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 401, authErr.Status)
		assert.Contains(t, authErr.Message, "API key is malformed")
		assert.False(t, core.IsRetryable(err))
	})

	t.Run("Should map 503 to a retryable ServiceError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "upstream overloaded")
		}))
		defer server.Close()

		_, err := NewUnstructured(server.URL).Partition(context.Background(), similarityRequest(t))

		var svcErr *core.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, 503, svcErr.Status)
		assert.Equal(t, "upstream overloaded", svcErr.Message)
		assert.True(t, core.IsRetryable(err))
	})

	t.Run("Should keep structured validation details", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"detail": [{"loc": ["body", "max_characters"], "msg": "bad"}]}`)
		}))
		defer server.Close()

		_, err := NewUnstructured(server.URL).Partition(context.Background(), similarityRequest(t))

		var svcErr *core.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, 422, svcErr.Status)
		assert.Contains(t, svcErr.Message, "max_characters")
	})

	t.Run("Should fail with TimeoutError past the deadline", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := NewUnstructured(server.URL).Partition(ctx, similarityRequest(t))
		assert.ErrorIs(t, err, core.ErrTimeout)
		assert.True(t, core.IsRetryable(err))
	})

	t.Run("Should treat an unreachable service as a ServiceError", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewUnstructured(url).Partition(context.Background(), similarityRequest(t))

		var svcErr *core.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Zero(t, svcErr.Status)
	})

	t.Run("Should report undecodable bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "<html>maintenance</html>")
		}))
		defer server.Close()

		_, err := NewUnstructured(server.URL).Partition(context.Background(), similarityRequest(t))
		assert.ErrorIs(t, err, core.ErrService)
	})

	t.Run("Should reject an empty request without calling out", func(t *testing.T) {
		_, err := NewUnstructured("http://127.0.0.1:1").Partition(context.Background(), &Request{FileName: "x.pdf"})
		assert.ErrorIs(t, err, core.ErrInvalidStrategy)
	})
}
