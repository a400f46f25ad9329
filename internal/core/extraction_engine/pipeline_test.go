package extraction_engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/core/partitioner"
	"github.com/markdave123-py/Structa/internal/core/strategy"
	"github.com/markdave123-py/Structa/internal/logger"
	"github.com/markdave123-py/Structa/internal/models"
)

const paragraph = "The committee approved the budget after a short debate."

var samplePDF = Document{
	Name:    "minutes.pdf",
	Content: []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"),
}

// echoParagraph answers like the service does for a one-paragraph page.
func echoParagraph(_ context.Context, _ int, req *partitioner.Request) ([]models.Element, error) {
	return []models.Element{{
		Type:      "Text",
		ElementID: "e-1",
		Text:      paragraph,
		Metadata: map[string]any{
			"filename":    req.FileName,
			"filetype":    "application/pdf",
			"languages":   []any{"eng"},
			"page_number": float64(1),
		},
	}}, nil
}

func similarityOptions() strategy.Options {
	opts := strategy.DefaultOptions()
	opts.PartitioningStrategy = strategy.PartitionHiRes
	opts.ChunkingStrategy = strategy.ChunkBySimilarity
	opts.SimilarityThreshold = strategy.Float64(0.9)
	opts.MaxCharacters = 5000000
	return opts
}

func titleOptions() strategy.Options {
	return strategy.DefaultOptions()
}

func newTestPipeline(t *testing.T, p partitioner.Partitioner, opts ...Option) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewOutputWriter(dir).WithClock(fixedClock)
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return NewPipeline(p, w, opts...), dir
}

func fastRetries(n uint64) RetryPolicy {
	return RetryPolicy{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "idle", StageIdle.String())
	assert.Equal(t, "response_received", StageResponseReceived.String())
	assert.Equal(t, "persisted", StagePersisted.String())
	assert.Equal(t, "failed", StageFailed.String())
	assert.Equal(t, "stage(42)", Stage(42).String())
}

func TestPipeline_Run(t *testing.T) {
	t.Run("Should persist one scrubbed Text element for a one-paragraph document", func(t *testing.T) {
		fake := &fakePartitioner{fn: echoParagraph}
		p, _ := newTestPipeline(t, fake)

		out, err := p.Run(context.Background(), Job{Document: samplePDF, Options: similarityOptions()})
		require.NoError(t, err)

		require.Len(t, out.Elements, 1)
		el := out.Elements[0]
		assert.Equal(t, "Text", el.Type)
		assert.Equal(t, paragraph, el.Text)
		assert.NotContains(t, el.Metadata, "filename")
		assert.NotContains(t, el.Metadata, "filetype")
		assert.NotContains(t, el.Metadata, "languages")
		assert.Equal(t, float64(1), el.Metadata["page_number"])

		assert.Equal(t, StagePersisted, out.Stage)
		assert.Equal(t, 1, out.Attempts)
		assert.Equal(t, "minutes_by_similarity_layout_v1.1.0_20240309_140507.json", filepath.Base(out.Artifact.Path))
		assert.FileExists(t, out.Artifact.Path)

		req := fake.requests[0]
		assert.Equal(t, "0.9", req.Value(partitioner.FieldSimilarityThreshold))
		assert.Equal(t, "5000000", req.Value(partitioner.FieldMaxCharacters))
		assert.Equal(t, "hi_res", req.Value(partitioner.FieldStrategy))
		assert.False(t, req.Has(partitioner.FieldCombineUnderNChars))
	})

	t.Run("Should walk every stage in order", func(t *testing.T) {
		var seen []Stage
		hook := func(_ string, from, to Stage) {
			if len(seen) == 0 {
				seen = append(seen, from)
			}
			seen = append(seen, to)
		}
		p, _ := newTestPipeline(t, &fakePartitioner{fn: echoParagraph}, WithTransitionHook(hook))

		_, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.NoError(t, err)

		assert.Equal(t, []Stage{
			StageIdle, StageConfigBuilt, StageRequestSent,
			StageResponseReceived, StageNormalized, StagePersisted,
		}, seen)
	})

	t.Run("Should retry a 503 exactly twice before surfacing the ServiceError", func(t *testing.T) {
		fake := &fakePartitioner{fn: func(context.Context, int, *partitioner.Request) ([]models.Element, error) {
			return nil, &core.ServiceError{Status: 503, Message: "Service Unavailable"}
		}}
		p, dir := newTestPipeline(t, fake, WithRetryPolicy(fastRetries(2)))

		out, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.Error(t, err)
		assert.Nil(t, out)

		assert.Equal(t, 3, fake.Calls())

		var svcErr *core.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, 503, svcErr.Status)

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageResponseReceived, stageErr.Stage)
		assert.Equal(t, 3, stageErr.Attempts)

		assertEmptyDir(t, dir)
	})

	t.Run("Should succeed once a retried call recovers", func(t *testing.T) {
		fake := &fakePartitioner{fn: func(ctx context.Context, call int, req *partitioner.Request) ([]models.Element, error) {
			if call == 1 {
				return nil, &core.ServiceError{Status: 502, Message: "Bad Gateway"}
			}
			return echoParagraph(ctx, call, req)
		}}
		p, _ := newTestPipeline(t, fake, WithRetryPolicy(fastRetries(2)))

		out, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.NoError(t, err)
		assert.Equal(t, 2, out.Attempts)
		assert.Equal(t, 2, fake.Calls())
	})

	t.Run("Should not retry by default", func(t *testing.T) {
		fake := &fakePartitioner{fn: func(context.Context, int, *partitioner.Request) ([]models.Element, error) {
			return nil, &core.ServiceError{Status: 500, Message: "boom"}
		}}
		p, _ := newTestPipeline(t, fake)

		_, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		assert.ErrorIs(t, err, core.ErrService)
		assert.Equal(t, 1, fake.Calls())
	})

	t.Run("Should never retry an AuthError", func(t *testing.T) {
		fake := &fakePartitioner{fn: func(context.Context, int, *partitioner.Request) ([]models.Element, error) {
			return nil, &core.AuthError{Status: 401, Message: "API key is invalid"}
		}}
		p, _ := newTestPipeline(t, fake, WithRetryPolicy(fastRetries(5)))

		_, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		assert.ErrorIs(t, err, core.ErrAuth)
		assert.Equal(t, 1, fake.Calls())
	})

	t.Run("Should retry timeouts using a per-attempt deadline", func(t *testing.T) {
		fake := &fakePartitioner{fn: func(ctx context.Context, _ int, _ *partitioner.Request) ([]models.Element, error) {
			<-ctx.Done()
			return nil, &core.TimeoutError{Err: ctx.Err()}
		}}
		policy := fastRetries(1)
		policy.RequestTimeout = 10 * time.Millisecond
		p, _ := newTestPipeline(t, fake, WithRetryPolicy(policy))

		_, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		assert.ErrorIs(t, err, core.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 2, fake.Calls())
	})

	t.Run("Should fail with a TimeoutError when the caller deadline ends mid-retry", func(t *testing.T) {
		fake := &fakePartitioner{fn: func(ctx context.Context, _ int, _ *partitioner.Request) ([]models.Element, error) {
			<-ctx.Done()
			return nil, &core.TimeoutError{Err: ctx.Err()}
		}}
		p, dir := newTestPipeline(t, fake, WithRetryPolicy(fastRetries(2)))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := p.Run(ctx, Job{Document: samplePDF, Options: titleOptions()})

		assert.ErrorIs(t, err, core.ErrTimeout)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageResponseReceived, stageErr.Stage)
		assert.Equal(t, 1, fake.Calls())
		assertEmptyDir(t, dir)
	})

	t.Run("Should keep the ServiceError when cancelled during a backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fake := &fakePartitioner{fn: func(context.Context, int, *partitioner.Request) ([]models.Element, error) {
			cancel()
			return nil, &core.ServiceError{Status: 503, Message: "Service Unavailable"}
		}}
		policy := RetryPolicy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}
		p, _ := newTestPipeline(t, fake, WithRetryPolicy(policy))

		_, err := p.Run(ctx, Job{Document: samplePDF, Options: titleOptions()})

		assert.ErrorIs(t, err, core.ErrService)
		assert.ErrorIs(t, err, context.Canceled)
		var svcErr *core.ServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, 503, svcErr.Status)
		assert.Equal(t, 1, fake.Calls())
	})

	t.Run("Should reject an invalid strategy before any call", func(t *testing.T) {
		fake := &fakePartitioner{fn: echoParagraph}
		var last Stage
		p, dir := newTestPipeline(t, fake, WithTransitionHook(func(_ string, _, to Stage) { last = to }))

		opts := similarityOptions()
		opts.SimilarityThreshold = nil
		_, err := p.Run(context.Background(), Job{Document: samplePDF, Options: opts})

		assert.ErrorIs(t, err, core.ErrInvalidStrategy)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageConfigBuilt, stageErr.Stage)
		assert.Equal(t, StageFailed, last)
		assert.Zero(t, fake.Calls())
		assertEmptyDir(t, dir)
	})

	t.Run("Should reject an empty document before any call", func(t *testing.T) {
		fake := &fakePartitioner{fn: echoParagraph}
		p, _ := newTestPipeline(t, fake)

		_, err := p.Run(context.Background(), Job{Document: Document{Name: "empty.pdf"}, Options: titleOptions()})

		assert.ErrorIs(t, err, core.ErrInvalidStrategy)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageRequestSent, stageErr.Stage)
		assert.Zero(t, fake.Calls())
	})

	t.Run("Should fail at persistence with an IOError", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

		w := NewOutputWriter(filepath.Join(blocker, "out")).WithClock(fixedClock)
		p := NewPipeline(&fakePartitioner{fn: echoParagraph}, w, WithLogger(logger.Discard()))

		_, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		assert.ErrorIs(t, err, core.ErrIO)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StagePersisted, stageErr.Stage)
	})

	t.Run("Should stop when the context is cancelled", func(t *testing.T) {
		fake := &fakePartitioner{fn: echoParagraph}
		p, _ := newTestPipeline(t, fake)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Run(ctx, Job{Document: samplePDF, Options: titleOptions()})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, fake.Calls())
	})
}

func TestPipeline_RunLedger(t *testing.T) {
	t.Run("Should record persisted and failed runs", func(t *testing.T) {
		store := newFakeRunStore()
		fake := &fakePartitioner{fn: func(ctx context.Context, call int, req *partitioner.Request) ([]models.Element, error) {
			if req.Value(partitioner.FieldChunkingStrategy) == string(strategy.ChunkBySimilarity) {
				return nil, &core.AuthError{Status: 403, Message: "forbidden"}
			}
			return echoParagraph(ctx, call, req)
		}}
		p, _ := newTestPipeline(t, fake, WithRunStore(store))

		ok, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.NoError(t, err)
		_, err = p.Run(context.Background(), Job{Document: samplePDF, Options: similarityOptions()})
		require.Error(t, err)

		require.Len(t, store.created, 2)
		assert.Equal(t, "running", store.created[0].Status)

		rec := store.finished[ok.RunID]
		assert.Equal(t, "persisted", rec.Status)
		assert.Equal(t, "persisted", rec.Stage)
		assert.Equal(t, ok.Artifact.Path, rec.ArtifactPath)
		assert.Equal(t, 1, rec.ElementCount)
		assert.Equal(t, "layout_v1.1.0", rec.ModelName)
		assert.NotNil(t, rec.FinishedAt)

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		failed := store.finished[stageErr.RunID]
		assert.Equal(t, "failed", failed.Status)
		assert.Equal(t, "failed", failed.Stage)
		assert.Contains(t, failed.Error, "forbidden")
		assert.Equal(t, 1, failed.Attempts)
	})

	t.Run("Should record the document by file name", func(t *testing.T) {
		store := newFakeRunStore()
		p, _ := newTestPipeline(t, &fakePartitioner{fn: echoParagraph}, WithRunStore(store))

		doc := samplePDF
		doc.Name = filepath.Join("archive", "2024", "minutes.pdf")
		out, err := p.Run(context.Background(), Job{Document: doc, Options: titleOptions()})
		require.NoError(t, err)

		assert.Equal(t, "minutes.pdf", store.created[0].Document)
		assert.Equal(t, "minutes.pdf", store.finished[out.RunID].Document)
	})

	t.Run("Should not fail a run when the ledger is unavailable", func(t *testing.T) {
		store := newFakeRunStore()
		store.err = errors.New("connection refused")
		p, _ := newTestPipeline(t, &fakePartitioner{fn: echoParagraph}, WithRunStore(store))

		out, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.NoError(t, err)
		assert.Equal(t, StagePersisted, out.Stage)
	})
}

func TestPipeline_Mirror(t *testing.T) {
	t.Run("Should upload the persisted artifact", func(t *testing.T) {
		objects := newFakeObjects()
		p, _ := newTestPipeline(t, &fakePartitioner{fn: echoParagraph}, WithMirror(objects, "structa"))

		out, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.NoError(t, err)

		key := ArtifactKey(out.Artifact.Path)
		assert.Equal(t, "https://structa.s3.us-east-1.amazonaws.com/"+key, out.Artifact.URL)

		onDisk, err := os.ReadFile(out.Artifact.Path)
		require.NoError(t, err)
		assert.Equal(t, onDisk, objects.objects["structa/"+key])
	})

	t.Run("Should keep the run persisted when the upload fails", func(t *testing.T) {
		objects := newFakeObjects()
		objects.err = errors.New("access denied")
		p, _ := newTestPipeline(t, &fakePartitioner{fn: echoParagraph}, WithMirror(objects, "structa"))

		out, err := p.Run(context.Background(), Job{Document: samplePDF, Options: titleOptions()})
		require.NoError(t, err)
		assert.Empty(t, out.Artifact.URL)
		assert.FileExists(t, out.Artifact.Path)
	})
}

func TestPipeline_RunStrategies(t *testing.T) {
	t.Run("Should produce distinct artifacts for by_title and by_similarity", func(t *testing.T) {
		p, _ := newTestPipeline(t, &fakePartitioner{fn: echoParagraph})

		results := p.RunStrategies(context.Background(), samplePDF, []strategy.Options{titleOptions(), similarityOptions()})
		require.Len(t, results, 2)
		require.NoError(t, Errors(results))

		a, b := results[0].Outcome.Artifact, results[1].Outcome.Artifact
		assert.NotEqual(t, a.Path, b.Path)
		assert.Equal(t, "by_title", a.Suffix)
		assert.Equal(t, "by_similarity", b.Suffix)
		assert.FileExists(t, a.Path)
		assert.FileExists(t, b.Path)
	})

	t.Run("Should keep going after a failed strategy", func(t *testing.T) {
		fake := &fakePartitioner{fn: echoParagraph}
		p, _ := newTestPipeline(t, fake)

		bad := similarityOptions()
		bad.SimilarityThreshold = strategy.Float64(1.5)

		results := p.RunStrategies(context.Background(), samplePDF, []strategy.Options{bad, titleOptions()})
		require.Len(t, results, 2)
		assert.ErrorIs(t, results[0].Err, core.ErrInvalidStrategy)
		assert.Nil(t, results[0].Outcome)
		assert.NoError(t, results[1].Err)
		assert.Equal(t, 1, fake.Calls())
	})
}

func TestPipeline_RunAll(t *testing.T) {
	t.Run("Should bound concurrency and keep failures independent", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		fake := &fakePartitioner{fn: func(ctx context.Context, call int, req *partitioner.Request) ([]models.Element, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			if req.FileName == "broken.pdf" {
				return nil, &core.AuthError{Status: 401, Message: "no"}
			}
			return echoParagraph(ctx, call, req)
		}}
		p, _ := newTestPipeline(t, fake)

		var jobs []Job
		for _, name := range []string{"a.pdf", "b.pdf", "broken.pdf", "c.pdf", "d.pdf", "e.pdf"} {
			jobs = append(jobs, Job{Document: Document{Name: name, Content: samplePDF.Content}, Options: titleOptions()})
		}

		results := p.RunAll(context.Background(), jobs, 2)
		require.Len(t, results, len(jobs))

		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Equal(t, 6, fake.Calls())

		for i, r := range results {
			assert.Equal(t, jobs[i].Name, r.Job.Name)
			if r.Job.Name == "broken.pdf" {
				assert.ErrorIs(t, r.Err, core.ErrAuth)
				continue
			}
			require.NoError(t, r.Err)
			assert.Equal(t, BaseName(r.Job.Name), r.Outcome.Artifact.Base)
		}
		assert.ErrorIs(t, Errors(results), core.ErrAuth)
	})

	t.Run("Should treat a non-positive worker count as one", func(t *testing.T) {
		var mu sync.Mutex
		active, maxActive := 0, 0
		fake := &fakePartitioner{fn: func(ctx context.Context, call int, req *partitioner.Request) ([]models.Element, error) {
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return echoParagraph(ctx, call, req)
		}}
		p, _ := newTestPipeline(t, fake)

		jobs := Jobs(samplePDF, []strategy.Options{titleOptions(), similarityOptions(), titleOptions()})
		results := p.RunAll(context.Background(), jobs, 0)

		assert.NoError(t, Errors(results))
		assert.Equal(t, 1, maxActive)
	})
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries)
}
