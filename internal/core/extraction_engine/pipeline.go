// Package extraction_engine runs documents through partitioning, metadata
// scrubbing and persistence.
package extraction_engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/core/partitioner"
	"github.com/markdave123-py/Structa/internal/core/strategy"
	"github.com/markdave123-py/Structa/internal/logger"
	"github.com/markdave123-py/Structa/internal/models"
)

// Stage is a state of a single pipeline run.
type Stage int

const (
	StageIdle Stage = iota
	StageConfigBuilt
	StageRequestSent
	StageResponseReceived
	StageNormalized
	StagePersisted
	StageFailed
)

var stageNames = [...]string{
	StageIdle:             "idle",
	StageConfigBuilt:      "config_built",
	StageRequestSent:      "request_sent",
	StageResponseReceived: "response_received",
	StageNormalized:       "normalized",
	StagePersisted:        "persisted",
	StageFailed:           "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError is returned by a failed run. Stage is the stage the run was
// trying to reach; Err is the originating error.
type StageError struct {
	RunID    string
	Stage    Stage
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s failed before %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Job is one document paired with one strategy.
type Job struct {
	Document
	Options strategy.Options
}

// Outcome describes a persisted run.
type Outcome struct {
	RunID    string
	Document string
	Strategy strategy.Config
	Stage    Stage
	Artifact models.Artifact
	Elements models.ExtractionResult
	Attempts int
}

// TransitionFunc observes every stage change of every run.
type TransitionFunc func(runID string, from, to Stage)

type Pipeline struct {
	partitioner partitioner.Partitioner
	writer      *OutputWriter
	retry       RetryPolicy

	runs    core.RunStore
	objects core.ObjectClient
	bucket  string

	log          logger.Logger
	onTransition TransitionFunc
	now          func() time.Time
}

type Option func(*Pipeline)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(pl *Pipeline) { pl.retry = p }
}

// WithRunStore records every run in the given ledger.
func WithRunStore(s core.RunStore) Option {
	return func(pl *Pipeline) { pl.runs = s }
}

// WithMirror uploads every persisted artifact to bucket.
func WithMirror(obj core.ObjectClient, bucket string) Option {
	return func(pl *Pipeline) {
		pl.objects = obj
		pl.bucket = bucket
	}
}

func WithLogger(l logger.Logger) Option {
	return func(pl *Pipeline) { pl.log = l }
}

func WithTransitionHook(fn TransitionFunc) Option {
	return func(pl *Pipeline) { pl.onTransition = fn }
}

func NewPipeline(p partitioner.Partitioner, w *OutputWriter, opts ...Option) *Pipeline {
	pl := &Pipeline{
		partitioner: p,
		writer:      w,
		log:         logger.GetDefault(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// run carries the mutable state of one Run call.
type run struct {
	p      *Pipeline
	id     string
	stage  Stage
	log    logger.Logger
	record *models.RunRecord
}

func (r *run) advance(to Stage) {
	from := r.stage
	r.stage = to
	r.record.Stage = to.String()
	r.log.Debug("stage transition", "from", from.String(), "to", to.String())
	if r.p.onTransition != nil {
		r.p.onTransition(r.id, from, to)
	}
}

func (r *run) fail(target Stage, attempts int, err error) error {
	r.advance(StageFailed)
	r.log.Error("run failed", "stage", target.String(), "attempts", attempts, "err", err)

	r.record.Status = "failed"
	r.record.Error = err.Error()
	r.record.Attempts = attempts
	r.p.finishRecord(r.record)

	return &StageError{RunID: r.id, Stage: target, Attempts: attempts, Err: err}
}

// Run takes one document through every stage. Nothing is written unless the
// run reaches Persisted.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Outcome, error) {
	id := uuid.NewString()
	// The ledger is keyed by file name so CLI paths and uploads look alike.
	document := filepath.Base(job.Name)
	r := &run{
		p:     p,
		id:    id,
		stage: StageIdle,
		log:   p.log.With("run", id, "document", document),
		record: &models.RunRecord{
			ID:                   id,
			Document:             document,
			PartitioningStrategy: string(job.Options.PartitioningStrategy),
			ChunkingStrategy:     string(job.Options.ChunkingStrategy),
			Stage:                StageIdle.String(),
			Status:               "running",
			CreatedAt:            p.now().UTC(),
		},
	}
	p.createRecord(ctx, r.record)

	if err := ctx.Err(); err != nil {
		return nil, r.fail(StageConfigBuilt, 0, err)
	}

	cfg, err := strategy.New(job.Options)
	if err != nil {
		return nil, r.fail(StageConfigBuilt, 0, err)
	}
	r.record.ModelName = cfg.ModelLabel()
	r.advance(StageConfigBuilt)

	req, err := partitioner.BuildRequest(cfg, job.Name, job.Content)
	if err != nil {
		return nil, r.fail(StageRequestSent, 0, err)
	}
	r.advance(StageRequestSent)

	var elements []models.Element
	attempts, err := p.retry.do(ctx, func(attempt int, err error) {
		r.log.Warn("partitioning failed, retrying", "attempt", attempt, "err", err)
	}, func(ctx context.Context) error {
		var err error
		elements, err = p.partitioner.Partition(ctx, req)
		return err
	})
	r.record.Attempts = attempts
	if err != nil {
		return nil, r.fail(StageResponseReceived, attempts, err)
	}
	r.advance(StageResponseReceived)

	normalized := Normalize(elements)
	r.advance(StageNormalized)

	artifact, err := p.writer.WriteElements(job.Name, cfg.Label(), cfg.ModelLabel(), normalized)
	if err != nil {
		return nil, r.fail(StagePersisted, attempts, err)
	}
	artifact.URL = p.mirror(ctx, r.log, artifact.Path)
	r.advance(StagePersisted)

	r.log.Info("run persisted", "artifact", artifact.Path, "elements", len(normalized), "attempts", attempts)

	r.record.Status = "persisted"
	r.record.ArtifactPath = artifact.Path
	r.record.ElementCount = len(normalized)
	p.finishRecord(r.record)

	return &Outcome{
		RunID:    id,
		Document: job.Name,
		Strategy: cfg,
		Stage:    StagePersisted,
		Artifact: artifact,
		Elements: normalized,
		Attempts: attempts,
	}, nil
}

// mirror copies a persisted artifact to object storage. Failures only log:
// the artifact is already safely on disk.
func (p *Pipeline) mirror(ctx context.Context, log logger.Logger, path string) string {
	if p.objects == nil || p.bucket == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("mirror: read artifact", "path", path, "err", err)
		return ""
	}
	url, err := p.objects.UploadFile(ctx, p.bucket, ArtifactKey(path), data, "application/json")
	if err != nil {
		log.Warn("mirror: upload artifact", "path", path, "err", err)
		return ""
	}
	return url
}

// ArtifactKey is the object key artifacts are mirrored under.
func ArtifactKey(path string) string {
	return "artifacts/" + filepath.Base(path)
}

func (p *Pipeline) createRecord(ctx context.Context, rec *models.RunRecord) {
	if p.runs == nil {
		return
	}
	if err := p.runs.CreateRun(ctx, rec); err != nil {
		p.log.Warn("run ledger: create", "run", rec.ID, "err", err)
	}
}

// finishRecord uses its own context so cancelled runs are still recorded.
func (p *Pipeline) finishRecord(rec *models.RunRecord) {
	if p.runs == nil {
		return
	}
	finished := p.now().UTC()
	rec.FinishedAt = &finished

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.runs.FinishRun(ctx, rec); err != nil {
		p.log.Warn("run ledger: finish", "run", rec.ID, "err", err)
	}
}
