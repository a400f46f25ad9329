package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

var _ core.RunStore = (*DatabaseClient)(nil)

// DatabaseClient is the Postgres-backed run ledger.
type DatabaseClient struct {
	db    DBInterface
	close func()
}

// NewDatabaseClient connects to databaseURL, verifies the connection and
// bootstraps the schema.
func NewDatabaseClient(ctx context.Context, databaseURL string) (*DatabaseClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	// Sensible pool settings for a CLI or small API service.
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Ensure bootstrap once
	if err := EnsureBootstrapped(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: pool, close: pool.Close}, nil
}

// NewWithDB wraps an existing connection. Close is a no-op.
func NewWithDB(db DBInterface) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (c *DatabaseClient) Close() error {
	if c.close != nil {
		c.close()
	}
	return nil
}

const runColumns = `id, document, partitioning_strategy, chunking_strategy, model_name, stage, status,
	error, artifact_path, element_count, attempts, created_at, finished_at`

func (c *DatabaseClient) CreateRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil {
		return errors.New("nil run")
	}
	const q = `
		INSERT INTO extraction_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := c.db.Exec(ctx, q, runArgs(run)...)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun writes the final state of a run. It upserts so a run whose
// CreateRun was lost is still recorded.
func (c *DatabaseClient) FinishRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil {
		return errors.New("nil run")
	}
	const q = `
		INSERT INTO extraction_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			model_name = EXCLUDED.model_name,
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			artifact_path = EXCLUDED.artifact_path,
			element_count = EXCLUDED.element_count,
			attempts = EXCLUDED.attempts,
			finished_at = EXCLUDED.finished_at
	`
	_, err := c.db.Exec(ctx, q, runArgs(run)...)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (c *DatabaseClient) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM extraction_runs WHERE id = $1`

	run, err := scanRun(c.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (c *DatabaseClient) ListRunsByDocument(ctx context.Context, document string) ([]models.RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM extraction_runs WHERE document = $1 ORDER BY created_at DESC`

	rows, err := c.db.Query(ctx, q, document)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func runArgs(r *models.RunRecord) []any {
	return []any{
		r.ID, r.Document, r.PartitioningStrategy, r.ChunkingStrategy, r.ModelName, r.Stage, r.Status,
		r.Error, r.ArtifactPath, r.ElementCount, r.Attempts, r.CreatedAt, r.FinishedAt,
	}
}

func scanRun(row pgx.Row) (*models.RunRecord, error) {
	var r models.RunRecord
	err := row.Scan(
		&r.ID, &r.Document, &r.PartitioningStrategy, &r.ChunkingStrategy, &r.ModelName, &r.Stage, &r.Status,
		&r.Error, &r.ArtifactPath, &r.ElementCount, &r.Attempts, &r.CreatedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
