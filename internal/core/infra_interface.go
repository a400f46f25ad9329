package core

import (
	"context"

	"github.com/markdave123-py/Structa/internal/models"
)

// RunStore records extraction runs. It abstracts Postgres so the pipeline
// never depends on a specific database.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.RunRecord) error
	FinishRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRunsByDocument(ctx context.Context, document string) ([]models.RunRecord, error)
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// Source documents can be read from it and persisted artifacts mirrored to it.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
