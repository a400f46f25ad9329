package extraction_engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/markdave123-py/Structa/internal/core"
)

// Document is an input file held in memory. Runs only ever read Content.
type Document struct {
	Name    string
	Content []byte
}

// SourceLoader reads documents from the local filesystem or, when an object
// client is configured, from S3.
type SourceLoader struct {
	objects core.ObjectClient
}

func NewSourceLoader(objects core.ObjectClient) *SourceLoader {
	return &SourceLoader{objects: objects}
}

// Load resolves ref, which is a local path, an s3://bucket/key URL or a
// virtual-hosted S3 URL (https://bucket.s3.region.amazonaws.com/key).
func (l *SourceLoader) Load(ctx context.Context, ref string) (Document, error) {
	bucket, key, ok := parseS3URL(ref)
	if !ok {
		content, err := os.ReadFile(ref)
		if err != nil {
			return Document{}, fmt.Errorf("read source %q: %w", ref, err)
		}
		return Document{Name: ref, Content: content}, nil
	}

	if l.objects == nil {
		return Document{}, errors.New("object storage is not configured")
	}
	content, err := l.objects.GetFile(ctx, bucket, key)
	if err != nil {
		return Document{}, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	return Document{Name: path.Base(key), Content: content}, nil
}

// parseS3URL extracts the bucket and key from s3:// and virtual-hosted S3
// URLs. ok is false for anything else.
func parseS3URL(u string) (bucket, key string, ok bool) {
	switch {
	case strings.HasPrefix(u, "s3://"):
		bucket, key, _ = strings.Cut(strings.TrimPrefix(u, "s3://"), "/")
	case strings.HasPrefix(u, "https://"):
		var host string
		host, key, _ = strings.Cut(strings.TrimPrefix(u, "https://"), "/")
		if !strings.Contains(host, ".s3.") {
			return "", "", false
		}
		bucket, _, _ = strings.Cut(host, ".")
	default:
		return "", "", false
	}
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
