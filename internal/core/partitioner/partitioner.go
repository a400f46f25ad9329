package partitioner

import (
	"context"

	"github.com/markdave123-py/Structa/internal/models"
)

// Partitioner sends a request to a partitioning backend and returns the
// elements it produced. Implementations fail with the typed errors of package
// core: *core.AuthError, *core.ServiceError or *core.TimeoutError.
type Partitioner interface {
	Partition(ctx context.Context, req *Request) ([]models.Element, error)
}
