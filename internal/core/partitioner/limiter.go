package partitioner

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/models"
)

type limitedPartitioner struct {
	limiter  *rate.Limiter
	provider Partitioner
}

// NewLimited throttles calls to p. A nil limiter disables throttling.
func NewLimited(l *rate.Limiter, p Partitioner) Partitioner {
	if l == nil {
		return p
	}
	return &limitedPartitioner{
		limiter:  l,
		provider: p,
	}
}

// NewLimiter builds a limiter allowing perSecond requests with an equal burst.
// perSecond <= 0 means unlimited and yields nil.
func NewLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

func (p *limitedPartitioner) Partition(ctx context.Context, req *Request) ([]models.Element, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, convertWaitError(ctx, err)
	}

	return p.provider.Partition(ctx, req)
}

// convertWaitError maps a throttled wait that cannot finish before the
// deadline onto a TimeoutError. Wait reports that case without wrapping
// context.DeadlineExceeded.
func convertWaitError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if te := asTimeout(ctx, err); te != nil {
		return te
	}
	if _, ok := ctx.Deadline(); ok {
		return &core.TimeoutError{Err: err}
	}
	return err
}
