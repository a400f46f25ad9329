package extraction_engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/markdave123-py/Structa/internal/core"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// RetryPolicy bounds how partitioning calls are retried. Only service errors
// and timeouts are retried; the zero value makes a single attempt.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RequestTimeout is the deadline of each individual attempt. Zero means
	// attempts only observe the caller's context.
	RequestTimeout time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxDelay, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// do runs fn until it succeeds, fails permanently or the policy is exhausted.
// It returns the number of attempts made; the error is fn's last error. When
// the caller's context ends first, fn's last error is kept alongside it and an
// expired deadline always surfaces as a *core.TimeoutError.
func (p RetryPolicy) do(ctx context.Context, onRetry func(attempt int, err error), fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	var lastErr error
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++

		actx := ctx
		if p.RequestTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.RequestTimeout)
			defer cancel()
		}

		err := fn(actx)
		if err == nil {
			return nil
		}
		lastErr = err
		if core.IsRetryable(err) && uint64(attempts) <= p.MaxRetries {
			if onRetry != nil {
				onRetry(attempts, err)
			}
			return retry.RetryableError(err)
		}
		return err
	})

	// retry.Do reports an ended context as the bare ctx.Err().
	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		err = contextFailure(ctxErr, lastErr)
	}
	return attempts, err
}

func contextFailure(ctxErr, last error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		switch {
		case last == nil:
			return &core.TimeoutError{Err: ctxErr}
		case errors.Is(last, core.ErrTimeout):
			return last
		default:
			return errors.Join(&core.TimeoutError{Err: ctxErr}, last)
		}
	}
	if last == nil {
		return ctxErr
	}
	return errors.Join(last, ctxErr)
}
