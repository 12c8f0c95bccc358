package core

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammad-safakhou/counsel/provider"
)

// RetryPolicy bounds how often a transient stage failure is retried.
// Fatal errors never re-enter the loop.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond}
}

// Run executes op, retrying with exponential backoff and jitter while the
// error is transient. It reports how many retries were spent.
func (p RetryPolicy) Run(ctx context.Context, op func(context.Context) error) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.RandomizationFactor = 0.3
	bo.MaxElapsedTime = 0

	retries := 0
	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		// A per-stage timeout is retryable as long as the turn itself
		// is still alive.
		if errors.Is(err, provider.ErrTransient) ||
			(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			retries++
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxRetries)), ctx))
	if err != nil && retries > 0 {
		retries--
	}
	return retries, err
}

// classify maps a stage error to its kind for the trail.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, provider.ErrTransient):
		return ErrTransient
	default:
		return ErrFatal
	}
}
