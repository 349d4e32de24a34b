package generic

import (
	"context"
	"time"
)

// DefaultRetryAttempts bounds WithRetry when callers pass zero.
const DefaultRetryAttempts = 3

// WithRetry runs fn inside ts.WithTx, re-running the whole transaction while
// it fails with a retryable error. Each attempt re-reads state, so a write
// conflict never leads to a partial apply.
func WithRetry(ctx context.Context, ts TxStore, attempts int, fn func(Store) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = ts.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}
