package store

import (
	"context"
	"errors"
	"log"
	"time"
)

// Retry runs fn up to attempts times, sleeping backoff between tries.
// ErrNotFound and context errors are returned as-is; any other final failure
// is wrapped in a PersistenceError for op. Permanent database errors end the
// loop early.
func Retry(ctx context.Context, op string, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Printf("store %s attempt %d/%d failed: %v", op, i, attempts, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNotFound) || errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if !retryable(lastErr) {
			break
		}
	}

	var perr *PersistenceError
	if errors.As(lastErr, &perr) {
		return lastErr
	}
	return &PersistenceError{Op: op, Err: lastErr}
}
