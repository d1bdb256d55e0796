package media

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a flaky asynchronous operation is retried.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is the policy applied to remote subscription and rendering.
var DefaultRetry = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}

// Attempt runs fn up to p.Attempts times, sleeping p.Delay between failures.
// It returns nil on the first success, the last error once attempts are
// exhausted, or the context error if the context ends first.
func (p RetryPolicy) Attempt(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// awaitReady waits for the surface's readiness signal, falling back to the
// timeout so a surface that never reports ready cannot wedge the session.
func awaitReady(ctx context.Context, s Surface, timeout time.Duration) {
	select {
	case <-s.Ready():
	case <-time.After(timeout):
	case <-ctx.Done():
	}
}
