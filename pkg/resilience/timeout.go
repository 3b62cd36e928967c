package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned by WithTimeout when the operation exceeds its
// deadline.
var ErrTimedOut = errors.New("operation timed out")

// WithTimeout runs fn with a deadline. If fn does not return within d, the
// derived context is cancelled and ErrTimedOut is returned; fn's eventual
// result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(tctx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimedOut, d)
		}
		return zero, tctx.Err()
	}
}
