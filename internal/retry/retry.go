// Package retry implements the retry-with-recovery combinator shared by
// every broker-facing operation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrExhausted = errors.New("max retries exceeded")

// ExhaustedError is returned once every attempt failed. It matches both
// ErrExhausted and the last underlying cause.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

type Policy struct {
	// Attempts is the total number of times the operation runs.
	Attempts int
	// Delay is slept between attempts, before Recover.
	Delay time.Duration
	Clock clock.Clock

	// IsFatal reports errors that must not be retried. Context errors and
	// ErrExhausted are always fatal.
	IsFatal func(error) bool
	// Recover runs before every re-attempt. Its error ends the retry loop
	// and is returned unchanged.
	Recover func(ctx context.Context) error
	// OnRetry observes every failure that is going to be retried.
	OnRetry func(attempt int, err error)
}

// Do runs op until it succeeds, fails fatally or the attempts run out.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if p.fatal(err) {
			return zero, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if err = p.wait(ctx); err != nil {
			return zero, err
		}
		if p.Recover != nil {
			if err = p.Recover(ctx); err != nil {
				return zero, err
			}
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (p Policy) fatal(err error) bool {
	if errors.Is(err, ErrExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return p.IsFatal != nil && p.IsFatal(err)
}

func (p Policy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}

	c := p.Clock
	if c == nil {
		c = clock.New()
	}

	select {
	case <-c.After(p.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
