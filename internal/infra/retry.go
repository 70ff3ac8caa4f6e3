package infra

import (
	"context"
	"errors"
	"time"
)

// Backoff describes how a failed upstream call is retried.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Initial:  100 * time.Millisecond,
		Max:      2 * time.Second,
		Factor:   2.0,
	}
}

// WithAttempts limits b to n calls. n <= 0 leaves b unchanged.
func (b Backoff) WithAttempts(n int) Backoff {
	if n > 0 {
		b.Attempts = n
	}
	return b
}

func (b Backoff) grow(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * b.Factor)
	if b.Max > 0 && next > b.Max {
		return b.Max
	}
	return next
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, fails permanently or runs out of attempts. A wait that
// would outlast the context deadline is not started; the caller gets the last error
// while it can still fall back.
func Do(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Initial

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= attempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay = b.grow(delay)
	}
}
