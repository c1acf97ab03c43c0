package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls the exponential backoff schedule for an operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying immediately and surfaces it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// temporary is implemented by errors that can classify themselves.
// stores.StoreError reports validation and authorization failures as
// non-temporary.
type temporary interface {
	Temporary() bool
}

// retryable reports whether a failed attempt is worth repeating. Errors
// carrying no classification are retried up to the attempt budget.
func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Do runs op under the policy, waiting between attempts with exponential
// backoff capped at MaxDelay. The wait selects against ctx, so a cancelled
// request stops retrying immediately instead of sleeping out the schedule.
// It returns the number of attempts made and the final error, nil on
// success. Errors are tagged with label for diagnostics.
func Do(ctx context.Context, p Policy, label string, op func(context.Context) error) (int, error) {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, p.delay(attempt)); err != nil {
				return attempt - 1, fmt.Errorf("%s: %w", label, err)
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !retryable(lastErr) {
			return attempt, fmt.Errorf("%s: %w", label, lastErr)
		}
	}
	return p.MaxAttempts, fmt.Errorf("%s: %d attempts: %w", label, p.MaxAttempts, lastErr)
}

// delay returns the backoff before the given attempt (attempt >= 2):
// BaseDelay doubled (or multiplied) per prior retry, capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// wait blocks for d or until ctx is done, whichever comes first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
