// Package retry runs external writes with exponential backoff and a
// per-attempt timeout, so a slow store can never block a caller for longer
// than the policy's elapsed-time budget.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

const (
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	defaultMaxElapsed      = 8 * time.Second
	defaultAttemptTimeout  = 5 * time.Second
)

// Policy bounds a retried operation.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration

	// AttemptTimeout caps each individual call.
	AttemptTimeout time.Duration
}

// NewPolicy builds a Policy from configuration; zero fields get defaults.
func NewPolicy(rc config.RetryConfig, attemptTimeout time.Duration) Policy {
	p := Policy{
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
		MaxElapsedTime:  rc.MaxElapsedTime,
		AttemptTimeout:  attemptTimeout,
	}
	return p.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = defaultMaxInterval
	}
	if p.MaxElapsedTime <= 0 {
		p.MaxElapsedTime = defaultMaxElapsed
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = defaultAttemptTimeout
	}
	return p
}

// Notify is called after each failed attempt with the error and the delay
// before the next one.
type Notify func(err error, next time.Duration)

// Do calls op until it succeeds, returns a Permanent error, the policy's
// elapsed budget runs out, or ctx is cancelled. The last error is returned.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops retries immediately
//   - p: Backoff bounds; zero fields take the package defaults
//   - op: The write; receives a context limited to p.AttemptTimeout
//   - notify: Optional; called after each failed attempt with the delay
//     before the next one
//
// Returns:
//   - error: nil on success, otherwise op's last error (a Permanent error
//     is returned unwrapped)
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	p = p.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	operation := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := op(attemptCtx)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(p.MaxElapsedTime),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	return err
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
