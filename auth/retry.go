package auth

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded retry with a delay multiplied after every
// failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	// Retryable decides whether an error is worth another attempt; nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy covers the window in which a freshly issued session
// cookie is not visible yet: 3 attempts, 300ms then 600ms apart, retrying
// only ErrNoSession.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       300 * time.Millisecond,
		Multiplier:  2,
		Retryable:   func(err error) bool { return errors.Is(err, ErrNoSession) },
	}
}

// backOff builds the exponential schedule of p, bounded to MaxAttempts
// calls and cancelled with ctx.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	if attempts == 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = mult
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a non retryable error, the
// attempts are exhausted or ctx is done. The last error of fn is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var last error
	err := backoff.Retry(func() error {
		last = fn()
		if last != nil && p.Retryable != nil && !p.Retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, p.backOff(ctx))
	if err != nil && last != nil {
		// ctx errors are reported as the failure they interrupted
		return last
	}
	return err
}

// Bridge resolves the current user through a retry policy. It is the one
// place that works around session propagation latency.
type Bridge struct {
	id     Identity
	policy RetryPolicy
}

// NewBridge wraps id with policy.
func NewBridge(id Identity, policy RetryPolicy) *Bridge {
	return &Bridge{id: id, policy: policy}
}

// CurrentUser returns the user of token, retrying while the session is
// not visible. An empty token fails immediately.
func (b *Bridge) CurrentUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	var u *User
	err := b.policy.Do(ctx, func() error {
		var err error
		u, err = b.id.CurrentUser(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
