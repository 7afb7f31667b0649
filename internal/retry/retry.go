// Package retry provides the single bounded-backoff wrapper used for every
// remote operation: exponential backoff with jitter, a retryable predicate,
// and a hard cap on attempts so callers degrade instead of hanging.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	defaultMaxTries        = 4
)

// Policy bounds a retried operation.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

// DefaultPolicy returns the policy applied when callers pass a zero Policy.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		MaxTries:        defaultMaxTries,
	}
}

func (p Policy) normalized() Policy {
	normalized := p
	if normalized.InitialInterval <= 0 {
		normalized.InitialInterval = defaultInitialInterval
	}
	if normalized.MaxInterval <= 0 {
		normalized.MaxInterval = defaultMaxInterval
	}
	if normalized.MaxTries == 0 {
		normalized.MaxTries = defaultMaxTries
	}
	return normalized
}

// Do runs the operation under the policy. Errors for which isRetryable
// returns false abort immediately; retryable errors are retried with
// jittered exponential backoff until the attempt budget is exhausted.
// A nil isRetryable treats every error as retryable.
func Do(ctx context.Context, policy Policy, operation func() error, isRetryable func(error) bool) error {
	bounded := policy.normalized()

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = bounded.InitialInterval
	exponential.MaxInterval = bounded.MaxInterval

	wrapped := func() (struct{}, error) {
		err := operation()
		if err == nil {
			return struct{}{}, nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(exponential),
		backoff.WithMaxTries(bounded.MaxTries),
	)
	return err
}
