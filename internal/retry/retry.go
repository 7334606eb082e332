// Package retry wraps github.com/cenkalti/backoff/v4 with the engine's
// transient/terminal error classification so every component (object-store
// adapter, staging batch upserts) retries the same way instead of hand-rolling
// its own backoff loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/healthlake-io/ingestlake/internal/ingesterr"
)

// Config controls the exponential backoff policy.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig matches the spec's default of 3 attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Do runs fn, retrying with exponential backoff while the error is
// retryable per ingesterr.Error.Retryable(). Non-ingesterr errors are
// treated as terminal (not retried) since they carry no classification.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval

	bounded := backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1))
	withCtx := backoff.WithContext(bounded, ctx)

	operation := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var ingestErr *ingesterr.Error
		if errors.As(err, &ingestErr) && ingestErr.Retryable() {
			return err
		}

		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, withCtx)
}
