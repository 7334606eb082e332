package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlake-io/ingestlake/internal/ingesterr"
	"github.com/healthlake-io/ingestlake/internal/retry"
)

func fastConfig() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retry.Do(context.Background(), fastConfig(), func(_ context.Context) error {
		attempts++
		if attempts < 2 {
			return ingesterr.New(ingesterr.KindObjectStoreTransient, "list", errors.New("throttled"))
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoStopsOnTerminalError(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retry.Do(context.Background(), fastConfig(), func(_ context.Context) error {
		attempts++

		return ingesterr.New(ingesterr.KindObjectStoreTerminal, "head", errors.New("not found"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := retry.Do(context.Background(), fastConfig(), func(_ context.Context) error {
		attempts++

		return ingesterr.New(ingesterr.KindObjectStoreTransient, "list", errors.New("still throttled"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
