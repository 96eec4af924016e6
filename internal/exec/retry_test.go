package exec

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/tokenbot/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want outcome
	}{
		{"nil", nil, outcomeSuccess},
		{"excessive impact", fmt.Errorf("quote: %w", domain.ErrExcessiveImpact), outcomeFatal},
		{"confirmation timeout", fmt.Errorf("confirm: %w", domain.ErrConfirmationTimeout), outcomeFatal},
		{"invalid order", domain.ErrInvalidOrder, outcomeFatal},
		{"invalid price", fmt.Errorf("revalidate: %w", domain.ErrInvalidPrice), outcomeFatal},
		{"invalid state", domain.ErrInvalidState, outcomeFatal},
		{"insufficient size", domain.ErrInsufficientSize, outcomeFatal},
		{"context canceled", context.Canceled, outcomeFatal},
		{"network error", fmt.Errorf("dial tcp: connection refused"), outcomeTransient},
		{"rate limited", domain.ErrRateLimited, outcomeTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	policy := retryPolicy{maxAttempts: 5, baseDelay: time.Millisecond}

	calls := 0
	attempts, err := policy.run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient upstream failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryFatalStopsImmediately(t *testing.T) {
	policy := retryPolicy{maxAttempts: 5, baseDelay: time.Millisecond}

	calls := 0
	attempts, err := policy.run(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("impact too high: %w", domain.ErrExcessiveImpact)
	})

	assert.ErrorIs(t, err, domain.ErrExcessiveImpact)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond}

	calls := 0
	boom := fmt.Errorf("still down")
	attempts, err := policy.run(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	policy := retryPolicy{maxAttempts: 10, baseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	_, err := policy.run(ctx, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff must not trigger another attempt")
}
