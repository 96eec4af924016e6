// Package exec turns an eligible order into an on-chain swap: quote,
// policy checks, fee pricing, submission, and confirmation, with a retry
// policy wrapped around the whole attempt.
package exec

import (
	"context"
	"errors"
	"time"

	"github.com/solwatch/tokenbot/internal/domain"
)

// outcome tags how an attempt ended, which decides whether to retry.
type outcome int

const (
	outcomeSuccess outcome = iota
	// outcomeTransient means the attempt may succeed if repeated.
	outcomeTransient
	// outcomeFatal means repeating the same attempt cannot help.
	outcomeFatal
)

// classify maps an attempt error to a retry outcome. Policy aborts and
// ambiguous confirmations are fatal: resubmitting after either could
// double-spend or fight the policy.
func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, domain.ErrExcessiveImpact),
		errors.Is(err, domain.ErrConfirmationTimeout),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInsufficientSize),
		errors.Is(err, context.Canceled):
		return outcomeFatal
	default:
		return outcomeTransient
	}
}

// retryPolicy retries transient failures with doubling delays.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// run invokes fn until it succeeds, fails fatally, or attempts run out. It
// returns the attempt count alongside the last error.
func (p retryPolicy) run(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	delay := p.baseDelay
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = fn(ctx)

		switch classify(lastErr) {
		case outcomeSuccess:
			return attempt, nil
		case outcomeFatal:
			return attempt, lastErr
		}

		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return p.maxAttempts, lastErr
}
