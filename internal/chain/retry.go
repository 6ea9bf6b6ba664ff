package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 10 * time.Second
)

// Retryer wraps read calls with bounded exponential backoff.
type Retryer struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	log       zerolog.Logger
}

// NewRetryer creates a retryer with the default policy: 3 attempts,
// 1s base delay doubling up to 10s.
func NewRetryer(log zerolog.Logger) *Retryer {
	return &Retryer{
		attempts:  retryAttempts,
		baseDelay: retryBaseDelay,
		maxDelay:  retryMaxDelay,
		log:       log.With().Str("component", "rpc_retryer").Logger(),
	}
}

// Do runs fn until it succeeds or attempts are exhausted. Each failure is
// logged with the label and attempt number. Context cancellation aborts
// immediately and returns ctx.Err(), not the last RPC error.
func (r *Retryer) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.log.Warn().
			Err(lastErr).
			Str("label", label).
			Int("attempt", attempt).
			Msg("RPC call failed")

		if attempt == r.attempts {
			break
		}

		delay := r.baseDelay << (attempt - 1)
		if delay > r.maxDelay {
			delay = r.maxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", label, r.attempts, lastErr)
}

// Read is a generic convenience over Do for calls that return a value.
func Read[T any](ctx context.Context, r *Retryer, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, label, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
