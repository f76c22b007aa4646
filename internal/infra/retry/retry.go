// Package retry runs an operation again with exponential backoff until it
// succeeds, fails permanently or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrExhausted is wrapped by the error returned once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Config defines retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// Name labels log lines.
	Name string
}

// DefaultConfig returns 2 retries starting at 500ms, capped at 5s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Do calls fn until it returns nil. Non-retryable errors are returned
// unwrapped and immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		backoff := Backoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff, cfg.Multiplier)
		log.Warn().
			Err(err).
			Str("operation", cfg.Name).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Operation failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, cfg.MaxRetries+1, lastErr)
}

// Backoff returns initial * multiplier^attempt, capped at max.
func Backoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(initial) * math.Pow(multiplier, float64(attempt))
	if max > 0 && backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(backoff)
}
