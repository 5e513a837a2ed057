package store

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
)

// RetryConfig configures retries of transient driver failures.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration // Initial delay between retries (default: 100ms)
	MaxDelay   time.Duration // Maximum delay between retries (default: 5s)
	Multiplier float64       // Delay multiplier for exponential backoff (default: 2.0)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// withRetry runs fn until it succeeds, fails permanently, or runs out of
// attempts. The final error is a *StoreError with Retryable cleared.
func withRetry(ctx context.Context, logger *log.Logger, op string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("succeeded after retry", "op", op, "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt < cfg.MaxRetries {
			delay := calculateDelay(attempt, cfg)
			logger.Warn("retrying", "op", op, "attempt", attempt+1, "delay", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	logger.Error("giving up", "op", op, "attempts", cfg.MaxRetries+1, "err", lastErr)

	var se *StoreError
	if errors.As(lastErr, &se) {
		se.Retryable = false
		return lastErr
	}
	return &StoreError{Op: op, Err: lastErr}
}

func shouldRetry(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return isRetryableError(err)
}

// calculateDelay is exponential backoff with +-20% jitter, capped at MaxDelay.
func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	delay *= 0.8 + rand.Float64()*0.4
	return time.Duration(delay)
}
