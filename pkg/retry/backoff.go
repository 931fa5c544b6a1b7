package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Config defines the configuration for backoff-retry mechanism
type Config struct {
	// MaxRetries is the maximum number of retries
	MaxRetries int
	// InitialInterval is the initial retry interval
	InitialInterval time.Duration
	// MaxInterval is the maximum retry interval
	MaxInterval time.Duration
	// Multiplier is the factor by which the retry interval increases
	Multiplier float64
	// RandomizationFactor is the randomization factor (0.0-1.0)
	RandomizationFactor float64
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// nextBackoff calculates the next backoff interval
func (c *Config) nextBackoff(retry int) time.Duration {
	if retry >= c.MaxRetries {
		return 0
	}

	backoff := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(retry))
	if backoff > float64(c.MaxInterval) {
		backoff = float64(c.MaxInterval)
	}

	delta := c.RandomizationFactor * backoff
	minn := backoff - delta
	maxx := backoff + delta
	backoff = minn + (rand.Float64() * (maxx - minn)) //nolint:gosec

	return time.Duration(backoff)
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// IsRetryable is a function that determines if an error should be retried
type IsRetryable func(error) bool

// Callbacks are invoked around retry attempts, mainly for metrics and logging
type Callbacks struct {
	OnRetryAttempt func(attempt int, err error, nextBackoff time.Duration)
	OnRetrySuccess func(attempt int)
	OnRetryFailure func(attempt int, err error)
}

// Do executes the given function with retries based on the provided config
func Do(ctx context.Context, fn RetryableFunc, isRetryable IsRetryable, cfg Config) error {
	return DoWithCallbacks(ctx, fn, isRetryable, cfg, Callbacks{})
}

// DoWithCallbacks executes the given function with retries and callbacks
func DoWithCallbacks(ctx context.Context, fn RetryableFunc, isRetryable IsRetryable, cfg Config, callbacks Callbacks) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		// First attempt (attempt=0) is not a retry
		isRetry := attempt > 0

		err := fn()
		if err == nil {
			if isRetry && callbacks.OnRetrySuccess != nil {
				callbacks.OnRetrySuccess(attempt)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == cfg.MaxRetries {
			if callbacks.OnRetryFailure != nil {
				callbacks.OnRetryFailure(attempt, err)
			}
			break
		}

		backoffTime := cfg.nextBackoff(attempt)

		if callbacks.OnRetryAttempt != nil {
			callbacks.OnRetryAttempt(attempt+1, err, backoffTime)
		}

		timer := time.NewTimer(backoffTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// StatusCoder is implemented by errors carrying an HTTP response status.
type StatusCoder interface {
	StatusCode() int
}

// IsTransient reports whether an error is likely a temporary network or
// server-side failure worth retrying. Client errors (4xx) are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr interface {
		Timeout() bool
	}
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
