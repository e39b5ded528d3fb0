// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package yarn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retries of HTTP requests.
type RetryConfig struct {
	// Enabled enables retry
	Enabled bool `yaml:"enabled"`

	// InitialInterval is the initial retry interval
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval is the maximum retry interval
	MaxInterval time.Duration `yaml:"max_interval"`

	// MaxElapsedTime is the maximum total retry time
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time"`

	// MaxAttempts caps the number of attempts, 0 means unlimited
	MaxAttempts int `yaml:"max_attempts"`

	// Multiplier is the backoff multiplier
	Multiplier float64 `yaml:"multiplier"`

	// RandomizationFactor adds jitter to the backoff
	RandomizationFactor float64 `yaml:"randomization_factor"`
}

// DefaultRetryConfig returns the retry settings used for mapping downloads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:             true,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      time.Minute,
		MaxAttempts:         5,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// Retryer handles retry logic with exponential backoff.
type Retryer struct {
	cfg RetryConfig
	log *slog.Logger
	rng *rand.Rand
}

// NewRetryer creates a new retryer.
func NewRetryer(cfg RetryConfig, log *slog.Logger) *Retryer {
	return &Retryer{
		cfg: cfg,
		log: log.With("component", "retryer"),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context, attempt int) error

// Do executes the function with retry logic.
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	if !r.cfg.Enabled {
		return fn(ctx, 0)
	}

	startTime := time.Now()
	var lastErr error
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		if r.cfg.MaxElapsedTime > 0 && time.Since(startTime) > r.cfg.MaxElapsedTime {
			if lastErr != nil {
				return fmt.Errorf("max elapsed time exceeded: %w", lastErr)
			}
			return fmt.Errorf("max elapsed time exceeded")
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				r.log.Debug("operation succeeded after retry", "attempts", attempt+1)
			}
			return nil
		}

		lastErr = err

		if !r.isRetryable(err) {
			r.log.Debug("non-retryable error", "error", err)
			return err
		}
		if r.cfg.MaxAttempts > 0 && attempt+1 >= r.cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		backoff := r.calculateBackoff(attempt, err)

		r.log.Debug("retrying after backoff",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		attempt++
	}
}

// DoWithResult executes a function that returns a result with retry logic.
func DoWithResult[T any](r *Retryer, ctx context.Context, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T

	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		result, err = fn(ctx, attempt)
		return err
	})

	return result, err
}

// isRetryable determines if an error is retryable.
func (r *Retryer) isRetryable(err error) bool {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// calculateBackoff calculates the backoff duration for the given attempt.
func (r *Retryer) calculateBackoff(attempt int, err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) && retryable.RetryAfter > 0 {
		if retryable.RetryAfter > r.cfg.MaxInterval {
			return r.cfg.MaxInterval
		}
		return retryable.RetryAfter
	}

	backoff := float64(r.cfg.InitialInterval) * math.Pow(r.cfg.Multiplier, float64(attempt))

	if r.cfg.RandomizationFactor > 0 {
		jitterRange := backoff * r.cfg.RandomizationFactor
		jitter := (r.rng.Float64() * 2 * jitterRange) - jitterRange
		backoff += jitter
	}

	if backoff < float64(r.cfg.InitialInterval) {
		backoff = float64(r.cfg.InitialInterval)
	}
	if backoff > float64(r.cfg.MaxInterval) {
		backoff = float64(r.cfg.MaxInterval)
	}

	return time.Duration(backoff)
}

// RetryableError wraps an error with retry information.
type RetryableError struct {
	Err        error
	Retryable  bool
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error, retryable bool) *RetryableError {
	return &RetryableError{
		Err:       err,
		Retryable: retryable,
	}
}
