// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter randomizes delays to [0.5, 1.5) of their nominal value.
	Jitter bool
	// DelayFirst waits InitialDelay before the first attempt too.
	// Reconnection loops use it: the failure already happened.
	DelayFirst bool
}

// Reconnect returns the reconnection policy used by realtime clients:
// first retry after 1s, doubling up to 5s, five attempts.
func Reconnect() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
		DelayFirst:   true,
	}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent retrying.
	Duration time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Do executes op until it succeeds, returns a permanent error, the context
// ends or MaxAttempts is reached. op receives the 1-based attempt number.
func Do(ctx context.Context, config Config, op func(attempt int) error) Result {
	start := time.Now()
	config = config.withDefaults()
	result := Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if attempt > 1 || config.DelayFirst {
			delayAttempt := attempt
			if !config.DelayFirst {
				delayAttempt = attempt - 1
			}
			sleep := Backoff(delayAttempt, config.InitialDelay, config.MaxDelay, config.Factor)
			if config.Jitter {
				sleep = jitter(sleep)
			}
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				result.Duration = time.Since(start)
				return result
			case <-time.After(sleep):
			}
		}

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		}

		result.Attempts = attempt
		err := op(attempt)
		result.Err = err
		if err == nil || IsPermanent(err) {
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Backoff calculates the backoff duration for a given attempt.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

func jitter(d time.Duration) time.Duration {
	f := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	return time.Duration(float64(d) * f)
}
