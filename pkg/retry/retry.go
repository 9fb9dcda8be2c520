// Package retry runs an operation again after a backoff delay. The ledger
// uses it for compare-and-swap conflicts and for transient storage errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryableError marks a failure worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError stops the loop at once. Do returns the wrapped error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError reports that the last allowed attempt still failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retryable marks err for another attempt. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Permanent marks err as final. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

func IsExhausted(err error) bool {
	var target *ExhaustedError
	return errors.As(err, &target)
}

// Config describes the attempt budget and the backoff curve.
type Config struct {
	// MaxAttempts counts the first call too.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor spreads each delay by up to +/- this share of it.
	JitterFactor float64

	// RetryIf overrides the default rule of retrying only RetryableError.
	RetryIf func(error) bool

	// OnRetry fires before each sleep, never after the final attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier ignores values below 1; the delay never shrinks.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1 {
			c.Multiplier = m
		}
	}
}

// WithJitter accepts a factor in [0, 1].
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.JitterFactor = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// Retrier is immutable after New and may be shared between goroutines.
type Retrier struct {
	config Config
}

func New(opts ...Option) *Retrier {
	cfg := DefaultConfig()
	for _, apply := range opts {
		apply(&cfg)
	}
	return &Retrier{config: cfg}
}

// Do calls operation until it succeeds, returns a non-retryable error, the
// attempt budget runs out or ctx ends. A cancelled ctx yields the last
// operation error when there is one.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return firstNonNil(last, ctxErr)
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		last = err

		var final *PermanentError
		if errors.As(err, &final) {
			return final.Err
		}
		if !r.shouldRetry(err) {
			return err
		}

		if attempt >= r.config.MaxAttempts {
			var marked *RetryableError
			if errors.As(err, &marked) {
				err = marked.Err
			}
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if !sleep(ctx, delay) {
			return last
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

// calculateDelay is InitialDelay * Multiplier^(attempt-1), capped at
// MaxDelay, then jittered.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.config.MaxDelay))

	if j := r.config.JitterFactor; j > 0 {
		d *= 1 + j*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// sleep reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Do runs operation with a one-off Retrier.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := operation(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// ContentionRetrier backs off briefly between compare-and-swap attempts; the
// competing writer usually commits within milliseconds.
func ContentionRetrier(maxAttempts int, opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(maxAttempts),
		WithInitialDelay(10 * time.Millisecond),
		WithMaxDelay(250 * time.Millisecond),
		WithMultiplier(2),
		WithJitter(0.5),
	}, opts...)...)
}

// DatabaseRetrier covers dropped connections and pool exhaustion.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithMultiplier(2),
		WithJitter(0.05),
	)
}
