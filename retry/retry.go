// Package retry runs an operation again after transient failures, with
// exponential backoff between attempts.
//
// It is used where the service talks to something it does not own: the
// database ping on connect and the bank that executes pending transfers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first one (default: 3).
	// Zero means run once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts (default: 5s).
	MaxBackoff time.Duration

	// Multiplier grows the delay after each retry (default: 2.0).
	Multiplier float64

	// Jitter spreads delays by +/- this fraction (default: 0.1).
	Jitter float64

	// IsRetryable classifies errors. Nil means DefaultIsRetryable.
	IsRetryable func(error) bool

	// OnRetry, if set, is called before sleeping with the attempt that
	// just failed (1-based), its error and the delay that follows.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Once returns a Config that never retries.
func Once() Config {
	return Config{MaxRetries: 0}
}

// Sentinel errors.
var (
	// ErrPermanent marks errors that must not be retried.
	ErrPermanent = errors.New("retry: permanent failure")

	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrCanceled is returned when the context ends between attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Func is an operation that can be retried.
type Func func(ctx context.Context) error

// Error describes a failed retry loop. It unwraps to the last error
// returned by the operation and matches its sentinel with errors.Is.
type Error struct {
	Last     error
	Attempts int
	Reason   error // ErrPermanent, ErrExhausted or ErrCanceled
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Reason, e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

func (e *Error) Is(target error) bool {
	return errors.Is(e.Reason, target)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx ends.
func Do(ctx context.Context, cfg Config, fn Func) error {
	cfg = normalize(cfg)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &Error{Last: last, Attempts: attempt - 1, Reason: ErrCanceled}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err

		if !cfg.IsRetryable(err) {
			return &Error{Last: err, Attempts: attempt, Reason: ErrPermanent}
		}
		if attempt > cfg.MaxRetries {
			return &Error{Last: err, Attempts: attempt, Reason: ErrExhausted}
		}

		delay := Backoff(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Last: err, Attempts: attempt, Reason: ErrCanceled}
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// Backoff returns the delay after the given 1-based failed attempt.
func Backoff(cfg Config, attempt int) time.Duration {
	cfg = normalize(cfg)
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

func normalize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable retries everything except context errors and errors
// marked with Permanent. An error can also decide for itself by
// implementing Retryable() bool.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Permanent wraps err so that it is never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }
