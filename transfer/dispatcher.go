package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/stakemail/retry"
)

// Dispatcher executes pending transfers against a Bank.
//
// Each transfer id is claimed in the journal before the bank is called, so
// a transfer is never issued twice even if Dispatch is called again with
// the same effects. Transient bank errors are retried with the same id.
type Dispatcher struct {
	bank    Bank
	journal Journal
	retry   retry.Config
	logger  *slog.Logger
	onError func(ctx context.Context, err *DispatchError)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJournal sets the idempotency journal. Defaults to a MemoryJournal.
func WithJournal(j Journal) DispatcherOption {
	return func(d *Dispatcher) {
		if j != nil {
			d.journal = j
		}
	}
}

// WithRetry sets the retry policy for bank calls.
func WithRetry(cfg retry.Config) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithErrorHandler sets a callback for transfers that could not be
// completed. It runs after the failure has been logged.
func WithErrorHandler(fn func(ctx context.Context, err *DispatchError)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// NewDispatcher creates a Dispatcher for bank.
func NewDispatcher(bank Bank, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		bank:    bank,
		journal: NewMemoryJournal(),
		retry:   retry.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.retry.IsRetryable = isRetryable
	return d
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrRejected) {
		return false
	}
	return retry.DefaultIsRetryable(err)
}

// Dispatch hands every transfer to the bank in order. Failures do not stop
// later transfers. The returned slice holds one *DispatchError per transfer
// that was not completed; it is nil when all succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, transfers []Transfer) []error {
	var errs []error
	for _, t := range transfers {
		if err := d.dispatch(ctx, t); err != nil {
			de := &DispatchError{Transfer: t, Err: err}
			d.logger.Error("transfer failed",
				"id", t.ID, "to", t.To, "amount", t.Amount.String(), "reason", t.Reason, "error", err)
			if d.onError != nil {
				d.onError(ctx, de)
			}
			errs = append(errs, de)
		}
	}
	return errs
}

func (d *Dispatcher) dispatch(ctx context.Context, t Transfer) error {
	if t.Amount.IsZero() {
		return nil
	}

	claimed, err := d.journal.Claim(ctx, t.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadyDispatched
	}

	cfg := d.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.logger.Warn("transfer attempt failed, retrying",
			"id", t.ID, "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return d.bank.Transfer(ctx, t)
	}); err != nil {
		return fmt.Errorf("bank: %w", err)
	}

	d.logger.Debug("transfer completed", "id", t.ID, "to", t.To, "amount", t.Amount.String(), "reason", t.Reason)
	return nil
}
