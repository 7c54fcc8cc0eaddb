// Package transfer models balance transfers that the mailbox requests from
// its host and executes them after the state change that produced them has
// been committed.
//
// A Transfer is a pending effect: a value describing money that must move.
// Service operations return them alongside their results. A Dispatcher
// hands each one to a Bank exactly once; a failed transfer is reported and
// never compensated.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rbaliyan/stakemail/store"
)

// Reason says why a transfer was issued.
type Reason string

const (
	ReasonRegistrationRefund Reason = "registration_refund"
	ReasonWithdraw           Reason = "withdraw"
	ReasonUnregister         Reason = "unregister"
	ReasonMailFee            Reason = "mail_fee"
	ReasonDonation           Reason = "donation"
)

// Transfer is a request to move Amount to the account To.
type Transfer struct {
	ID     uuid.UUID
	To     string
	Amount store.Balance
	Reason Reason
}

// New returns a Transfer with a fresh id.
func New(to string, amount store.Balance, reason Reason) Transfer {
	return Transfer{ID: uuid.New(), To: to, Amount: amount, Reason: reason}
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s %s -> %s (%s)", t.ID, t.Amount, t.To, t.Reason)
}

// Bank is the host's balance transfer primitive.
//
// Implementations should treat Transfer.ID as an idempotency key; the
// dispatcher may call Transfer more than once for the same id when a
// previous attempt failed transiently.
type Bank interface {
	Transfer(ctx context.Context, t Transfer) error
}

// BankFunc adapts a function to the Bank interface.
type BankFunc func(ctx context.Context, t Transfer) error

func (f BankFunc) Transfer(ctx context.Context, t Transfer) error { return f(ctx, t) }

// Sentinel errors.
var (
	// ErrAlreadyDispatched is reported when a transfer id has already been
	// handed to the bank.
	ErrAlreadyDispatched = errors.New("transfer: already dispatched")

	// ErrRejected is returned by banks that refuse a transfer outright.
	// It is never retried.
	ErrRejected = errors.New("transfer: rejected")
)

// DispatchError reports a transfer the bank did not complete.
type DispatchError struct {
	Transfer Transfer
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Transfer, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
