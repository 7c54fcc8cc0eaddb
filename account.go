package stakemail

import (
	"context"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// LedgerClient provides storage-staking operations for the caller.
type LedgerClient interface {
	// Deposit adds amount to the caller's storage balance, registering the
	// caller on first use. With registrationOnly, everything above the
	// minimum deposit is refunded.
	Deposit(ctx context.Context, amount store.Balance, registrationOnly bool) (*DepositResult, error)
	// DepositFor is Deposit on behalf of beneficiary. Refunds go to the caller.
	DepositFor(ctx context.Context, beneficiary string, amount store.Balance, registrationOnly bool) (*DepositResult, error)
	// Withdraw returns amount of the available balance to the caller.
	Withdraw(ctx context.Context, amount store.Balance) (*WithdrawResult, error)
	// Unregister removes the caller's account and refunds everything deposited.
	Unregister(ctx context.Context) (*UnregisterResult, error)
}

// MailClient provides message operations for the caller.
type MailClient interface {
	// Send stores a message from the caller and forwards req.Fee to the receiver.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	// Delete removes a message, subject to the configured DeletePolicy.
	Delete(ctx context.Context, id store.ID) error
	// Donate forwards amount to the donation account.
	Donate(ctx context.Context, amount store.Balance) (*DonateResult, error)
}

// AdminClient provides privileged operations. The caller must be the
// account set with WithOwner.
type AdminClient interface {
	// MigrateSchema rewrites the persisted state into the current layout.
	MigrateSchema(ctx context.Context) (*MigrateResult, error)
	// SetDonationAccount changes the account donations are forwarded to.
	SetDonationAccount(ctx context.Context, account string) error
}

// AccountClient is the caller-bound view of the service.
//
// Composed of:
//   - LedgerClient: Deposit, DepositFor, Withdraw, Unregister
//   - MailClient: Send, Delete, Donate
//   - AdminClient: MigrateSchema, SetDonationAccount
type AccountClient interface {
	LedgerClient
	MailClient
	AdminClient

	// ID returns the caller this client acts as.
	ID() string
}

// StorageBalance is an account's staking balance.
type StorageBalance struct {
	Total     store.Balance // deposited
	Available store.Balance // deposited minus consumed
}

// StorageBalanceBounds are the deposit bounds. Max is nil: there is no
// upper bound.
type StorageBalanceBounds struct {
	Min store.Balance
	Max *store.Balance
}

// DonationInfo holds the donation fields of the persisted layout.
type DonationInfo struct {
	Count   store.Balance
	Account string
	Layout  store.LayoutVersion
}

// Message is a stored email resolved to the current shape.
type Message struct {
	ID        store.ID
	Title     string
	Content   string
	Timestamp uint64        // host time at creation, nanoseconds
	Fee       store.Balance // zero for records written before fees
	Version   store.Version // layout the record is stored under
}

// SendRequest describes a message to send.
type SendRequest struct {
	Receiver string
	Title    string
	Content  string
	Fee      store.Balance // attached by the sender, forwarded to Receiver
}

// Effects are the transfers an operation issued after it committed.
//
// TransferErr reports transfers the bank did not complete. The operation
// itself has committed and is not rolled back.
type Effects struct {
	Transfers   []transfer.Transfer
	TransferErr error
}

func effectsOf(c *call) Effects {
	return Effects{Transfers: c.effects, TransferErr: c.transferErr}
}

// DepositResult is returned by Deposit and DepositFor.
type DepositResult struct {
	Account    string
	Balance    StorageBalance
	Registered bool // true if this deposit registered the account
	Effects
}

// WithdrawResult is returned by Withdraw.
type WithdrawResult struct {
	Balance StorageBalance
	Effects
}

// UnregisterResult is returned by Unregister.
type UnregisterResult struct {
	Removed  bool // false if the caller was not registered
	Refunded store.Balance
	Effects
}

// SendResult is returned by Send.
type SendResult struct {
	Message Message
	Balance StorageBalance // sender's balance after the charge
	Effects
}

// DonateResult is returned by Donate.
type DonateResult struct {
	Count store.Balance // donations received so far
	Effects
}

// MigrateResult is returned by MigrateSchema.
type MigrateResult struct {
	PreviousLayout store.LayoutVersion
	Accounts       int
	Emails         int
	EmailCount     store.ID
	SnapshotURI    string // empty when no snapshot sink is configured
}

// accountClient implements AccountClient for one caller.
type accountClient struct {
	id       string
	service  *service
	validErr error // result of validating id, checked on every call
}

func (a *accountClient) ID() string {
	return a.id
}

// checkAccess verifies the client can act: the service is connected and
// the caller id is valid.
func (a *accountClient) checkAccess() error {
	if !a.service.IsConnected() {
		return ErrNotConnected
	}
	return a.validErr
}

// checkOwner verifies the caller may run privileged operations.
func (a *accountClient) checkOwner() error {
	if a.service.opts.owner == "" || a.id != a.service.opts.owner {
		return ErrUnauthorized
	}
	return nil
}
