// Package store provides interfaces and types for stakemail storage.
// Implementations are in store/memory, store/sqlstore, and store/mongo.
//
// # Transactions
//
// Every service operation runs inside exactly one Update or View call.
// Update must be all-or-nothing: if the callback returns an error, none of
// the writes made through the Tx may become visible. Backends use their
// native mechanism for this (SQL transactions, MongoDB sessions, an undo
// journal in memory).
//
// The service layer checks every precondition before it writes, so a
// backend never has to reconcile a half-validated call. Backends are still
// required to roll back, because a write itself can fail.
//
// # Layout
//
// The persisted layout is five collections: accounts, emails (each carrying
// its version tag), the sender index, the receiver index, and a single meta
// record with the email counter and the donation fields. A store created by
// this build starts at LayoutCurrent. A store holding data written by an
// older build reports LayoutV1 until the layout is migrated.
package store

import (
	"context"
)

// Store is the storage interface for stakemail.
type Store interface {
	// Connect prepares the backend (schema, indexes) and marks it usable.
	Connect(ctx context.Context) error
	// Close marks the store as disconnected. Callers own the underlying
	// client or connection pool.
	Close(ctx context.Context) error

	// Update runs fn in a read-write transaction.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction. Writes through the Tx
	// passed to fn are not permitted.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
//
// Composed of:
//   - AccountTx: storage-staking accounts
//   - EmailTx: the primary email table
//   - IndexTx: sender and receiver secondary indices
//   - MetaTx: counter, donation fields and layout version
//   - LayoutTx: whole-layout export and import for migrations
type Tx interface {
	AccountTx
	EmailTx
	IndexTx
	MetaTx
	LayoutTx
}

// Account is a storage-staking balance.
// Consumed never exceeds Deposited.
type Account struct {
	Deposited Balance
	Consumed  Balance
}

// Available returns Deposited minus Consumed.
func (a Account) Available() Balance {
	if a.Consumed.Cmp(a.Deposited) >= 0 {
		return ZeroBalance
	}
	return a.Deposited.Sub(a.Consumed)
}

// AccountTx provides account operations.
type AccountTx interface {
	// GetAccount returns ErrNotFound if the account is not registered.
	GetAccount(ctx context.Context, id string) (Account, error)
	// PutAccount creates or replaces an account.
	PutAccount(ctx context.Context, id string, a Account) error
	// DeleteAccount removes an account. Removing a missing account is not an error.
	DeleteAccount(ctx context.Context, id string) error
}

// EmailTx provides primary email table operations.
type EmailTx interface {
	// GetEmail returns the stored record exactly as written.
	// Returns ErrNotFound if the id is absent.
	GetEmail(ctx context.Context, id ID) (Versioned, error)
	// PutEmail stores a record under id, replacing any existing one.
	PutEmail(ctx context.Context, id ID, e Versioned) error
	// DeleteEmail removes a record. Returns ErrNotFound if the id is absent.
	DeleteEmail(ctx context.Context, id ID) error
	// CountEmails returns the number of live records.
	CountEmails(ctx context.Context) (uint64, error)
}

// IndexKind selects one of the two secondary indices.
type IndexKind string

const (
	IndexSender   IndexKind = "sender"
	IndexReceiver IndexKind = "receiver"
)

// IndexTx provides secondary index operations.
// Index entries are sets: adding an id twice is a no-op.
type IndexTx interface {
	// AddToIndex inserts id into the account's set, creating the set if needed.
	AddToIndex(ctx context.Context, kind IndexKind, account string, id ID) error
	// IndexContains reports whether id is in the account's set.
	IndexContains(ctx context.Context, kind IndexKind, account string, id ID) (bool, error)
	// IndexMembers returns the account's set. Order is unspecified.
	IndexMembers(ctx context.Context, kind IndexKind, account string) ([]ID, error)
	// IndexSize returns the size of the account's set, or 0 if it has none.
	IndexSize(ctx context.Context, kind IndexKind, account string) (uint64, error)
	// RemoveFromIndexes removes id from every set of both indices.
	RemoveFromIndexes(ctx context.Context, id ID) error
}

// LayoutVersion identifies the shape of the persisted meta record.
type LayoutVersion int

const (
	// LayoutV1 has no donation fields.
	LayoutV1 LayoutVersion = 1
	// LayoutCurrent adds DonationCount and DonationAccount.
	LayoutCurrent LayoutVersion = 2
)

// Meta is the singleton record holding the counter and contract-wide fields.
// For LayoutV1 stores the donation fields are zero and meaningless.
type Meta struct {
	Layout          LayoutVersion
	EmailCount      ID // next id to assign
	DonationCount   Balance
	DonationAccount string
}

// MetaTx provides meta record operations.
type MetaTx interface {
	// GetMeta returns the meta record. A fresh store returns a LayoutCurrent
	// meta with a zero counter.
	GetMeta(ctx context.Context) (Meta, error)
	// PutMeta replaces the meta record.
	PutMeta(ctx context.Context, m Meta) error
}

// LayoutTx exports and imports the whole persisted layout.
// Used only by schema migration.
type LayoutTx interface {
	// ExportV1 reads every field the V1 layout has, regardless of the
	// layout the store is currently at.
	ExportV1(ctx context.Context) (*LayoutStateV1, error)
	// Import replaces the entire persisted state with s.
	Import(ctx context.Context, s *LayoutState) error
}

// LayoutStateV1 is the complete persisted state of a V1 deployment.
type LayoutStateV1 struct {
	Accounts   map[string]Account
	Senders    map[string][]ID
	Receivers  map[string][]ID
	Emails     map[ID]Versioned
	EmailCount ID
}

// LayoutState is the complete persisted state in the current layout.
type LayoutState struct {
	LayoutStateV1
	DonationCount   Balance
	DonationAccount string
}
