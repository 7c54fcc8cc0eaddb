package stakemail

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// Sentinel errors for the stakemail package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, stakemail.ErrNotFound) will match both service-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a message cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("stakemail: %w", store.ErrNotFound)

	// ErrNotRegistered is returned for ledger operations on an account
	// that has never deposited or has unregistered.
	ErrNotRegistered = errors.New("stakemail: account not registered")

	// ErrInsufficientDeposit is returned when a first deposit does not
	// exceed the minimum deposit.
	ErrInsufficientDeposit = errors.New("stakemail: insufficient deposit")

	// ErrInsufficientAvailable is returned when a withdrawal exceeds the
	// available balance.
	ErrInsufficientAvailable = errors.New("stakemail: insufficient available balance")

	// ErrInsufficientStorageBalance is returned when the sender cannot pay
	// for the storage of one more message.
	ErrInsufficientStorageBalance = errors.New("stakemail: insufficient storage balance")

	// ErrUnauthorized is returned when the caller may not perform an operation.
	ErrUnauthorized = errors.New("stakemail: unauthorized")

	// ErrInvalidAmount is returned when an amount must be positive and is zero.
	ErrInvalidAmount = errors.New("stakemail: invalid amount")

	// ErrOverflow is returned when a balance or counter would exceed 128 bits.
	ErrOverflow = errors.New("stakemail: arithmetic overflow")

	// ErrSchemaOutdated is returned for state-changing operations while the
	// store still holds the previous layout. Run MigrateSchema first.
	ErrSchemaOutdated = errors.New("stakemail: schema migration required")

	// ErrNoDonationAccount is returned by Donate when no donation account is set.
	ErrNoDonationAccount = errors.New("stakemail: donation account not set")

	// ErrInvalidMessage is returned for message validation failures.
	ErrInvalidMessage = errors.New("stakemail: invalid message")

	// ErrTitleTooLong is returned when a title exceeds the maximum length.
	ErrTitleTooLong = errors.New("stakemail: title too long")

	// ErrContentTooLarge is returned when content exceeds the maximum size.
	ErrContentTooLarge = errors.New("stakemail: content too large")

	// ErrInvalidContent is returned when a title or content is not valid UTF-8
	// or contains control characters.
	ErrInvalidContent = errors.New("stakemail: invalid content")

	// ErrInvalidAccountID is returned when an account id is empty or
	// contains characters that are not allowed.
	ErrInvalidAccountID = errors.New("stakemail: invalid account id")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("stakemail: store is required")

	// ErrHostRequired is returned when no host is configured.
	ErrHostRequired = errors.New("stakemail: host is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("stakemail: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("stakemail: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when a message id cannot be parsed.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("stakemail: %w", store.ErrInvalidID)
)

// IsRetryableError determines if an error is retryable.
// Ledger and validation failures are deterministic and never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	permanentErrors := []error{
		ErrNotFound,
		ErrNotRegistered,
		ErrInsufficientDeposit,
		ErrInsufficientAvailable,
		ErrInsufficientStorageBalance,
		ErrUnauthorized,
		ErrInvalidAmount,
		ErrOverflow,
		ErrSchemaOutdated,
		ErrNoDonationAccount,
		ErrInvalidMessage,
		ErrTitleTooLong,
		ErrContentTooLarge,
		ErrInvalidContent,
		ErrInvalidAccountID,
		ErrInvalidID,
		store.ErrUnknownVersion,
		store.ErrCorruptRecord,
		transfer.ErrRejected,
		transfer.ErrAlreadyDispatched,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}
	// Connection and transaction failures are transient, as is anything unknown.
	return true
}

// EventPublishError is returned when event publishing fails but the operation
// committed. Only returned when WithEventErrorsFatal(true) is set.
type EventPublishError struct {
	Event   string // The event name (e.g., "MailSent")
	Subject string // The message id or account the event was for
	Err     error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("stakemail: event %s publish failed for %s: %v", e.Event, e.Subject, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError reports whether err carries an EventPublishError.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
