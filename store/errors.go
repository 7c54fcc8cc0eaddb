package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when an account, email or meta record cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an email id cannot be parsed.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrUnknownVersion is returned when a stored email carries a version tag
	// this build does not know how to decode.
	ErrUnknownVersion = errors.New("store: unknown record version")

	// ErrCorruptRecord is returned when a stored value cannot be decoded.
	ErrCorruptRecord = errors.New("store: corrupt record")

	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("store: read-only transaction")

	// ErrTransactionFailed is returned when a backend transaction fails.
	// No changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
