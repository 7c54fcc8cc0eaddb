package stakemail

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageLimits holds message validation limits.
type MessageLimits struct {
	MaxTitleLength int
	MaxContentSize int
}

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxTitleLength: DefaultMaxTitleLength,
		MaxContentSize: DefaultMaxContentSize,
	}
}

// ValidateTitle validates a message title using default limits.
func ValidateTitle(title string) error {
	return ValidateTitleWithLimits(title, DefaultLimits())
}

// ValidateTitleWithLimits validates a message title against configurable limits.
// An empty title is allowed.
func ValidateTitleWithLimits(title string, limits MessageLimits) error {
	if len(title) > limits.MaxTitleLength {
		return fmt.Errorf("%w: title length %d exceeds max %d", ErrTitleTooLong, len(title), limits.MaxTitleLength)
	}

	if !utf8.ValidString(title) {
		return fmt.Errorf("%w: title contains invalid UTF-8", ErrInvalidContent)
	}

	for _, r := range title {
		if unicode.IsControl(r) && r != '\t' {
			return fmt.Errorf("%w: title contains control character U+%04X", ErrInvalidContent, r)
		}
	}

	return nil
}

// ValidateContent validates message content using default limits.
func ValidateContent(content string) error {
	return ValidateContentWithLimits(content, DefaultLimits())
}

// ValidateContentWithLimits validates message content against configurable limits.
func ValidateContentWithLimits(content string, limits MessageLimits) error {
	if len(content) > limits.MaxContentSize {
		return fmt.Errorf("%w: content size %d exceeds max %d bytes", ErrContentTooLarge, len(content), limits.MaxContentSize)
	}

	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: content contains invalid UTF-8", ErrInvalidContent)
	}

	// Null bytes could indicate injection attempts
	if strings.ContainsRune(content, '\x00') {
		return fmt.Errorf("%w: content contains null bytes", ErrInvalidContent)
	}

	return nil
}

// ValidateMessage validates title and content together.
func ValidateMessage(title, content string, limits MessageLimits) error {
	if err := ValidateTitleWithLimits(title, limits); err != nil {
		return err
	}
	return ValidateContentWithLimits(content, limits)
}

// ValidateAccountID checks that an account id is non-empty, at most
// MaxAccountIDLength bytes, and free of characters that would be unsafe in
// storage keys.
func ValidateAccountID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}
	if len(id) > MaxAccountIDLength {
		return fmt.Errorf("%w: length %d exceeds max %d", ErrInvalidAccountID, len(id), MaxAccountIDLength)
	}
	// Allow alphanumeric, hyphen, underscore, period, at-sign.
	// Disallow: *, :, /, \, whitespace, and control characters.
	for _, c := range id {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			unicode.IsSpace(c) || unicode.IsControl(c) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidAccountID, id, c)
		}
	}
	return nil
}
