package store

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"lukechampine.com/uint128"
)

// Balance is an amount of native balance in its smallest unit.
// Balances are unsigned 128-bit integers; arithmetic never wraps.
type Balance = uint128.Uint128

// ID identifies an email. IDs are allocated from a monotonic 128-bit
// counter and are never reused, even after the email is deleted.
type ID = uint128.Uint128

// ZeroBalance is the zero Balance.
var ZeroBalance = uint128.Zero

// NewBalance returns a Balance holding v.
func NewBalance(v uint64) Balance {
	return uint128.From64(v)
}

// NewID returns an ID holding v.
func NewID(v uint64) ID {
	return uint128.From64(v)
}

// ParseBalance parses a base-10 balance.
func ParseBalance(s string) (Balance, error) {
	b, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: balance %q: %v", ErrCorruptRecord, s, err)
	}
	return b, nil
}

// ParseID parses a base-10 email id.
func ParseID(s string) (ID, error) {
	id, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// IDKey returns the fixed-width key form of id: 32 lowercase hex digits,
// big-endian. Keys sort in the same order as the ids they encode, which
// lets SQL and document backends order by a plain text column.
func IDKey(id ID) string {
	var b [16]byte
	id.PutBytesBE(b[:])
	return hex.EncodeToString(b[:])
}

// ParseIDKey is the inverse of IDKey.
func ParseIDKey(key string) (ID, error) {
	if len(key) != 32 {
		return uint128.Zero, fmt.Errorf("%w: key %q", ErrInvalidID, key)
	}
	b, err := hex.DecodeString(key)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: key %q", ErrInvalidID, key)
	}
	return uint128.FromBytesBE(b), nil
}

// maxBits is the width of Balance and ID.
const maxBits = 128

// AddBalance returns a+b, or false if the sum does not fit in 128 bits.
func AddBalance(a, b Balance) (Balance, bool) {
	if a.Cmp(uint128.Max.Sub(b)) > 0 {
		return uint128.Zero, false
	}
	return a.Add(b), true
}

// MulBalance returns a*n, or false if the product does not fit in 128 bits.
func MulBalance(a Balance, n uint64) (Balance, bool) {
	p := new(big.Int).Mul(a.Big(), new(big.Int).SetUint64(n))
	if p.BitLen() > maxBits {
		return uint128.Zero, false
	}
	return uint128.FromBig(p), true
}
