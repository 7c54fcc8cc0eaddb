package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rbaliyan/stakemail/store"
)

// Compile-time check
var _ Bank = (*MemoryBank)(nil)

// MemoryBank is an in-process Bank that credits wallet balances.
// Repeated transfers with the same id are applied once.
type MemoryBank struct {
	mu       sync.Mutex
	wallets  map[string]store.Balance
	applied  map[uuid.UUID]struct{}
	history  []Transfer
	failWith func(Transfer) error
}

// NewMemoryBank creates an empty MemoryBank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		wallets: make(map[string]store.Balance),
		applied: make(map[uuid.UUID]struct{}),
	}
}

// FailWith installs a hook that can fail transfers before they are applied.
// Pass nil to remove it.
func (b *MemoryBank) FailWith(fn func(Transfer) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = fn
}

// Transfer credits t.Amount to t.To.
func (b *MemoryBank) Transfer(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.applied[t.ID]; done {
		return nil
	}
	if b.failWith != nil {
		if err := b.failWith(t); err != nil {
			return err
		}
	}
	sum, ok := store.AddBalance(b.wallets[t.To], t.Amount)
	if !ok {
		return fmt.Errorf("%w: wallet %s overflows", ErrRejected, t.To)
	}
	b.wallets[t.To] = sum
	b.applied[t.ID] = struct{}{}
	b.history = append(b.history, t)
	return nil
}

// Balance returns the wallet balance of account.
func (b *MemoryBank) Balance(account string) store.Balance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wallets[account]
}

// History returns the applied transfers in order.
func (b *MemoryBank) History() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transfer, len(b.history))
	copy(out, b.history)
	return out
}
