package stakemail

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/stakemail/store"
)

// Host is the environment the service runs in.
//
// StorageByteCost is read fresh for every operation that depends on it and
// is never cached across calls, so the host may change it at any time.
type Host interface {
	// StorageByteCost returns the current price of one byte of persisted state.
	StorageByteCost(ctx context.Context) (store.Balance, error)
	// Now returns the current host time in nanoseconds.
	Now() uint64
}

// StaticHost is a Host with a settable byte cost and clock.
// Without a clock it reports wall-clock time. Safe for concurrent use.
type StaticHost struct {
	mu    sync.RWMutex
	cost  store.Balance
	clock func() uint64
}

// NewStaticHost returns a StaticHost charging cost per byte.
func NewStaticHost(cost store.Balance) *StaticHost {
	return &StaticHost{cost: cost}
}

// SetByteCost changes the byte cost seen by subsequent operations.
func (h *StaticHost) SetByteCost(cost store.Balance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cost = cost
}

// SetClock replaces the clock. Pass nil to restore wall-clock time.
func (h *StaticHost) SetClock(fn func() uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = fn
}

func (h *StaticHost) StorageByteCost(_ context.Context) (store.Balance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cost, nil
}

func (h *StaticHost) Now() uint64 {
	h.mu.RLock()
	fn := h.clock
	h.mu.RUnlock()
	if fn != nil {
		return fn()
	}
	return uint64(time.Now().UnixNano())
}

// Compile-time check
var _ Host = (*StaticHost)(nil)
