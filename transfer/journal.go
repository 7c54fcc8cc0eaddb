package transfer

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Journal records which transfers have been handed to the bank.
type Journal interface {
	// Claim marks id as dispatched. It returns false if id was already
	// claimed.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
}

// Compile-time check
var _ Journal = (*MemoryJournal)(nil)

// MemoryJournal is a process-local Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	claimed map[uuid.UUID]struct{}
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{claimed: make(map[uuid.UUID]struct{})}
}

func (j *MemoryJournal) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.claimed[id]; ok {
		return false, nil
	}
	j.claimed[id] = struct{}{}
	return true, nil
}
