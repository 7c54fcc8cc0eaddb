// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/stakemail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory maps.
// Update calls are serialized; View calls may run concurrently with each other.
type Store struct {
	mu        sync.RWMutex
	state     *state
	connected int32
}

// state is the persisted layout. Emails are kept encoded so that readers
// can never observe or alter stored bytes through a returned value.
type state struct {
	accounts map[string]store.Account
	emails   map[store.ID][]byte
	index    map[store.IndexKind]map[string]map[store.ID]struct{}
	meta     store.Meta
}

func newState() *state {
	return &state{
		accounts: make(map[string]store.Account),
		emails:   make(map[store.ID][]byte),
		index: map[store.IndexKind]map[string]map[store.ID]struct{}{
			store.IndexSender:   make(map[string]map[store.ID]struct{}),
			store.IndexReceiver: make(map[string]map[store.ID]struct{}),
		},
		meta: store.Meta{Layout: store.LayoutCurrent},
	}
}

// New creates a new empty in-memory store at the current layout.
func New() *Store {
	return &Store{state: newState()}
}

// NewV1 creates an in-memory store holding legacy data in the V1 layout.
// Use it to exercise schema migration.
func NewV1(old *store.LayoutStateV1) (*Store, error) {
	st := newState()
	if err := st.load(old); err != nil {
		return nil, err
	}
	st.meta = store.Meta{Layout: store.LayoutV1, EmailCount: old.EmailCount}
	return &Store{state: st}, nil
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Update runs fn with exclusive access. If fn fails, every write it made
// is undone in reverse order.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.state}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// View runs fn with shared access.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&tx{st: s.state, readOnly: true})
}

// RawEmail returns a copy of the stored bytes for id.
// Tests use it to check that reads never rewrite records.
func (s *Store) RawEmail(id store.ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.state.emails[id]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// load replaces the state's shared V1 fields with old.
func (st *state) load(old *store.LayoutStateV1) error {
	st.accounts = make(map[string]store.Account, len(old.Accounts))
	for id, a := range old.Accounts {
		st.accounts[id] = a
	}

	st.emails = make(map[store.ID][]byte, len(old.Emails))
	for id, e := range old.Emails {
		b, err := store.EncodeEmail(e)
		if err != nil {
			return err
		}
		st.emails[id] = b
	}

	st.index = map[store.IndexKind]map[string]map[store.ID]struct{}{
		store.IndexSender:   toSets(old.Senders),
		store.IndexReceiver: toSets(old.Receivers),
	}
	st.meta.EmailCount = old.EmailCount
	return nil
}

func toSets(in map[string][]store.ID) map[string]map[store.ID]struct{} {
	out := make(map[string]map[store.ID]struct{}, len(in))
	for account, ids := range in {
		set := make(map[store.ID]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		out[account] = set
	}
	return out
}

func fromSets(in map[string]map[store.ID]struct{}) map[string][]store.ID {
	out := make(map[string][]store.ID, len(in))
	for account, set := range in {
		ids := make([]store.ID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		out[account] = ids
	}
	return out
}
