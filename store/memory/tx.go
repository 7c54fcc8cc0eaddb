package memory

import (
	"context"

	"github.com/rbaliyan/stakemail/store"
)

// tx implements store.Tx over the shared state. Writes are applied in
// place and paired with an undo closure.
type tx struct {
	st       *state
	readOnly bool
	undo     []func()
}

var _ store.Tx = (*tx)(nil)

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) checkWritable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

// =============================================================================
// Accounts
// =============================================================================

func (t *tx) GetAccount(_ context.Context, id string) (store.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (t *tx) PutAccount(_ context.Context, id string, a store.Account) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prev, existed := t.st.accounts[id]
	t.st.accounts[id] = a
	t.undo = append(t.undo, func() {
		if existed {
			t.st.accounts[id] = prev
		} else {
			delete(t.st.accounts, id)
		}
	})
	return nil
}

func (t *tx) DeleteAccount(_ context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prev, existed := t.st.accounts[id]
	if !existed {
		return nil
	}
	delete(t.st.accounts, id)
	t.undo = append(t.undo, func() { t.st.accounts[id] = prev })
	return nil
}

// =============================================================================
// Emails
// =============================================================================

func (t *tx) GetEmail(_ context.Context, id store.ID) (store.Versioned, error) {
	b, ok := t.st.emails[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.DecodeEmail(b)
}

func (t *tx) PutEmail(_ context.Context, id store.ID, e store.Versioned) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	b, err := store.EncodeEmail(e)
	if err != nil {
		return err
	}
	prev, existed := t.st.emails[id]
	t.st.emails[id] = b
	t.undo = append(t.undo, func() {
		if existed {
			t.st.emails[id] = prev
		} else {
			delete(t.st.emails, id)
		}
	})
	return nil
}

func (t *tx) DeleteEmail(_ context.Context, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prev, ok := t.st.emails[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(t.st.emails, id)
	t.undo = append(t.undo, func() { t.st.emails[id] = prev })
	return nil
}

func (t *tx) CountEmails(_ context.Context) (uint64, error) {
	return uint64(len(t.st.emails)), nil
}

// =============================================================================
// Index
// =============================================================================

func (t *tx) AddToIndex(_ context.Context, kind store.IndexKind, account string, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	sets := t.st.index[kind]
	set, ok := sets[account]
	if !ok {
		set = make(map[store.ID]struct{})
		sets[account] = set
		t.undo = append(t.undo, func() { delete(sets, account) })
	}
	if _, present := set[id]; present {
		return nil
	}
	set[id] = struct{}{}
	t.undo = append(t.undo, func() { delete(set, id) })
	return nil
}

func (t *tx) IndexContains(_ context.Context, kind store.IndexKind, account string, id store.ID) (bool, error) {
	_, ok := t.st.index[kind][account][id]
	return ok, nil
}

func (t *tx) IndexMembers(_ context.Context, kind store.IndexKind, account string) ([]store.ID, error) {
	set := t.st.index[kind][account]
	ids := make([]store.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *tx) IndexSize(_ context.Context, kind store.IndexKind, account string) (uint64, error) {
	return uint64(len(t.st.index[kind][account])), nil
}

func (t *tx) RemoveFromIndexes(_ context.Context, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	for _, sets := range t.st.index {
		for _, set := range sets {
			if _, ok := set[id]; !ok {
				continue
			}
			delete(set, id)
			s := set
			t.undo = append(t.undo, func() { s[id] = struct{}{} })
		}
	}
	return nil
}

// =============================================================================
// Meta and layout
// =============================================================================

func (t *tx) GetMeta(_ context.Context) (store.Meta, error) {
	return t.st.meta, nil
}

func (t *tx) PutMeta(_ context.Context, m store.Meta) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prev := t.st.meta
	t.st.meta = m
	t.undo = append(t.undo, func() { t.st.meta = prev })
	return nil
}

func (t *tx) ExportV1(_ context.Context) (*store.LayoutStateV1, error) {
	out := &store.LayoutStateV1{
		Accounts:   make(map[string]store.Account, len(t.st.accounts)),
		Senders:    fromSets(t.st.index[store.IndexSender]),
		Receivers:  fromSets(t.st.index[store.IndexReceiver]),
		Emails:     make(map[store.ID]store.Versioned, len(t.st.emails)),
		EmailCount: t.st.meta.EmailCount,
	}
	for id, a := range t.st.accounts {
		out.Accounts[id] = a
	}
	for id, b := range t.st.emails {
		e, err := store.DecodeEmail(b)
		if err != nil {
			return nil, err
		}
		out.Emails[id] = e
	}
	return out, nil
}

func (t *tx) Import(_ context.Context, s *store.LayoutState) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prev := *t.st
	if err := t.st.load(&s.LayoutStateV1); err != nil {
		*t.st = prev
		return err
	}
	t.st.meta = store.Meta{
		Layout:          store.LayoutCurrent,
		EmailCount:      s.EmailCount,
		DonationCount:   s.DonationCount,
		DonationAccount: s.DonationAccount,
	}
	t.undo = append(t.undo, func() { *t.st = prev })
	return nil
}
