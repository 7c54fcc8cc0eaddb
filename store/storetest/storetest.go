// Package storetest provides a conformance suite that every store.Store
// implementation is expected to pass.
package storetest

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/rbaliyan/stakemail/store"
)

// Factory returns a new, empty, connected store. Stores returned by a
// Factory must start at store.LayoutCurrent.
type Factory func(t *testing.T) store.Store

var errAbort = errors.New("abort")

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("fresh meta", func(t *testing.T) { testFreshMeta(t, newStore(t)) })
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("emails", func(t *testing.T) { testEmails(t, newStore(t)) })
	t.Run("index", func(t *testing.T) { testIndex(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("view is read-only", func(t *testing.T) { testReadOnly(t, newStore(t)) })
	t.Run("export and import", func(t *testing.T) { testExportImport(t, newStore(t)) })
}

func update(t *testing.T, s store.Store, fn func(tx store.Tx) error) {
	t.Helper()
	if err := s.Update(context.Background(), fn); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func view(t *testing.T, s store.Store, fn func(tx store.Tx) error) {
	t.Helper()
	if err := s.View(context.Background(), fn); err != nil {
		t.Fatalf("view failed: %v", err)
	}
}

func sortIDs(ids []store.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
}

func testFreshMeta(t *testing.T, s store.Store) {
	view(t, s, func(tx store.Tx) error {
		m, err := tx.GetMeta(context.Background())
		if err != nil {
			return err
		}
		if m.Layout != store.LayoutCurrent {
			t.Errorf("expected layout %d, got %d", store.LayoutCurrent, m.Layout)
		}
		if !m.EmailCount.IsZero() {
			t.Errorf("expected zero email count, got %s", m.EmailCount)
		}
		return nil
	})
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	big, err := store.ParseBalance("340282366920938463463374607431768211455")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := store.Account{Deposited: big, Consumed: store.NewBalance(20)}

	update(t, s, func(tx store.Tx) error {
		if _, err := tx.GetAccount(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		return tx.PutAccount(ctx, "alice", want)
	})

	view(t, s, func(tx store.Tx) error {
		got, err := tx.GetAccount(ctx, "alice")
		if err != nil {
			return err
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
		return nil
	})

	update(t, s, func(tx store.Tx) error {
		want.Consumed = store.NewBalance(30)
		if err := tx.PutAccount(ctx, "alice", want); err != nil {
			return err
		}
		got, err := tx.GetAccount(ctx, "alice")
		if err != nil {
			return err
		}
		if got.Consumed != store.NewBalance(30) {
			t.Errorf("expected replaced account, got %+v", got)
		}
		if err := tx.DeleteAccount(ctx, "alice"); err != nil {
			return err
		}
		// Deleting a missing account is not an error.
		return tx.DeleteAccount(ctx, "nobody")
	})

	view(t, s, func(tx store.Tx) error {
		if _, err := tx.GetAccount(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		return nil
	})
}

func testEmails(t *testing.T, s store.Store) {
	ctx := context.Background()
	legacy := store.EmailV1{Title: "old", Content: "body", Timestamp: 7}
	current := store.EmailCurrent{Email: store.Email{Title: "new", Content: "x", Timestamp: 9, Fee: store.NewBalance(5)}}

	update(t, s, func(tx store.Tx) error {
		if err := tx.PutEmail(ctx, store.NewID(0), legacy); err != nil {
			return err
		}
		return tx.PutEmail(ctx, store.NewID(1), current)
	})

	view(t, s, func(tx store.Tx) error {
		got, err := tx.GetEmail(ctx, store.NewID(0))
		if err != nil {
			return err
		}
		if got != store.Versioned(legacy) {
			t.Errorf("expected %+v, got %+v", legacy, got)
		}
		got, err = tx.GetEmail(ctx, store.NewID(1))
		if err != nil {
			return err
		}
		if got != store.Versioned(current) {
			t.Errorf("expected %+v, got %+v", current, got)
		}
		if _, err := tx.GetEmail(ctx, store.NewID(2)); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		n, err := tx.CountEmails(ctx)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("expected 2 emails, got %d", n)
		}
		return nil
	})

	update(t, s, func(tx store.Tx) error {
		if err := tx.DeleteEmail(ctx, store.NewID(0)); err != nil {
			return err
		}
		if err := tx.DeleteEmail(ctx, store.NewID(0)); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		return nil
	})

	view(t, s, func(tx store.Tx) error {
		n, err := tx.CountEmails(ctx)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected 1 email, got %d", n)
		}
		return nil
	})
}

func testIndex(t *testing.T, s store.Store) {
	ctx := context.Background()

	update(t, s, func(tx store.Tx) error {
		for _, id := range []uint64{3, 1, 2} {
			if err := tx.AddToIndex(ctx, store.IndexSender, "alice", store.NewID(id)); err != nil {
				return err
			}
		}
		// Set semantics: a duplicate add is a no-op.
		if err := tx.AddToIndex(ctx, store.IndexSender, "alice", store.NewID(1)); err != nil {
			return err
		}
		if err := tx.AddToIndex(ctx, store.IndexReceiver, "bob", store.NewID(1)); err != nil {
			return err
		}
		return tx.AddToIndex(ctx, store.IndexReceiver, "bob", store.NewID(2))
	})

	view(t, s, func(tx store.Tx) error {
		n, err := tx.IndexSize(ctx, store.IndexSender, "alice")
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("expected sender size 3, got %d", n)
		}
		n, err = tx.IndexSize(ctx, store.IndexSender, "carol")
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("expected empty set for unknown account, got %d", n)
		}
		ok, err := tx.IndexContains(ctx, store.IndexReceiver, "bob", store.NewID(2))
		if err != nil {
			return err
		}
		if !ok {
			t.Error("expected bob's receiver set to contain 2")
		}
		ok, err = tx.IndexContains(ctx, store.IndexSender, "bob", store.NewID(2))
		if err != nil {
			return err
		}
		if ok {
			t.Error("indices must be independent")
		}
		ids, err := tx.IndexMembers(ctx, store.IndexSender, "alice")
		if err != nil {
			return err
		}
		sortIDs(ids)
		if len(ids) != 3 || ids[0] != store.NewID(1) || ids[2] != store.NewID(3) {
			t.Errorf("unexpected members %v", ids)
		}
		return nil
	})

	update(t, s, func(tx store.Tx) error {
		return tx.RemoveFromIndexes(ctx, store.NewID(1))
	})

	view(t, s, func(tx store.Tx) error {
		for _, c := range []struct {
			kind    store.IndexKind
			account string
		}{{store.IndexSender, "alice"}, {store.IndexReceiver, "bob"}} {
			ok, err := tx.IndexContains(ctx, c.kind, c.account, store.NewID(1))
			if err != nil {
				return err
			}
			if ok {
				t.Errorf("expected id 1 removed from %s/%s", c.kind, c.account)
			}
		}
		n, err := tx.IndexSize(ctx, store.IndexReceiver, "bob")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected receiver size 1, got %d", n)
		}
		return nil
	})
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()

	update(t, s, func(tx store.Tx) error {
		return tx.PutAccount(ctx, "alice", store.Account{Deposited: store.NewBalance(100)})
	})

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutAccount(ctx, "alice", store.Account{Deposited: store.NewBalance(1)}); err != nil {
			return err
		}
		if err := tx.PutAccount(ctx, "bob", store.Account{Deposited: store.NewBalance(1)}); err != nil {
			return err
		}
		if err := tx.PutEmail(ctx, store.NewID(0), store.EmailV1{Title: "t"}); err != nil {
			return err
		}
		if err := tx.AddToIndex(ctx, store.IndexSender, "alice", store.NewID(0)); err != nil {
			return err
		}
		if err := tx.PutMeta(ctx, store.Meta{Layout: store.LayoutCurrent, EmailCount: store.NewID(1)}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected errAbort, got %v", err)
	}

	view(t, s, func(tx store.Tx) error {
		a, err := tx.GetAccount(ctx, "alice")
		if err != nil {
			return err
		}
		if a.Deposited != store.NewBalance(100) {
			t.Errorf("expected alice restored, got %+v", a)
		}
		if _, err := tx.GetAccount(ctx, "bob"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected bob absent, got %v", err)
		}
		if _, err := tx.GetEmail(ctx, store.NewID(0)); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected email absent, got %v", err)
		}
		n, err := tx.IndexSize(ctx, store.IndexSender, "alice")
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("expected empty index, got %d", n)
		}
		m, err := tx.GetMeta(ctx)
		if err != nil {
			return err
		}
		if !m.EmailCount.IsZero() {
			t.Errorf("expected counter restored, got %s", m.EmailCount)
		}
		return nil
	})
}

func testReadOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(tx store.Tx) error {
		return tx.PutAccount(ctx, "alice", store.Account{})
	})
	if !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func testExportImport(t *testing.T, s store.Store) {
	ctx := context.Background()
	state := &store.LayoutState{
		LayoutStateV1: store.LayoutStateV1{
			Accounts: map[string]store.Account{
				"alice": {Deposited: store.NewBalance(500), Consumed: store.NewBalance(30)},
			},
			Senders:    map[string][]store.ID{"alice": {store.NewID(0), store.NewID(1)}},
			Receivers:  map[string][]store.ID{"bob": {store.NewID(0), store.NewID(1)}},
			Emails:     map[store.ID]store.Versioned{store.NewID(0): store.EmailV1{Title: "a"}, store.NewID(1): store.EmailV1{Title: "b"}},
			EmailCount: store.NewID(2),
		},
		DonationAccount: "donate.test",
	}

	update(t, s, func(tx store.Tx) error {
		// Pre-existing rows must be replaced, not merged.
		if err := tx.PutAccount(ctx, "stale", store.Account{}); err != nil {
			return err
		}
		return tx.Import(ctx, state)
	})

	view(t, s, func(tx store.Tx) error {
		m, err := tx.GetMeta(ctx)
		if err != nil {
			return err
		}
		if m.Layout != store.LayoutCurrent || m.EmailCount != store.NewID(2) || m.DonationAccount != "donate.test" {
			t.Errorf("unexpected meta %+v", m)
		}

		got, err := tx.ExportV1(ctx)
		if err != nil {
			return err
		}
		if len(got.Accounts) != 1 || got.Accounts["alice"] != state.Accounts["alice"] {
			t.Errorf("unexpected accounts %+v", got.Accounts)
		}
		if len(got.Emails) != 2 || got.Emails[store.NewID(1)] != store.Versioned(store.EmailV1{Title: "b"}) {
			t.Errorf("unexpected emails %+v", got.Emails)
		}
		senders := got.Senders["alice"]
		sortIDs(senders)
		if len(senders) != 2 || senders[1] != store.NewID(1) {
			t.Errorf("unexpected senders %v", senders)
		}
		if len(got.Receivers["bob"]) != 2 {
			t.Errorf("unexpected receivers %v", got.Receivers)
		}
		if got.EmailCount != store.NewID(2) {
			t.Errorf("expected count 2, got %s", got.EmailCount)
		}
		return nil
	})
}
