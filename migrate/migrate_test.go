package migrate

import (
	"testing"

	"github.com/rbaliyan/stakemail/store"
)

func legacyState() *store.LayoutStateV1 {
	return &store.LayoutStateV1{
		Accounts: map[string]store.Account{
			"alice": {Deposited: store.NewBalance(1000), Consumed: store.NewBalance(40)},
			"bob":   {Deposited: store.NewBalance(300), Consumed: store.NewBalance(20)},
		},
		Senders:   map[string][]store.ID{"alice": {store.NewID(0), store.NewID(1)}},
		Receivers: map[string][]store.ID{"bob": {store.NewID(0), store.NewID(1)}},
		Emails: map[store.ID]store.Versioned{
			store.NewID(0): store.EmailV1{Title: "hello", Content: "first", Timestamp: 100},
			store.NewID(1): store.EmailV1{Title: "again", Content: "second", Timestamp: 200},
		},
		EmailCount: store.NewID(3),
	}
}

func TestUpgradeV1(t *testing.T) {
	old := legacyState()
	got := UpgradeV1(old, "donate.test")

	t.Run("copies shared fields verbatim", func(t *testing.T) {
		if len(got.Accounts) != 2 || got.Accounts["alice"] != old.Accounts["alice"] {
			t.Errorf("accounts not preserved: %+v", got.Accounts)
		}
		if got.EmailCount != store.NewID(3) {
			t.Errorf("expected counter 3, got %s", got.EmailCount)
		}
		if len(got.Senders["alice"]) != 2 || len(got.Receivers["bob"]) != 2 {
			t.Errorf("index membership changed: %v %v", got.Senders, got.Receivers)
		}
		for id, e := range old.Emails {
			if got.Emails[id] != e {
				t.Errorf("email %s changed: %+v", id, got.Emails[id])
			}
			if got.Emails[id].Version() != store.VersionV1 {
				t.Errorf("email %s must keep its stored version", id)
			}
		}
	})

	t.Run("defaults new fields", func(t *testing.T) {
		if !got.DonationCount.IsZero() {
			t.Errorf("expected zero donations, got %s", got.DonationCount)
		}
		if got.DonationAccount != "donate.test" {
			t.Errorf("expected donation account, got %q", got.DonationAccount)
		}
	})

	t.Run("does not alias input", func(t *testing.T) {
		got.Senders["alice"][0] = store.NewID(99)
		got.Accounts["carol"] = store.Account{}
		if old.Senders["alice"][0] != store.NewID(0) {
			t.Error("sender slice aliased")
		}
		if _, ok := old.Accounts["carol"]; ok {
			t.Error("accounts map aliased")
		}
	})

	t.Run("upgraded emails read with zero fee", func(t *testing.T) {
		e := UpgradeV1(legacyState(), "").Emails[store.NewID(1)].Upgrade()
		if e.Title != "again" || e.Content != "second" || e.Timestamp != 200 || !e.Fee.IsZero() {
			t.Errorf("unexpected upgraded email %+v", e)
		}
	})
}

func TestUpgradeV1Nil(t *testing.T) {
	got := UpgradeV1(nil, "d")
	if got == nil || got.Accounts == nil || got.Emails == nil {
		t.Fatal("expected empty, non-nil layout")
	}
	if got.DonationAccount != "d" {
		t.Errorf("expected donation account d, got %q", got.DonationAccount)
	}
}
