// Package migrate converts a legacy persisted layout into the current one.
//
// Migration moves data; it never interprets it. Accounts, index sets,
// emails and the id counter are copied as they are, and fields that the
// legacy layout did not have are given their defaults. Emails keep the
// version tag they were written with; they are upgraded on read.
package migrate

import (
	"github.com/rbaliyan/stakemail/store"
)

// UpgradeV1 returns the current layout for old. The donation counter
// starts at zero and donations go to donationAccount.
//
// UpgradeV1 is pure: old is not modified and the result shares no maps or
// slices with it. Applying the result overwrites every field of the
// current layout, so running a migration a second time discards donation
// state recorded since the first one.
func UpgradeV1(old *store.LayoutStateV1, donationAccount string) *store.LayoutState {
	if old == nil {
		old = &store.LayoutStateV1{}
	}
	return &store.LayoutState{
		LayoutStateV1: store.LayoutStateV1{
			Accounts:   copyAccounts(old.Accounts),
			Senders:    copyIndex(old.Senders),
			Receivers:  copyIndex(old.Receivers),
			Emails:     copyEmails(old.Emails),
			EmailCount: old.EmailCount,
		},
		DonationCount:   store.ZeroBalance,
		DonationAccount: donationAccount,
	}
}

func copyAccounts(in map[string]store.Account) map[string]store.Account {
	out := make(map[string]store.Account, len(in))
	for id, a := range in {
		out[id] = a
	}
	return out
}

func copyIndex(in map[string][]store.ID) map[string][]store.ID {
	out := make(map[string][]store.ID, len(in))
	for account, ids := range in {
		out[account] = append([]store.ID(nil), ids...)
	}
	return out
}

func copyEmails(in map[store.ID]store.Versioned) map[store.ID]store.Versioned {
	out := make(map[store.ID]store.Versioned, len(in))
	for id, e := range in {
		out[id] = e
	}
	return out
}
