package stakemail

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/stakemail/transfer"
)

func TestDonate(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, WithOwner("admin"))

	t.Run("requires a donation account", func(t *testing.T) {
		if _, err := env.svc.Account("alice").Donate(ctx, bal(5)); !errors.Is(err, ErrNoDonationAccount) {
			t.Errorf("expected ErrNoDonationAccount, got %v", err)
		}
	})

	t.Run("only the owner sets the account", func(t *testing.T) {
		if err := env.svc.Account("alice").SetDonationAccount(ctx, "charity"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if err := env.svc.Account("admin").SetDonationAccount(ctx, "bad id"); !errors.Is(err, ErrInvalidAccountID) {
			t.Errorf("expected ErrInvalidAccountID, got %v", err)
		}
		if err := env.svc.Account("admin").SetDonationAccount(ctx, "charity"); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	})

	t.Run("rejects zero", func(t *testing.T) {
		if _, err := env.svc.Account("alice").Donate(ctx, bal(0)); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("counts and forwards", func(t *testing.T) {
		// The donor needs no staking account.
		res, err := env.svc.Account("alice").Donate(ctx, bal(50))
		if err != nil {
			t.Fatalf("donate failed: %v", err)
		}
		if res.Count != bal(1) {
			t.Errorf("expected count 1, got %s", res.Count)
		}
		if len(res.Transfers) != 1 || res.Transfers[0].Reason != transfer.ReasonDonation {
			t.Errorf("expected a donation transfer, got %v", res.Transfers)
		}
		if _, err := env.svc.Account("bob").Donate(ctx, bal(25)); err != nil {
			t.Fatalf("donate failed: %v", err)
		}

		if got := env.bank.Balance("charity"); got != bal(75) {
			t.Errorf("expected 75 donated, got %s", got)
		}
		info, err := env.svc.Donations(ctx)
		if err != nil {
			t.Fatalf("donations failed: %v", err)
		}
		if info.Count != bal(2) || info.Account != "charity" {
			t.Errorf("unexpected donation state %+v", info)
		}
	})
}
