package stakemail

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// donate counts one donation and forwards amount to the donation account.
// The donor does not need a staking account: amount is attached to the call.
func donate(ctx context.Context, c *call, amount store.Balance) (*DonateResult, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: donation must be positive", ErrInvalidAmount)
	}
	if c.meta.DonationAccount == "" {
		return nil, ErrNoDonationAccount
	}

	count, ok := store.AddBalance(c.meta.DonationCount, store.NewBalance(1))
	if !ok {
		return nil, fmt.Errorf("%w: donation counter", ErrOverflow)
	}
	c.meta.DonationCount = count
	if err := c.tx.PutMeta(ctx, c.meta); err != nil {
		return nil, fmt.Errorf("put meta: %w", err)
	}

	c.pay(c.meta.DonationAccount, amount, transfer.ReasonDonation)
	return &DonateResult{Count: count}, nil
}

// Donate forwards amount to the donation account.
func (a *accountClient) Donate(ctx context.Context, amount store.Balance) (*DonateResult, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opDonate, attribute.String("account", a.id))
	var res *DonateResult
	c, err := s.update(ctx, opDonate, false, func(ctx context.Context, c *call) error {
		var err error
		res, err = donate(ctx, c, amount)
		return err
	})
	done(err)
	if c == nil {
		return nil, err
	}
	res.Effects = effectsOf(c)
	return res, err
}

// SetDonationAccount changes the account donations are forwarded to.
// Only the owner may call it.
func (a *accountClient) SetDonationAccount(ctx context.Context, account string) error {
	if err := a.checkAccess(); err != nil {
		return err
	}
	if err := a.checkOwner(); err != nil {
		return err
	}
	if err := ValidateAccountID(account); err != nil {
		return err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opSetDonationAccount, attribute.String("donation_account", account))
	_, err := s.update(ctx, opSetDonationAccount, false, func(ctx context.Context, c *call) error {
		c.meta.DonationAccount = account
		if err := c.tx.PutMeta(ctx, c.meta); err != nil {
			return fmt.Errorf("put meta: %w", err)
		}
		return nil
	})
	done(err)
	if err == nil {
		s.logger.Info("donation account changed", "account", account)
	}
	return err
}
