package stakemail

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// minDeposit is the storage cost of one account record.
func (s *service) minDeposit(byteCost store.Balance) (store.Balance, error) {
	m, ok := store.MulBalance(byteCost, s.opts.accountStorageBytes)
	if !ok {
		return store.ZeroBalance, fmt.Errorf("%w: minimum deposit", ErrOverflow)
	}
	return m, nil
}

// mailCost is the storage cost of one message.
func (s *service) mailCost(byteCost store.Balance) (store.Balance, error) {
	m, ok := store.MulBalance(byteCost, s.opts.mailStorageBytes)
	if !ok {
		return store.ZeroBalance, fmt.Errorf("%w: mail cost", ErrOverflow)
	}
	return m, nil
}

// getAccount returns the account and whether it is registered.
func getAccount(ctx context.Context, tx store.Tx, id string) (store.Account, bool, error) {
	a, err := tx.GetAccount(ctx, id)
	if store.IsNotFound(err) {
		return store.Account{}, false, nil
	}
	if err != nil {
		return store.Account{}, false, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, true, nil
}

func balanceOf(a store.Account) StorageBalance {
	return StorageBalance{Total: a.Deposited, Available: a.Available()}
}

// deposit credits amount to beneficiary. Refunds go to caller.
func (s *service) deposit(ctx context.Context, c *call, caller, beneficiary string, amount store.Balance, registrationOnly bool) (*DepositResult, error) {
	acct, registered, err := getAccount(ctx, c.tx, beneficiary)
	if err != nil {
		return nil, err
	}

	if registered {
		total, ok := store.AddBalance(acct.Deposited, amount)
		if !ok {
			return nil, fmt.Errorf("%w: deposit for %s", ErrOverflow, beneficiary)
		}
		acct.Deposited = total
		if err := c.tx.PutAccount(ctx, beneficiary, acct); err != nil {
			return nil, fmt.Errorf("put account: %w", err)
		}
		return &DepositResult{Account: beneficiary, Balance: balanceOf(acct)}, nil
	}

	minimum, err := s.minDeposit(c.byteCost)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(minimum) <= 0 {
		return nil, fmt.Errorf("%w: %s must exceed %s", ErrInsufficientDeposit, amount, minimum)
	}

	if registrationOnly {
		c.pay(caller, amount.Sub(minimum), transfer.ReasonRegistrationRefund)
		acct = store.Account{Deposited: minimum, Consumed: minimum}
	} else {
		acct = store.Account{Deposited: amount, Consumed: minimum}
	}
	if err := c.tx.PutAccount(ctx, beneficiary, acct); err != nil {
		return nil, fmt.Errorf("put account: %w", err)
	}

	c.afterCommit(func(ctx context.Context) error {
		return publish(ctx, s, s.events.AccountRegistered, "AccountRegistered", beneficiary, AccountRegisteredEvent{
			Account:      beneficiary,
			Deposited:    acct.Deposited.String(),
			RegisteredAt: time.Now().UTC(),
		})
	})
	return &DepositResult{Account: beneficiary, Balance: balanceOf(acct), Registered: true}, nil
}

// withdraw moves amount of the caller's available balance back to the caller.
func (s *service) withdraw(ctx context.Context, c *call, caller string, amount store.Balance) (*WithdrawResult, error) {
	acct, registered, err := getAccount(ctx, c.tx, caller)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrNotRegistered
	}
	if acct.Available().Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s requested, %s available", ErrInsufficientAvailable, amount, acct.Available())
	}

	acct.Deposited = acct.Deposited.Sub(amount)
	if err := c.tx.PutAccount(ctx, caller, acct); err != nil {
		return nil, fmt.Errorf("put account: %w", err)
	}
	c.pay(caller, amount, transfer.ReasonWithdraw)
	return &WithdrawResult{Balance: balanceOf(acct)}, nil
}

// unregister removes the caller's account and refunds its whole deposit.
// Messages and index entries are kept.
func (s *service) unregister(ctx context.Context, c *call, caller string) (*UnregisterResult, error) {
	acct, registered, err := getAccount(ctx, c.tx, caller)
	if err != nil {
		return nil, err
	}
	if !registered {
		return &UnregisterResult{}, nil
	}

	if err := c.tx.DeleteAccount(ctx, caller); err != nil {
		return nil, fmt.Errorf("delete account: %w", err)
	}
	c.pay(caller, acct.Deposited, transfer.ReasonUnregister)

	c.afterCommit(func(ctx context.Context) error {
		return publish(ctx, s, s.events.AccountUnregistered, "AccountUnregistered", caller, AccountUnregisteredEvent{
			Account:        caller,
			Refunded:       acct.Deposited.String(),
			UnregisteredAt: time.Now().UTC(),
		})
	})
	return &UnregisterResult{Removed: true, Refunded: acct.Deposited}, nil
}

// canAffordOneMoreMail reports whether the account's available balance is
// strictly greater than the storage cost of every message in its sender
// index plus one.
func (s *service) canAffordOneMoreMail(ctx context.Context, c *call, account string, acct store.Account) (bool, error) {
	sent, err := c.tx.IndexSize(ctx, store.IndexSender, account)
	if err != nil {
		return false, fmt.Errorf("sender index size: %w", err)
	}
	per, err := s.mailCost(c.byteCost)
	if err != nil {
		return false, err
	}
	need, ok := store.MulBalance(per, sent+1)
	if !ok {
		// More than any 128-bit balance can cover.
		return false, nil
	}
	return acct.Available().Cmp(need) > 0, nil
}

// --- Client operations ---

func (a *accountClient) Deposit(ctx context.Context, amount store.Balance, registrationOnly bool) (*DepositResult, error) {
	return a.DepositFor(ctx, a.id, amount, registrationOnly)
}

func (a *accountClient) DepositFor(ctx context.Context, beneficiary string, amount store.Balance, registrationOnly bool) (*DepositResult, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}
	if err := ValidateAccountID(beneficiary); err != nil {
		return nil, err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opDeposit,
		attribute.String("account", a.id),
		attribute.String("beneficiary", beneficiary),
		attribute.Bool("registration_only", registrationOnly),
	)
	var res *DepositResult
	c, err := s.update(ctx, opDeposit, false, func(ctx context.Context, c *call) error {
		var err error
		res, err = s.deposit(ctx, c, a.id, beneficiary, amount, registrationOnly)
		return err
	})
	done(err)
	if c == nil {
		return nil, err
	}
	res.Effects = effectsOf(c)
	if res.Registered {
		s.logger.Info("account registered", "account", beneficiary, "deposited", res.Balance.Total.String())
	}
	return res, err
}

func (a *accountClient) Withdraw(ctx context.Context, amount store.Balance) (*WithdrawResult, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opWithdraw, attribute.String("account", a.id))
	var res *WithdrawResult
	c, err := s.update(ctx, opWithdraw, false, func(ctx context.Context, c *call) error {
		var err error
		res, err = s.withdraw(ctx, c, a.id, amount)
		return err
	})
	done(err)
	if c == nil {
		return nil, err
	}
	res.Effects = effectsOf(c)
	return res, err
}

func (a *accountClient) Unregister(ctx context.Context) (*UnregisterResult, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opUnregister, attribute.String("account", a.id))
	var res *UnregisterResult
	c, err := s.update(ctx, opUnregister, false, func(ctx context.Context, c *call) error {
		var err error
		res, err = s.unregister(ctx, c, a.id)
		return err
	})
	done(err)
	if c == nil {
		return nil, err
	}
	res.Effects = effectsOf(c)
	if res.Removed {
		s.logger.Info("account unregistered", "account", a.id, "refunded", res.Refunded.String())
	}
	return res, err
}
