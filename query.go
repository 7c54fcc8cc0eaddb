package stakemail

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"lukechampine.com/uint128"

	"github.com/rbaliyan/stakemail/store"
)

// GetMessage returns a message, upgraded to the current shape.
// Works on either layout.
func (s *service) GetMessage(ctx context.Context, id store.ID) (Message, error) {
	ctx, done := s.otel.startRead(ctx, opGet, attribute.String("message_id", id.String()))
	var msg Message
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		msg, err = readMail(ctx, tx, id)
		return err
	})
	done(err)
	return msg, err
}

// ListSent returns the messages in the account's sender index.
func (s *service) ListSent(ctx context.Context, account string) ([]Message, error) {
	return s.list(ctx, store.IndexSender, account)
}

// ListReceived returns the messages in the account's receiver index.
func (s *service) ListReceived(ctx context.Context, account string) ([]Message, error) {
	return s.list(ctx, store.IndexReceiver, account)
}

func (s *service) list(ctx context.Context, kind store.IndexKind, account string) ([]Message, error) {
	ctx, done := s.otel.startRead(ctx, opList,
		attribute.String("account", account),
		attribute.String("index", string(kind)),
	)
	var msgs []Message
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		msgs, err = s.listIndexed(ctx, tx, kind, account)
		return err
	})
	done(err)
	return msgs, err
}

// SentCount returns the size of the account's sender index.
func (s *service) SentCount(ctx context.Context, account string) (uint64, error) {
	return s.indexSize(ctx, store.IndexSender, account)
}

// ReceivedCount returns the size of the account's receiver index.
func (s *service) ReceivedCount(ctx context.Context, account string) (uint64, error) {
	return s.indexSize(ctx, store.IndexReceiver, account)
}

func (s *service) indexSize(ctx context.Context, kind store.IndexKind, account string) (uint64, error) {
	var n uint64
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.IndexSize(ctx, kind, account)
		return err
	})
	return n, err
}

// TotalLive returns the number of stored messages.
func (s *service) TotalLive(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.CountEmails(ctx)
		return err
	})
	return n, err
}

// DeletedCount returns the number of ids allocated minus the number of
// stored messages.
func (s *service) DeletedCount(ctx context.Context) (uint128.Uint128, error) {
	var deleted uint128.Uint128
	err := s.view(ctx, func(tx store.Tx) error {
		meta, err := tx.GetMeta(ctx)
		if err != nil {
			return fmt.Errorf("read meta: %w", err)
		}
		live, err := tx.CountEmails(ctx)
		if err != nil {
			return fmt.Errorf("count emails: %w", err)
		}
		if l := uint128.From64(live); meta.EmailCount.Cmp(l) > 0 {
			deleted = meta.EmailCount.Sub(l)
		}
		return nil
	})
	return deleted, err
}

// Available returns deposited minus consumed, and false if the account is
// not registered.
func (s *service) Available(ctx context.Context, account string) (store.Balance, bool, error) {
	b, err := s.StorageBalanceOf(ctx, account)
	if err != nil || b == nil {
		return store.ZeroBalance, false, err
	}
	return b.Available, true, nil
}

// StorageBalanceOf returns the account's balance, or nil if the account is
// not registered.
func (s *service) StorageBalanceOf(ctx context.Context, account string) (*StorageBalance, error) {
	var out *StorageBalance
	err := s.view(ctx, func(tx store.Tx) error {
		acct, registered, err := getAccount(ctx, tx, account)
		if err != nil || !registered {
			return err
		}
		b := balanceOf(acct)
		out = &b
		return nil
	})
	return out, err
}

// StorageBalanceBounds returns the deposit bounds at the current byte cost.
// A first deposit must be strictly greater than Min.
func (s *service) StorageBalanceBounds(ctx context.Context) (StorageBalanceBounds, error) {
	if !s.IsConnected() {
		return StorageBalanceBounds{}, ErrNotConnected
	}
	cost, err := s.host.StorageByteCost(ctx)
	if err != nil {
		return StorageBalanceBounds{}, fmt.Errorf("read storage byte cost: %w", err)
	}
	minimum, err := s.minDeposit(cost)
	if err != nil {
		return StorageBalanceBounds{}, err
	}
	return StorageBalanceBounds{Min: minimum}, nil
}

// Donations returns the donation counter and account. Both are zero while
// the store holds the previous layout.
func (s *service) Donations(ctx context.Context) (*DonationInfo, error) {
	var info *DonationInfo
	err := s.view(ctx, func(tx store.Tx) error {
		meta, err := tx.GetMeta(ctx)
		if err != nil {
			return fmt.Errorf("read meta: %w", err)
		}
		info = &DonationInfo{
			Count:   meta.DonationCount,
			Account: meta.DonationAccount,
			Layout:  meta.Layout,
		}
		return nil
	})
	return info, err
}

// Layout returns the persisted layout version.
func (s *service) Layout(ctx context.Context) (store.LayoutVersion, error) {
	var layout store.LayoutVersion
	err := s.view(ctx, func(tx store.Tx) error {
		meta, err := tx.GetMeta(ctx)
		if err != nil {
			return fmt.Errorf("read meta: %w", err)
		}
		layout = meta.Layout
		return nil
	})
	return layout, err
}
