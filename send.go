package stakemail

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// send runs the ledger and index steps of a send inside the transaction.
// Every check happens before the first write.
func (s *service) send(ctx context.Context, c *call, sender string, req SendRequest) (*SendResult, error) {
	// Step 1: the sender must hold a staking account
	acct, registered, err := getAccount(ctx, c.tx, sender)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrNotRegistered
	}

	// Step 2: the sender must be able to pay for one more message
	ok, err := s.canAffordOneMoreMail(ctx, c, sender, acct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientStorageBalance
	}

	// Step 3: charge the storage
	cost, err := s.mailCost(c.byteCost)
	if err != nil {
		return nil, err
	}
	consumed, ok := store.AddBalance(acct.Consumed, cost)
	if !ok {
		return nil, fmt.Errorf("%w: consumed balance", ErrOverflow)
	}
	acct.Consumed = consumed
	if err := c.tx.PutAccount(ctx, sender, acct); err != nil {
		return nil, fmt.Errorf("put account: %w", err)
	}

	// Step 4: store the message
	id, err := createMail(ctx, c, req.Title, req.Content, req.Fee)
	if err != nil {
		return nil, err
	}

	// Step 5: index it under both parties
	if err := recordMail(ctx, c.tx, sender, req.Receiver, id); err != nil {
		return nil, err
	}

	// Step 6: forward the fee once committed
	c.pay(req.Receiver, req.Fee, transfer.ReasonMailFee)

	msg := Message{
		ID:        id,
		Title:     req.Title,
		Content:   req.Content,
		Timestamp: c.now,
		Fee:       req.Fee,
		Version:   store.VersionCurrent,
	}
	c.afterCommit(func(ctx context.Context) error {
		return publish(ctx, s, s.events.MailSent, "MailSent", id.String(), MailSentEvent{
			MessageID: id.String(),
			Sender:    sender,
			Receiver:  req.Receiver,
			Title:     req.Title,
			Fee:       req.Fee.String(),
			Timestamp: c.now,
			SentAt:    time.Now().UTC(),
		})
	})
	return &SendResult{Message: msg, Balance: balanceOf(acct)}, nil
}

// Send stores a message from the caller and forwards req.Fee to the receiver.
//
// The ledger charge, the message and both index entries commit together or
// not at all. The fee transfer is issued after the commit and is not undone
// if it fails.
func (a *accountClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}

	s := a.service
	if err := ValidateAccountID(req.Receiver); err != nil {
		return nil, err
	}
	if err := ValidateMessage(req.Title, req.Content, s.opts.getLimits()); err != nil {
		return nil, err
	}

	ctx, done := s.otel.startOp(ctx, opSend,
		attribute.String("account", a.id),
		attribute.String("receiver", req.Receiver),
		attribute.Bool("paid", !req.Fee.IsZero()),
	)
	var sendErr error
	defer func() { done(sendErr) }()

	if err := s.plugins.beforeSend(ctx, a.id, req); err != nil {
		sendErr = err
		return nil, sendErr
	}

	var res *SendResult
	c, err := s.update(ctx, opSend, false, func(ctx context.Context, c *call) error {
		var err error
		res, err = s.send(ctx, c, a.id, req)
		return err
	})
	if c == nil {
		sendErr = err
		return nil, sendErr
	}
	res.Effects = effectsOf(c)
	sendErr = err

	if hookErr := s.plugins.afterSend(ctx, a.id, res.Message); hookErr != nil {
		s.logger.Warn("after send hook failed", "account", a.id, "message_id", res.Message.ID.String(), "error", hookErr)
	}
	return res, sendErr
}
