package stakemail

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/stakemail/store"
)

// createMail stores a message under the next id and advances the counter.
// Ids are never reused, even after the message is deleted.
func createMail(ctx context.Context, c *call, title, content string, fee store.Balance) (store.ID, error) {
	id := c.meta.EmailCount
	next, ok := store.AddBalance(id, store.NewID(1))
	if !ok {
		return store.ID{}, fmt.Errorf("%w: email counter", ErrOverflow)
	}

	rec := store.EmailCurrent{Email: store.Email{
		Title:     title,
		Content:   content,
		Timestamp: c.now,
		Fee:       fee,
	}}
	if err := c.tx.PutEmail(ctx, id, rec); err != nil {
		return store.ID{}, fmt.Errorf("put email %s: %w", id, err)
	}

	c.meta.EmailCount = next
	if err := c.tx.PutMeta(ctx, c.meta); err != nil {
		return store.ID{}, fmt.Errorf("put meta: %w", err)
	}
	return id, nil
}

// readMail loads a message and resolves it to the current shape.
// The stored record is left as it is.
func readMail(ctx context.Context, tx store.Tx, id store.ID) (Message, error) {
	v, err := tx.GetEmail(ctx, id)
	if store.IsNotFound(err) {
		return Message{}, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("get email %s: %w", id, err)
	}
	return toMessage(id, v), nil
}

func toMessage(id store.ID, v store.Versioned) Message {
	e := v.Upgrade()
	return Message{
		ID:        id,
		Title:     e.Title,
		Content:   e.Content,
		Timestamp: e.Timestamp,
		Fee:       e.Fee,
		Version:   v.Version(),
	}
}

// mayDelete applies the delete policy to requester.
func (s *service) mayDelete(ctx context.Context, tx store.Tx, id store.ID, requester string) error {
	isSender, err := tx.IndexContains(ctx, store.IndexSender, requester, id)
	if err != nil {
		return fmt.Errorf("check sender index: %w", err)
	}
	switch s.opts.deletePolicy {
	case DeletePolicySenderOnly:
		if !isSender {
			return fmt.Errorf("%w: %s did not send message %s", ErrUnauthorized, requester, id)
		}
	default:
		if isSender {
			return fmt.Errorf("%w: %s may not delete message %s it sent", ErrUnauthorized, requester, id)
		}
	}
	return nil
}

// deleteMail removes a message. With index pruning the id also leaves
// every sender and receiver set; without it the sets keep the stale id.
func (s *service) deleteMail(ctx context.Context, c *call, id store.ID, requester string) error {
	if _, err := c.tx.GetEmail(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("%w: message %s", ErrNotFound, id)
		}
		return fmt.Errorf("get email %s: %w", id, err)
	}
	if err := s.mayDelete(ctx, c.tx, id, requester); err != nil {
		return err
	}

	if err := c.tx.DeleteEmail(ctx, id); err != nil {
		return fmt.Errorf("delete email %s: %w", id, err)
	}
	if s.opts.pruneIndexes {
		if err := c.tx.RemoveFromIndexes(ctx, id); err != nil {
			return fmt.Errorf("prune indexes: %w", err)
		}
	}

	c.afterCommit(func(ctx context.Context) error {
		return publish(ctx, s, s.events.MailDeleted, "MailDeleted", id.String(), MailDeletedEvent{
			MessageID: id.String(),
			Requester: requester,
			DeletedAt: time.Now().UTC(),
		})
	})
	return nil
}

// Delete removes a message, subject to the configured DeletePolicy.
func (a *accountClient) Delete(ctx context.Context, id store.ID) error {
	if err := a.checkAccess(); err != nil {
		return err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opDelete,
		attribute.String("account", a.id),
		attribute.String("message_id", id.String()),
		attribute.String("policy", s.opts.deletePolicy.String()),
	)
	_, err := s.update(ctx, opDelete, false, func(ctx context.Context, c *call) error {
		return s.deleteMail(ctx, c, id, a.id)
	})
	done(err)
	return err
}
