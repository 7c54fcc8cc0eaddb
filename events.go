package stakemail

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for stakemail events.
const (
	EventNameMailSent            = "stakemail.mail.sent"
	EventNameMailDeleted         = "stakemail.mail.deleted"
	EventNameAccountRegistered   = "stakemail.account.registered"
	EventNameAccountUnregistered = "stakemail.account.unregistered"
)

// MailSentEvent is published after a send commits.
// Balances are base-10 strings so they survive JSON transports exactly.
type MailSentEvent struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Title     string    `json:"title"`
	Fee       string    `json:"fee"`
	Timestamp uint64    `json:"timestamp"`
	SentAt    time.Time `json:"sent_at"`
}

// MailDeletedEvent is published after a message is deleted.
type MailDeletedEvent struct {
	MessageID string    `json:"message_id"`
	Requester string    `json:"requester"`
	DeletedAt time.Time `json:"deleted_at"`
}

// AccountRegisteredEvent is published when a first deposit registers an account.
type AccountRegisteredEvent struct {
	Account      string    `json:"account"`
	Deposited    string    `json:"deposited"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AccountUnregisteredEvent is published when an account is removed and refunded.
type AccountUnregisteredEvent struct {
	Account        string    `json:"account"`
	Refunded       string    `json:"refunded"`
	UnregisteredAt time.Time `json:"unregistered_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus.
//
// Subscribe to events:
//
//	svc.Events().MailSent.Subscribe(ctx, handler)
type ServiceEvents struct {
	MailSent            event.Event[MailSentEvent]
	MailDeleted         event.Event[MailDeletedEvent]
	AccountRegistered   event.Event[AccountRegisteredEvent]
	AccountUnregistered event.Event[AccountUnregisteredEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MailSent:            event.New[MailSentEvent](namePrefix + "." + EventNameMailSent),
		MailDeleted:         event.New[MailDeletedEvent](namePrefix + "." + EventNameMailDeleted),
		AccountRegistered:   event.New[AccountRegisteredEvent](namePrefix + "." + EventNameAccountRegistered),
		AccountUnregistered: event.New[AccountUnregisteredEvent](namePrefix + "." + EventNameAccountUnregistered),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MailSent); err != nil {
		return fmt.Errorf("register MailSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailDeleted); err != nil {
		return fmt.Errorf("register MailDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.AccountRegistered); err != nil {
		return fmt.Errorf("register AccountRegistered: %w", err)
	}
	if err := event.Register(ctx, bus, events.AccountUnregistered); err != nil {
		return fmt.Errorf("register AccountUnregistered: %w", err)
	}
	return nil
}

// publish sends data on ev after an operation has committed.
// A failure is returned as an EventPublishError when event errors are
// fatal, otherwise it goes to the failure handler and nil is returned.
func publish[T any](ctx context.Context, s *service, ev event.Event[T], name, subject string, data T) error {
	if err := ev.Publish(ctx, data); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: name, Subject: subject, Err: err}
		}
		s.opts.safeEventPublishFailure(name, err)
	}
	return nil
}
