package stakemail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/event/v3/transport/channel"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

func TestSend(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	env.host.SetClock(func() uint64 { return 42 })
	env.register(t, "alice", 1020)

	t.Run("charges storage and forwards the fee", func(t *testing.T) {
		res, err := env.svc.Account("alice").Send(ctx, SendRequest{
			Receiver: "bob",
			Title:    "Hello",
			Content:  "World",
			Fee:      bal(500),
		})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if res.Message.ID != store.NewID(0) {
			t.Errorf("expected id 0, got %s", res.Message.ID)
		}
		if res.Message.Timestamp != 42 {
			t.Errorf("expected host timestamp, got %d", res.Message.Timestamp)
		}
		if res.Balance.Available != bal(990) {
			t.Errorf("expected 990 available, got %s", res.Balance.Available)
		}
		if len(res.Transfers) != 1 || res.Transfers[0].Reason != transfer.ReasonMailFee {
			t.Fatalf("expected the fee transfer, got %v", res.Transfers)
		}
		if got := env.bank.Balance("bob"); got != bal(500) {
			t.Errorf("expected bob paid 500, got %s", got)
		}
	})

	t.Run("indexes both parties", func(t *testing.T) {
		if n, _ := env.svc.SentCount(ctx, "alice"); n != 1 {
			t.Errorf("expected 1 sent, got %d", n)
		}
		if n, _ := env.svc.ReceivedCount(ctx, "bob"); n != 1 {
			t.Errorf("expected 1 received, got %d", n)
		}
		msg, err := env.svc.GetMessage(ctx, store.NewID(0))
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if msg.Title != "Hello" || msg.Content != "World" || msg.Fee != bal(500) {
			t.Errorf("unexpected message %+v", msg)
		}
		if msg.Version != store.VersionCurrent {
			t.Errorf("expected current version, got %s", msg.Version)
		}
		msgs, err := env.svc.ListReceived(ctx, "bob")
		if err != nil || len(msgs) != 1 || msgs[0].Title != "Hello" {
			t.Errorf("unexpected listing %+v, %v", msgs, err)
		}
	})

	t.Run("ids increase", func(t *testing.T) {
		res, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "carol"})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if res.Message.ID != store.NewID(1) {
			t.Errorf("expected id 1, got %s", res.Message.ID)
		}
		if len(res.Transfers) != 0 {
			t.Errorf("zero fee should not transfer, got %v", res.Transfers)
		}
	})
}

func TestSendRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered sender changes nothing", func(t *testing.T) {
		env := setupTestService(t)
		_, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Fee: bal(5)})
		if !errors.Is(err, ErrNotRegistered) {
			t.Fatalf("expected ErrNotRegistered, got %v", err)
		}
		if n, _ := env.svc.TotalLive(ctx); n != 0 {
			t.Errorf("expected no messages, got %d", n)
		}
		if !env.bank.Balance("bob").IsZero() {
			t.Error("fee should not be paid")
		}

		env.register(t, "alice", 1020)
		res, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob"})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if res.Message.ID != store.NewID(0) {
			t.Errorf("counter advanced by a rejected send: %s", res.Message.ID)
		}
	})

	t.Run("available must exceed the cost of every sent message plus one", func(t *testing.T) {
		env := setupTestService(t)
		env.register(t, "alice", 30) // available 10, one message costs 10
		if _, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob"}); !errors.Is(err, ErrInsufficientStorageBalance) {
			t.Fatalf("expected ErrInsufficientStorageBalance, got %v", err)
		}

		env.register(t, "bob", 51) // available 31
		for i := 0; i < 2; i++ {
			if _, err := env.svc.Account("bob").Send(ctx, SendRequest{Receiver: "alice"}); err != nil {
				t.Fatalf("send %d failed: %v", i, err)
			}
		}
		// 11 left, two sent: needs more than 30.
		if _, err := env.svc.Account("bob").Send(ctx, SendRequest{Receiver: "alice"}); !errors.Is(err, ErrInsufficientStorageBalance) {
			t.Errorf("expected ErrInsufficientStorageBalance, got %v", err)
		}
		if got := env.available(t, "bob"); got != bal(11) {
			t.Errorf("expected 11 available, got %s", got)
		}
	})

	t.Run("validation", func(t *testing.T) {
		env := setupTestService(t, WithMaxTitleLength(5), WithMaxContentSize(8))
		env.register(t, "alice", 1020)
		cases := []struct {
			name string
			req  SendRequest
			want error
		}{
			{"bad receiver", SendRequest{Receiver: "a/b"}, ErrInvalidAccountID},
			{"long title", SendRequest{Receiver: "bob", Title: "toolong"}, ErrTitleTooLong},
			{"large content", SendRequest{Receiver: "bob", Content: strings.Repeat("x", 9)}, ErrContentTooLarge},
			{"nul content", SendRequest{Receiver: "bob", Content: "a\x00b"}, ErrInvalidContent},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := env.svc.Account("alice").Send(ctx, tc.req); !errors.Is(err, tc.want) {
					t.Errorf("expected %v, got %v", tc.want, err)
				}
			})
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	send := func(t *testing.T, env *testEnv) store.ID {
		t.Helper()
		res, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Title: "x"})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		return res.Message.ID
	}

	t.Run("missing message", func(t *testing.T) {
		env := setupTestService(t)
		if err := env.svc.Account("bob").Delete(ctx, store.NewID(7)); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("legacy policy rejects the sender", func(t *testing.T) {
		env := setupTestService(t)
		env.register(t, "alice", 1020)
		id := send(t, env)

		if err := env.svc.Account("alice").Delete(ctx, id); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if err := env.svc.Account("carol").Delete(ctx, id); err != nil {
			t.Errorf("non-sender delete failed: %v", err)
		}
		if _, err := env.svc.GetMessage(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := env.svc.Account("bob").Delete(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("sender only policy", func(t *testing.T) {
		env := setupTestService(t, WithDeletePolicy(DeletePolicySenderOnly))
		env.register(t, "alice", 1020)
		id := send(t, env)

		if err := env.svc.Account("bob").Delete(ctx, id); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if err := env.svc.Account("alice").Delete(ctx, id); err != nil {
			t.Errorf("sender delete failed: %v", err)
		}
	})

	t.Run("pruning keeps counts accurate", func(t *testing.T) {
		env := setupTestService(t)
		env.register(t, "alice", 1020)
		id := send(t, env)
		send(t, env)

		if err := env.svc.Account("bob").Delete(ctx, id); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if n, _ := env.svc.SentCount(ctx, "alice"); n != 1 {
			t.Errorf("expected 1 sent, got %d", n)
		}
		if n, _ := env.svc.ReceivedCount(ctx, "bob"); n != 1 {
			t.Errorf("expected 1 received, got %d", n)
		}
		if n, _ := env.svc.TotalLive(ctx); n != 1 {
			t.Errorf("expected 1 live, got %d", n)
		}
		if d, _ := env.svc.DeletedCount(ctx); d != store.NewID(1) {
			t.Errorf("expected 1 deleted, got %s", d)
		}
	})

	t.Run("without pruning indexes keep stale ids", func(t *testing.T) {
		env := setupTestService(t, WithIndexPruning(false))
		env.register(t, "alice", 1020)
		id := send(t, env)

		if err := env.svc.Account("bob").Delete(ctx, id); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if n, _ := env.svc.SentCount(ctx, "alice"); n != 1 {
			t.Errorf("expected stale id counted, got %d", n)
		}
		msgs, err := env.svc.ListSent(ctx, "alice")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("listing should skip stale ids, got %+v", msgs)
		}
		if d, _ := env.svc.DeletedCount(ctx); d != store.NewID(1) {
			t.Errorf("expected 1 deleted, got %s", d)
		}
	})
}

func TestEventTransport(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, WithEventTransport(channel.New()))
	env.register(t, "alice", 1020)

	res, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Title: "evt"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := env.svc.Account("bob").Delete(ctx, res.Message.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := env.svc.Account("alice").Unregister(ctx); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
}
