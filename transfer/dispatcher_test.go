package transfer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/stakemail/retry"
	"github.com/rbaliyan/stakemail/store"
)

var errUnavailable = errors.New("bank unavailable")

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("credits every transfer", func(t *testing.T) {
		bank := NewMemoryBank()
		d := NewDispatcher(bank)
		errs := d.Dispatch(ctx, []Transfer{
			New("bob", store.NewBalance(5), ReasonMailFee),
			New("bob", store.NewBalance(7), ReasonMailFee),
			New("alice", store.NewBalance(1), ReasonWithdraw),
		})
		if errs != nil {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if got := bank.Balance("bob"); got != store.NewBalance(12) {
			t.Errorf("expected bob 12, got %s", got)
		}
		if got := bank.Balance("alice"); got != store.NewBalance(1) {
			t.Errorf("expected alice 1, got %s", got)
		}
	})

	t.Run("never issues a transfer twice", func(t *testing.T) {
		var calls int32
		bank := BankFunc(func(context.Context, Transfer) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		d := NewDispatcher(bank)
		tr := New("bob", store.NewBalance(5), ReasonMailFee)

		if errs := d.Dispatch(ctx, []Transfer{tr}); errs != nil {
			t.Fatalf("unexpected errors: %v", errs)
		}
		errs := d.Dispatch(ctx, []Transfer{tr})
		if len(errs) != 1 || !errors.Is(errs[0], ErrAlreadyDispatched) {
			t.Errorf("expected ErrAlreadyDispatched, got %v", errs)
		}
		if calls != 1 {
			t.Errorf("expected 1 bank call, got %d", calls)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		bank := NewMemoryBank()
		var failures int32
		bank.FailWith(func(Transfer) error {
			if atomic.AddInt32(&failures, 1) <= 2 {
				return errUnavailable
			}
			return nil
		})
		d := NewDispatcher(bank, WithRetry(fastRetry()))
		if errs := d.Dispatch(ctx, []Transfer{New("bob", store.NewBalance(3), ReasonMailFee)}); errs != nil {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if got := bank.Balance("bob"); got != store.NewBalance(3) {
			t.Errorf("expected bob 3, got %s", got)
		}
	})

	t.Run("reports failures and continues", func(t *testing.T) {
		bank := NewMemoryBank()
		bank.FailWith(func(tr Transfer) error {
			if tr.To == "mallory" {
				return ErrRejected
			}
			return nil
		})
		var reported []*DispatchError
		d := NewDispatcher(bank,
			WithRetry(fastRetry()),
			WithErrorHandler(func(_ context.Context, err *DispatchError) {
				reported = append(reported, err)
			}),
		)

		errs := d.Dispatch(ctx, []Transfer{
			New("mallory", store.NewBalance(1), ReasonMailFee),
			New("bob", store.NewBalance(2), ReasonMailFee),
		})
		if len(errs) != 1 || !errors.Is(errs[0], ErrRejected) {
			t.Fatalf("expected one rejected transfer, got %v", errs)
		}
		var de *DispatchError
		if !errors.As(errs[0], &de) || de.Transfer.To != "mallory" {
			t.Errorf("expected DispatchError for mallory, got %v", errs[0])
		}
		if len(reported) != 1 {
			t.Errorf("expected handler called once, got %d", len(reported))
		}
		if got := bank.Balance("bob"); got != store.NewBalance(2) {
			t.Errorf("expected bob credited, got %s", got)
		}
	})

	t.Run("skips zero amounts", func(t *testing.T) {
		var calls int32
		bank := BankFunc(func(context.Context, Transfer) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		d := NewDispatcher(bank)
		if errs := d.Dispatch(ctx, []Transfer{New("bob", store.ZeroBalance, ReasonWithdraw)}); errs != nil {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if calls != 0 {
			t.Errorf("expected no bank call, got %d", calls)
		}
	})
}

func TestMemoryBankIdempotent(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()
	tr := New("bob", store.NewBalance(4), ReasonDonation)
	for i := 0; i < 3; i++ {
		if err := bank.Transfer(ctx, tr); err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
	}
	if got := bank.Balance("bob"); got != store.NewBalance(4) {
		t.Errorf("expected 4, got %s", got)
	}
	if len(bank.History()) != 1 {
		t.Errorf("expected 1 applied transfer, got %d", len(bank.History()))
	}
}

func TestRedisJournal(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	j := NewRedisJournal(client, WithJournalPrefix("test:"), WithJournalTTL(time.Hour))
	tr := New("bob", store.NewBalance(1), ReasonMailFee)

	ok, err := j.Claim(ctx, tr.ID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}
	ok, err = j.Claim(ctx, tr.ID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if ok {
		t.Error("expected second claim to fail")
	}

	if !mr.Exists("test:" + tr.ID.String()) {
		t.Error("expected claim key in redis")
	}
	if ttl := mr.TTL("test:" + tr.ID.String()); ttl != time.Hour {
		t.Errorf("expected 1h TTL, got %v", ttl)
	}

	t.Run("shared between dispatchers", func(t *testing.T) {
		bank := NewMemoryBank()
		a := NewDispatcher(bank, WithJournal(j))
		b := NewDispatcher(bank, WithJournal(NewRedisJournal(client, WithJournalPrefix("test:"))))
		tr := New("carol", store.NewBalance(9), ReasonMailFee)

		if errs := a.Dispatch(ctx, []Transfer{tr}); errs != nil {
			t.Fatalf("unexpected errors: %v", errs)
		}
		errs := b.Dispatch(ctx, []Transfer{tr})
		if len(errs) != 1 || !errors.Is(errs[0], ErrAlreadyDispatched) {
			t.Errorf("expected ErrAlreadyDispatched, got %v", errs)
		}
	})
}
