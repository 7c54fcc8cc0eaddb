package stakemail

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/store/memory"
	"github.com/rbaliyan/stakemail/transfer"
)

// testEnv bundles a connected service with the fakes behind it.
// The byte cost is 1, so the minimum deposit is 20 and a message costs 10.
type testEnv struct {
	svc  Service
	bank *transfer.MemoryBank
	host *StaticHost
}

func setupTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return setupTestServiceWithStore(t, memory.New(), opts...)
}

func setupTestServiceWithStore(t *testing.T, st store.Store, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		bank: transfer.NewMemoryBank(),
		host: NewStaticHost(store.NewBalance(1)),
	}
	base := []Option{WithStore(st), WithHost(env.host), WithBank(env.bank)}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	env.svc = svc
	return env
}

func bal(v uint64) store.Balance {
	return store.NewBalance(v)
}

// register deposits amount for id and fails the test on error.
func (e *testEnv) register(t *testing.T, id string, amount uint64) {
	t.Helper()
	if _, err := e.svc.Account(id).Deposit(context.Background(), bal(amount), false); err != nil {
		t.Fatalf("deposit for %s failed: %v", id, err)
	}
}

func (e *testEnv) available(t *testing.T, id string) store.Balance {
	t.Helper()
	b, ok, err := e.svc.Available(context.Background(), id)
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if !ok {
		t.Fatalf("%s is not registered", id)
	}
	return b
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService(WithHost(NewStaticHost(bal(1))))
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("requires host", func(t *testing.T) {
		_, err := NewService(WithStore(memory.New()))
		if !errors.Is(err, ErrHostRequired) {
			t.Errorf("expected ErrHostRequired, got %v", err)
		}
	})

	t.Run("creates service", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()), WithHost(NewStaticHost(bal(1))))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(WithStore(memory.New()), WithHost(NewStaticHost(bal(1))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("operations fail before connect", func(t *testing.T) {
		if _, err := svc.Account("alice").Deposit(ctx, bal(100), false); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.TotalLive(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("connect and close", func(t *testing.T) {
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected service to be connected")
		}
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
		if svc.Events() == nil {
			t.Error("expected events after connect")
		}
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should not error, got %v", err)
		}
	})
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("first deposit must exceed the minimum", func(t *testing.T) {
		env := setupTestService(t)
		for _, amount := range []uint64{0, 1, 20} {
			_, err := env.svc.Account("alice").Deposit(ctx, bal(amount), false)
			if !errors.Is(err, ErrInsufficientDeposit) {
				t.Errorf("deposit %d: expected ErrInsufficientDeposit, got %v", amount, err)
			}
		}
		if b, err := env.svc.StorageBalanceOf(ctx, "alice"); err != nil || b != nil {
			t.Errorf("expected no balance, got %+v, %v", b, err)
		}
	})

	t.Run("registers and charges the account record", func(t *testing.T) {
		env := setupTestService(t)
		res, err := env.svc.Account("alice").Deposit(ctx, bal(21), false)
		if err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
		if !res.Registered {
			t.Error("expected Registered")
		}
		if res.Balance.Total != bal(21) || res.Balance.Available != bal(1) {
			t.Errorf("unexpected balance %+v", res.Balance)
		}
		if len(res.Transfers) != 0 {
			t.Errorf("expected no transfers, got %v", res.Transfers)
		}
	})

	t.Run("registration only refunds the excess to the caller", func(t *testing.T) {
		env := setupTestService(t)
		res, err := env.svc.Account("alice").Deposit(ctx, bal(100), true)
		if err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
		if res.Balance.Total != bal(20) || !res.Balance.Available.IsZero() {
			t.Errorf("unexpected balance %+v", res.Balance)
		}
		if len(res.Transfers) != 1 || res.Transfers[0].Reason != transfer.ReasonRegistrationRefund {
			t.Fatalf("expected one refund, got %v", res.Transfers)
		}
		if got := env.bank.Balance("alice"); got != bal(80) {
			t.Errorf("expected refund of 80, got %s", got)
		}
	})

	t.Run("later deposits top up", func(t *testing.T) {
		env := setupTestService(t)
		env.register(t, "alice", 50)
		res, err := env.svc.Account("alice").Deposit(ctx, bal(5), true)
		if err != nil {
			t.Fatalf("top up failed: %v", err)
		}
		if res.Registered {
			t.Error("top up should not register")
		}
		if res.Balance.Total != bal(55) || res.Balance.Available != bal(35) {
			t.Errorf("unexpected balance %+v", res.Balance)
		}
		if len(res.Transfers) != 0 {
			t.Errorf("top up should not refund, got %v", res.Transfers)
		}
	})

	t.Run("deposit for another account refunds the caller", func(t *testing.T) {
		env := setupTestService(t)
		res, err := env.svc.Account("alice").DepositFor(ctx, "bob", bal(30), true)
		if err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
		if res.Account != "bob" {
			t.Errorf("expected bob, got %s", res.Account)
		}
		if got := env.bank.Balance("alice"); got != bal(10) {
			t.Errorf("expected alice refunded 10, got %s", got)
		}
		if _, ok, _ := env.svc.Available(ctx, "alice"); ok {
			t.Error("alice should not be registered")
		}
		if _, ok, _ := env.svc.Available(ctx, "bob"); !ok {
			t.Error("bob should be registered")
		}
	})

	t.Run("minimum follows the byte cost", func(t *testing.T) {
		env := setupTestService(t)
		env.host.SetByteCost(bal(3))
		bounds, err := env.svc.StorageBalanceBounds(ctx)
		if err != nil {
			t.Fatalf("bounds failed: %v", err)
		}
		if bounds.Min != bal(60) || bounds.Max != nil {
			t.Errorf("unexpected bounds %+v", bounds)
		}
		if _, err := env.svc.Account("alice").Deposit(ctx, bal(60), false); !errors.Is(err, ErrInsufficientDeposit) {
			t.Errorf("expected ErrInsufficientDeposit, got %v", err)
		}
	})

	t.Run("rejects invalid accounts", func(t *testing.T) {
		env := setupTestService(t)
		if _, err := env.svc.Account("bad id").Deposit(ctx, bal(100), false); !errors.Is(err, ErrInvalidAccountID) {
			t.Errorf("expected ErrInvalidAccountID, got %v", err)
		}
		if _, err := env.svc.Account("alice").DepositFor(ctx, "", bal(100), false); !errors.Is(err, ErrInvalidAccountID) {
			t.Errorf("expected ErrInvalidAccountID, got %v", err)
		}
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	t.Run("requires registration", func(t *testing.T) {
		if _, err := env.svc.Account("alice").Withdraw(ctx, bal(1)); !errors.Is(err, ErrNotRegistered) {
			t.Errorf("expected ErrNotRegistered, got %v", err)
		}
	})

	env.register(t, "alice", 120)

	t.Run("cannot exceed available", func(t *testing.T) {
		if _, err := env.svc.Account("alice").Withdraw(ctx, bal(101)); !errors.Is(err, ErrInsufficientAvailable) {
			t.Errorf("expected ErrInsufficientAvailable, got %v", err)
		}
		if got := env.available(t, "alice"); got != bal(100) {
			t.Errorf("balance changed after rejected withdraw: %s", got)
		}
	})

	t.Run("pays the caller", func(t *testing.T) {
		res, err := env.svc.Account("alice").Withdraw(ctx, bal(100))
		if err != nil {
			t.Fatalf("withdraw failed: %v", err)
		}
		if res.Balance.Total != bal(20) || !res.Balance.Available.IsZero() {
			t.Errorf("unexpected balance %+v", res.Balance)
		}
		if got := env.bank.Balance("alice"); got != bal(100) {
			t.Errorf("expected 100 paid out, got %s", got)
		}
	})
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	t.Run("unknown account", func(t *testing.T) {
		res, err := env.svc.Account("alice").Unregister(ctx)
		if err != nil {
			t.Fatalf("unregister failed: %v", err)
		}
		if res.Removed {
			t.Error("expected Removed false")
		}
	})

	t.Run("refunds the whole deposit", func(t *testing.T) {
		env.register(t, "alice", 1020)
		if _, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Title: "hi"}); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		res, err := env.svc.Account("alice").Unregister(ctx)
		if err != nil {
			t.Fatalf("unregister failed: %v", err)
		}
		if !res.Removed || res.Refunded != bal(1020) {
			t.Errorf("unexpected result %+v", res)
		}
		if got := env.bank.Balance("alice"); got != bal(1020) {
			t.Errorf("expected 1020 refunded, got %s", got)
		}
		if _, ok, _ := env.svc.Available(ctx, "alice"); ok {
			t.Error("alice should no longer be registered")
		}

		// Messages outlive the account.
		if n, _ := env.svc.TotalLive(ctx); n != 1 {
			t.Errorf("expected message kept, got %d live", n)
		}
	})
}

func TestTransferFailure(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	env.register(t, "alice", 1020)

	env.bank.FailWith(func(transfer.Transfer) error { return transfer.ErrRejected })
	res, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Fee: bal(5)})
	if err != nil {
		t.Fatalf("send should commit, got %v", err)
	}
	if !errors.Is(res.TransferErr, transfer.ErrRejected) {
		t.Errorf("expected TransferErr to wrap ErrRejected, got %v", res.TransferErr)
	}
	if n, _ := env.svc.TotalLive(ctx); n != 1 {
		t.Errorf("expected message stored, got %d", n)
	}
}

func TestWithoutBank(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(WithStore(memory.New()), WithHost(NewStaticHost(bal(1))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer svc.Close(ctx)

	res, err := svc.Account("alice").Deposit(ctx, bal(50), true)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if len(res.Transfers) != 1 || res.Transfers[0].Amount != bal(30) || res.TransferErr != nil {
		t.Errorf("expected the refund reported only, got %+v", res.Effects)
	}
}

func TestOverflow(t *testing.T) {
	ctx := context.Background()
	huge, err := store.ParseBalance("340282366920938463463374607431768211455")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	t.Run("deposit", func(t *testing.T) {
		env := setupTestService(t)
		if _, err := env.svc.Account("alice").Deposit(ctx, huge, false); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
		if _, err := env.svc.Account("alice").Deposit(ctx, bal(1), false); !errors.Is(err, ErrOverflow) {
			t.Errorf("expected ErrOverflow, got %v", err)
		}
	})

	t.Run("byte cost", func(t *testing.T) {
		env := setupTestService(t)
		env.host.SetByteCost(huge)
		if _, err := env.svc.Account("alice").Deposit(ctx, huge, false); !errors.Is(err, ErrOverflow) {
			t.Errorf("expected ErrOverflow, got %v", err)
		}
	})
}
