package stakemail

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/stakemail/store/memory"
)

type testPlugin struct {
	name       string
	initErr    error
	rejectWith error
	inited     int
	closed     int
	after      []Message
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) Init(context.Context) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.inited++
	return nil
}

func (p *testPlugin) Close(context.Context) error {
	p.closed++
	return nil
}

func (p *testPlugin) BeforeSend(_ context.Context, _ string, _ SendRequest) error {
	return p.rejectWith
}

func (p *testPlugin) AfterSend(_ context.Context, _ string, msg Message) error {
	p.after = append(p.after, msg)
	return errors.New("ignored")
}

func TestSendHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("before send aborts without side effects", func(t *testing.T) {
		errSpam := errors.New("spam")
		p := &testPlugin{name: "filter", rejectWith: errSpam}
		env := setupTestService(t, WithPlugin(p))
		env.register(t, "alice", 1020)

		_, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Fee: bal(5)})
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Plugin != "filter" || !errors.Is(err, errSpam) {
			t.Fatalf("expected PluginError wrapping spam, got %v", err)
		}
		if n, _ := env.svc.TotalLive(ctx); n != 0 {
			t.Errorf("expected no messages, got %d", n)
		}
		if got := env.available(t, "alice"); got != bal(1000) {
			t.Errorf("balance changed: %s", got)
		}
		if !env.bank.Balance("bob").IsZero() {
			t.Error("fee should not be paid")
		}
	})

	t.Run("after send errors are not returned", func(t *testing.T) {
		p := &testPlugin{name: "audit"}
		env := setupTestService(t, WithPlugins(p))
		env.register(t, "alice", 1020)

		res, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Title: "t"})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if len(p.after) != 1 || p.after[0].ID != res.Message.ID {
			t.Errorf("after hook saw %+v", p.after)
		}
		if p.inited != 1 {
			t.Errorf("expected plugin initialized once, got %d", p.inited)
		}
	})
}

func TestPluginInitRollback(t *testing.T) {
	ctx := context.Background()
	ok := &testPlugin{name: "ok"}
	bad := &testPlugin{name: "bad", initErr: errors.New("boom")}
	svc, err := NewService(
		WithStore(memory.New()),
		WithHost(NewStaticHost(bal(1))),
		WithPlugins(ok, bad),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Connect(ctx); err == nil {
		t.Fatal("expected connect to fail")
	}
	if ok.closed != 1 {
		t.Errorf("expected initialized plugin closed, got %d", ok.closed)
	}
	if svc.IsConnected() {
		t.Error("service should not be connected")
	}
}
