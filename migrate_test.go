package stakemail

import (
	"context"
	"errors"
	"strings"
	"testing"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/rbaliyan/stakemail/snapshot"
	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/store/memory"
)

func legacyState() *store.LayoutStateV1 {
	return &store.LayoutStateV1{
		Accounts: map[string]store.Account{
			"alice": {Deposited: bal(1020), Consumed: bal(30)},
		},
		Senders:   map[string][]store.ID{"alice": {store.NewID(0), store.NewID(1)}},
		Receivers: map[string][]store.ID{"bob": {store.NewID(0), store.NewID(1)}},
		Emails: map[store.ID]store.Versioned{
			store.NewID(0): store.EmailV1{Title: "old", Content: "mail", Timestamp: 7},
		},
		EmailCount: store.NewID(2),
	}
}

func setupLegacyService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st, err := memory.NewV1(legacyState())
	if err != nil {
		t.Fatalf("failed to seed legacy store: %v", err)
	}
	base := []Option{WithOwner("admin"), WithDefaultDonationAccount("charity")}
	return setupTestServiceWithStore(t, st, append(base, opts...)...)
}

func TestLegacyLayout(t *testing.T) {
	ctx := context.Background()
	env := setupLegacyService(t)

	t.Run("writes require migration", func(t *testing.T) {
		if _, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob"}); !errors.Is(err, ErrSchemaOutdated) {
			t.Errorf("expected ErrSchemaOutdated, got %v", err)
		}
		if _, err := env.svc.Account("carol").Deposit(ctx, bal(100), false); !errors.Is(err, ErrSchemaOutdated) {
			t.Errorf("expected ErrSchemaOutdated, got %v", err)
		}
	})

	t.Run("reads work", func(t *testing.T) {
		msg, err := env.svc.GetMessage(ctx, store.NewID(0))
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if msg.Title != "old" || msg.Version != store.VersionV1 || !msg.Fee.IsZero() {
			t.Errorf("unexpected message %+v", msg)
		}
		if got := env.available(t, "alice"); got != bal(990) {
			t.Errorf("expected 990 available, got %s", got)
		}
		layout, err := env.svc.Layout(ctx)
		if err != nil || layout != store.LayoutV1 {
			t.Errorf("expected layout v1, got %v, %v", layout, err)
		}
		info, err := env.svc.Donations(ctx)
		if err != nil {
			t.Fatalf("donations failed: %v", err)
		}
		if !info.Count.IsZero() || info.Account != "" {
			t.Errorf("expected empty donation state, got %+v", info)
		}
	})

	t.Run("listings skip ids without a message", func(t *testing.T) {
		msgs, err := env.svc.ListSent(ctx, "alice")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(msgs) != 1 || msgs[0].ID != store.NewID(0) {
			t.Errorf("unexpected listing %+v", msgs)
		}
	})
}

func TestMigrateSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("owner only", func(t *testing.T) {
		env := setupLegacyService(t)
		if _, err := env.svc.Account("alice").MigrateSchema(ctx); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if layout, _ := env.svc.Layout(ctx); layout != store.LayoutV1 {
			t.Error("layout changed after a rejected migration")
		}
	})

	t.Run("rejected without an owner", func(t *testing.T) {
		st, err := memory.NewV1(legacyState())
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		env := setupTestServiceWithStore(t, st)
		if _, err := env.svc.Account("admin").MigrateSchema(ctx); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("carries state over", func(t *testing.T) {
		env := setupLegacyService(t)
		res, err := env.svc.Account("admin").MigrateSchema(ctx)
		if err != nil {
			t.Fatalf("migrate failed: %v", err)
		}
		if res.PreviousLayout != store.LayoutV1 || res.Accounts != 1 || res.Emails != 1 {
			t.Errorf("unexpected result %+v", res)
		}
		if res.EmailCount != store.NewID(2) || res.SnapshotURI != "" {
			t.Errorf("unexpected result %+v", res)
		}

		info, err := env.svc.Donations(ctx)
		if err != nil {
			t.Fatalf("donations failed: %v", err)
		}
		if info.Layout != store.LayoutCurrent || info.Account != "charity" || !info.Count.IsZero() {
			t.Errorf("unexpected donation state %+v", info)
		}

		msg, err := env.svc.GetMessage(ctx, store.NewID(0))
		if err != nil || msg.Title != "old" {
			t.Errorf("legacy message lost: %+v, %v", msg, err)
		}
		if got := env.available(t, "alice"); got != bal(990) {
			t.Errorf("expected 990 available, got %s", got)
		}
		if n, _ := env.svc.SentCount(ctx, "alice"); n != 2 {
			t.Errorf("expected index carried over, got %d", n)
		}

		send, err := env.svc.Account("alice").Send(ctx, SendRequest{Receiver: "bob", Title: "new"})
		if err != nil {
			t.Fatalf("send after migration failed: %v", err)
		}
		if send.Message.ID != store.NewID(2) {
			t.Errorf("expected id 2, got %s", send.Message.ID)
		}
	})

	t.Run("running twice resets donations", func(t *testing.T) {
		env := setupLegacyService(t)
		admin := env.svc.Account("admin")
		if _, err := admin.MigrateSchema(ctx); err != nil {
			t.Fatalf("migrate failed: %v", err)
		}
		if _, err := admin.Donate(ctx, bal(5)); err != nil {
			t.Fatalf("donate failed: %v", err)
		}
		if err := admin.SetDonationAccount(ctx, "other"); err != nil {
			t.Fatalf("set donation account failed: %v", err)
		}

		res, err := admin.MigrateSchema(ctx)
		if err != nil {
			t.Fatalf("second migrate failed: %v", err)
		}
		if res.PreviousLayout != store.LayoutCurrent {
			t.Errorf("expected current layout, got %v", res.PreviousLayout)
		}
		info, _ := env.svc.Donations(ctx)
		if info.Account != "charity" || !info.Count.IsZero() {
			t.Errorf("expected donation state reset, got %+v", info)
		}
		if msg, err := env.svc.GetMessage(ctx, store.NewID(0)); err != nil || msg.Title != "old" {
			t.Errorf("message lost on second run: %+v, %v", msg, err)
		}
	})

	t.Run("archives the previous state", func(t *testing.T) {
		sink := snapshot.NewMemorySink()
		env := setupLegacyService(t,
			WithSnapshotSink(sink),
			WithSnapshotPrefix("archive"),
			WithOTel(true),
			WithTracerProvider(tracenoop.NewTracerProvider()),
			WithMeterProvider(metricnoop.NewMeterProvider()),
		)
		res, err := env.svc.Account("admin").MigrateSchema(ctx)
		if err != nil {
			t.Fatalf("migrate failed: %v", err)
		}
		if !strings.HasPrefix(res.SnapshotURI, "mem://archive/") {
			t.Fatalf("unexpected snapshot uri %q", res.SnapshotURI)
		}
		old, err := snapshot.Load(ctx, sink, res.SnapshotURI)
		if err != nil {
			t.Fatalf("load snapshot failed: %v", err)
		}
		if old.Accounts["alice"].Deposited != bal(1020) || old.EmailCount != store.NewID(2) {
			t.Errorf("unexpected snapshot %+v", old)
		}
		if len(old.Senders["alice"]) != 2 {
			t.Errorf("expected stale index ids archived, got %v", old.Senders["alice"])
		}
	})
}
