package stakemail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"
	"lukechampine.com/uint128"

	"github.com/rbaliyan/stakemail/retry"
	snapshototel "github.com/rbaliyan/stakemail/snapshot/otel"
	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// LedgerReader provides read access to storage-staking balances.
type LedgerReader interface {
	// Available returns deposited minus consumed, and false if the account
	// is not registered.
	Available(ctx context.Context, account string) (store.Balance, bool, error)
	// StorageBalanceOf returns the account's balance, or nil if the account
	// is not registered.
	StorageBalanceOf(ctx context.Context, account string) (*StorageBalance, error)
	// StorageBalanceBounds returns the deposit bounds at the current byte cost.
	StorageBalanceBounds(ctx context.Context) (StorageBalanceBounds, error)
}

// MailReader provides read access to messages and the indexes.
type MailReader interface {
	// GetMessage returns a message, upgraded to the current shape.
	GetMessage(ctx context.Context, id store.ID) (Message, error)
	// ListSent returns the messages in the account's sender index.
	// Order is unspecified.
	ListSent(ctx context.Context, account string) ([]Message, error)
	// ListReceived returns the messages in the account's receiver index.
	// Order is unspecified.
	ListReceived(ctx context.Context, account string) ([]Message, error)
	// SentCount returns the size of the account's sender index.
	SentCount(ctx context.Context, account string) (uint64, error)
	// ReceivedCount returns the size of the account's receiver index.
	ReceivedCount(ctx context.Context, account string) (uint64, error)
	// TotalLive returns the number of stored messages.
	TotalLive(ctx context.Context) (uint64, error)
	// DeletedCount returns the number of ids allocated minus the number of
	// stored messages.
	DeletedCount(ctx context.Context) (uint128.Uint128, error)
}

// Service manages the stakemail ledger (server-side).
// It owns the store handle and hands out clients bound to a caller.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - LedgerReader: balance views
//   - MailReader: message and index views
type Service interface {
	ServiceHealth
	LedgerReader
	MailReader

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for an in-flight operation and closes all connections.
	Close(ctx context.Context) error
	// Account returns a client acting as the given caller.
	// The returned client shares the service's connections.
	Account(id string) AccountClient
	// Donations returns the donation counter and account.
	Donations(ctx context.Context) (*DonationInfo, error)
	// Layout returns the persisted layout version.
	Layout(ctx context.Context) (store.LayoutVersion, error)
	// Events returns per-service event instances for subscribing and publishing.
	Events() *ServiceEvents
}

// Service states
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store      store.Store
	host       Host
	logger     *slog.Logger
	opts       *options
	state      int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins    *pluginRegistry
	otel       *otelInstrumentation
	writer     *semaphore.Weighted // one write at a time
	dispatcher *transfer.Dispatcher
	eventBus   *event.Bus
	events     *ServiceEvents
}

// NewService creates a new stakemail service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.host == nil {
		return nil, ErrHostRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	if o.snapshotSink != nil && (o.tracingEnabled || o.metricsEnabled) {
		sink, err := snapshototel.New(o.snapshotSink,
			snapshototel.WithTracing(o.tracingEnabled),
			snapshototel.WithMetrics(o.metricsEnabled),
			snapshototel.WithServiceName(o.serviceName),
			snapshototel.WithTracerProvider(o.tracerProvider),
			snapshototel.WithMeterProvider(o.meterProvider),
		)
		if err != nil {
			return nil, fmt.Errorf("instrument snapshot sink: %w", err)
		}
		o.snapshotSink = sink
	}

	return &service{
		store:      o.store,
		host:       o.host,
		logger:     o.logger,
		opts:       o,
		plugins:    plugins,
		otel:       otelInstr,
		writer:     semaphore.NewWeighted(1),
		dispatcher: newDispatcher(o),
	}, nil
}

// newDispatcher returns the configured dispatcher, builds one around the
// configured bank, or returns nil when transfers are only reported.
func newDispatcher(o *options) *transfer.Dispatcher {
	if o.dispatcher != nil {
		return o.dispatcher
	}
	if o.bank == nil {
		return nil
	}
	var journal transfer.Journal = transfer.NewMemoryJournal()
	if o.redisClient != nil {
		journal = transfer.NewRedisJournal(o.redisClient,
			transfer.WithJournalPrefix(o.serviceName+":transfer:"),
			transfer.WithJournalTTL(defaultJournalTTL),
		)
	}
	return transfer.NewDispatcher(o.bank,
		transfer.WithJournal(journal),
		transfer.WithRetry(retry.DefaultConfig()),
		transfer.WithLogger(o.logger),
	)
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("stakemail service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
func (s *service) initEventBus(ctx context.Context) error {
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close waits for an in-flight operation, then closes plugins, the event
// bus and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// New operations fail once the state is disconnected; taking the writer
	// slot waits for the one that may still be running.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.writer.Acquire(shutdownCtx, 1); err != nil {
		s.logger.Warn("timeout waiting for in-flight operation, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.writer.Release(1)
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Account returns a client acting as the given caller.
func (s *service) Account(id string) AccountClient {
	return &accountClient{
		id:       id,
		service:  s,
		validErr: ValidateAccountID(id),
	}
}

// call carries one write operation through its transaction.
type call struct {
	tx       store.Tx
	meta     store.Meta
	byteCost store.Balance // read once per operation
	now      uint64

	effects     []transfer.Transfer
	notify      []func(ctx context.Context) error
	transferErr error
}

// pay records a transfer to issue after commit. Zero amounts are dropped.
func (c *call) pay(to string, amount store.Balance, reason transfer.Reason) {
	if amount.IsZero() {
		return
	}
	c.effects = append(c.effects, transfer.New(to, amount, reason))
}

// afterCommit queues fn to run once the transaction has committed.
func (c *call) afterCommit(fn func(ctx context.Context) error) {
	c.notify = append(c.notify, fn)
}

// update runs fn as the only writer inside one store transaction.
//
// Every precondition in fn is checked before it writes, and a failing fn
// rolls the transaction back, so a rejected call leaves no trace. Once the
// transaction commits, the recorded transfers are dispatched and the queued
// notifications run. A notification error is returned with the committed
// call, never instead of it.
func (s *service) update(ctx context.Context, op string, migrating bool, fn func(ctx context.Context, c *call) error) (*call, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.writer.Release(1)

	cost, err := s.host.StorageByteCost(ctx)
	if err != nil {
		return nil, fmt.Errorf("read storage byte cost: %w", err)
	}

	c := &call{byteCost: cost, now: s.host.Now()}
	err = s.store.Update(ctx, func(tx store.Tx) error {
		// Backends may retry the callback.
		c.tx, c.effects, c.notify = tx, nil, nil

		meta, err := tx.GetMeta(ctx)
		if err != nil {
			return fmt.Errorf("read meta: %w", err)
		}
		if meta.Layout != store.LayoutCurrent && !migrating {
			return ErrSchemaOutdated
		}
		c.meta = meta
		return fn(ctx, c)
	})
	c.tx = nil
	if err != nil {
		return nil, err
	}

	c.transferErr = s.dispatch(ctx, c.effects)
	s.otel.recordTransfers(ctx, op, len(c.effects), c.transferErr)

	var notifyErr error
	for _, n := range c.notify {
		if err := n(ctx); err != nil && notifyErr == nil {
			notifyErr = err
		}
	}
	return c, notifyErr
}

// view runs fn in a read-only transaction.
func (s *service) view(ctx context.Context, fn func(tx store.Tx) error) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.store.View(ctx, fn)
}

// dispatch hands committed transfers to the dispatcher. The caller's
// cancellation does not stop it: the state change they pay for is durable.
func (s *service) dispatch(ctx context.Context, effects []transfer.Transfer) error {
	if len(effects) == 0 || s.dispatcher == nil {
		return nil
	}
	return errors.Join(s.dispatcher.Dispatch(context.WithoutCancel(ctx), effects)...)
}

// Compile-time check
var _ Service = (*service)(nil)
