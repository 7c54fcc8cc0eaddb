package stakemail

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/stakemail/snapshot"
	"github.com/rbaliyan/stakemail/store"
	"github.com/rbaliyan/stakemail/transfer"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Storage quotas, in bytes of persisted state.
	DefaultMailStorageBytes    = 10 // charged per message sent
	DefaultAccountStorageBytes = 20 // charged once per registered account

	// Default message limits
	DefaultMaxTitleLength = 998            // RFC 5322 max line length
	DefaultMaxContentSize = 64 * 1024      // 64 KB
	MaxAccountIDLength    = 64             // longest accepted account id
	DefaultSnapshotPrefix = "stakemail/v1" // object key prefix for layout archives
	DefaultServiceName    = "stakemail"    // telemetry and event bus name
	defaultJournalTTL     = 7 * 24 * time.Hour
)

// DeletePolicy decides who may delete a message.
type DeletePolicy int

const (
	// DeletePolicyLegacy rejects a delete when the message is in the
	// requester's own sender index and allows everyone else. This is the
	// behavior of deployed ledgers and is the default.
	DeletePolicyLegacy DeletePolicy = iota
	// DeletePolicySenderOnly allows a delete only when the message is in
	// the requester's sender index.
	DeletePolicySenderOnly
)

func (p DeletePolicy) String() string {
	switch p {
	case DeletePolicyLegacy:
		return "legacy"
	case DeletePolicySenderOnly:
		return "sender_only"
	default:
		return "unknown"
	}
}

// options holds service configuration.
type options struct {
	store  store.Store
	host   Host
	logger *slog.Logger

	plugins []Plugin

	// Transfers
	bank       transfer.Bank
	dispatcher *transfer.Dispatcher

	// Ledger
	owner               string
	mailStorageBytes    uint64
	accountStorageBytes uint64
	defaultDonation     string
	deletePolicy        DeletePolicy
	pruneIndexes        bool

	// Migration
	snapshotSink   snapshot.Sink
	snapshotPrefix string

	// Message limits
	maxTitleLength int
	maxContentSize int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures are returned to the caller
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for events and the transfer journal (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MailSent"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:              slog.Default(),
		mailStorageBytes:    DefaultMailStorageBytes,
		accountStorageBytes: DefaultAccountStorageBytes,
		deletePolicy:        DeletePolicyLegacy,
		pruneIndexes:        true,
		snapshotPrefix:      DefaultSnapshotPrefix,
		maxTitleLength:      DefaultMaxTitleLength,
		maxContentSize:      DefaultMaxContentSize,
		shutdownTimeout:     DefaultShutdownTimeout,
		serviceName:         DefaultServiceName,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a Service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithHost sets the host environment that reports the byte cost and the
// clock (required).
func WithHost(h Host) Option {
	return func(o *options) {
		if h != nil {
			o.host = h
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Transfer Options ---

// WithBank sets the host's balance transfer primitive. Transfers returned
// by operations are dispatched to it after the operation commits.
//
// When a Redis client is configured the dispatcher journals transfer ids in
// Redis, otherwise in memory. Without a bank, transfers are only returned
// to the caller.
func WithBank(b transfer.Bank) Option {
	return func(o *options) {
		if b != nil {
			o.bank = b
		}
	}
}

// WithDispatcher sets a fully configured transfer dispatcher.
// Takes precedence over WithBank.
func WithDispatcher(d *transfer.Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// --- Ledger Options ---

// WithOwner sets the account allowed to run privileged operations
// (MigrateSchema, SetDonationAccount). Without an owner, every privileged
// call is rejected with ErrUnauthorized.
func WithOwner(account string) Option {
	return func(o *options) {
		if account != "" {
			o.owner = account
		}
	}
}

// WithMailStorageBytes sets the storage charged per message, in bytes.
// Default is 10.
func WithMailStorageBytes(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.mailStorageBytes = n
		}
	}
}

// WithAccountStorageBytes sets the storage charged for an account record,
// in bytes. The minimum deposit is this times the byte cost. Default is 20.
func WithAccountStorageBytes(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.accountStorageBytes = n
		}
	}
}

// WithDefaultDonationAccount sets the donation account written by schema
// migration.
func WithDefaultDonationAccount(account string) Option {
	return func(o *options) {
		o.defaultDonation = account
	}
}

// WithDeletePolicy sets who may delete a message.
// Default is DeletePolicyLegacy.
func WithDeletePolicy(p DeletePolicy) Option {
	return func(o *options) {
		if p == DeletePolicyLegacy || p == DeletePolicySenderOnly {
			o.deletePolicy = p
		}
	}
}

// WithIndexPruning controls whether Delete also removes the message id from
// every sender and receiver index.
//
// Enabled by default, which keeps SentCount, ReceivedCount and DeletedCount
// accurate. When disabled, indexes keep stale ids as deployed ledgers do and
// listings skip ids that no longer resolve.
func WithIndexPruning(enabled bool) Option {
	return func(o *options) {
		o.pruneIndexes = enabled
	}
}

// --- Migration Options ---

// WithSnapshotSink archives the previous layout to sink before MigrateSchema
// overwrites it. The archive URI is returned in MigrateResult.
func WithSnapshotSink(sink snapshot.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.snapshotSink = sink
		}
	}
}

// WithSnapshotPrefix sets the object key prefix for layout archives.
// Default is "stakemail/v1".
func WithSnapshotPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.snapshotPrefix = prefix
		}
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Message Limit Options ---

// WithMaxTitleLength sets the maximum title length in bytes.
// Default is 998 (RFC 5322 max line length).
func WithMaxTitleLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTitleLength = n
		}
	}
}

// WithMaxContentSize sets the maximum content size in bytes.
// Default is 64 KB.
func WithMaxContentSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxContentSize = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close waits for an in-flight
// operation. Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and the event
// bus. Default is "stakemail".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures are
// returned to the caller. The operation has committed either way.
// Default is false (failures are logged).
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client. Events are published to Redis
// Streams unless WithEventTransport is also set, and transfer ids are
// journaled in Redis when the service builds its own dispatcher.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// getLimits returns the configured message limits.
func (o *options) getLimits() MessageLimits {
	return MessageLimits{
		MaxTitleLength: o.maxTitleLength,
		MaxContentSize: o.maxContentSize,
	}
}
