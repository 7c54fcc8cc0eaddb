package sqlstore

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/stakemail/retry"
	"github.com/rbaliyan/stakemail/store"
)

// Default configuration values.
const (
	DefaultTablePrefix = "stakemail_"
	DefaultTimeout     = 10 * time.Second
)

// options holds SQL store configuration.
type options struct {
	tablePrefix string
	timeout     time.Duration
	logger      *slog.Logger
	connect     retry.Config

	initialLayout store.LayoutVersion
}

func newOptions(opts ...Option) *options {
	o := &options{
		tablePrefix: DefaultTablePrefix,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
		connect:     retry.DefaultConfig(),

		initialLayout: store.LayoutCurrent,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a SQL store.
type Option func(*options)

// WithTablePrefix sets the prefix prepended to every table name.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.tablePrefix = prefix
		}
	}
}

// WithTimeout sets the timeout applied to each transaction.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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

// WithConnectRetry sets the retry policy for the initial ping in Connect.
func WithConnectRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.connect = cfg
	}
}

// WithLegacyLayout makes Connect seed an empty database at the V1 layout
// instead of the current one. It has no effect on a database whose meta
// row already exists. Used to stage a pre-migration deployment.
func WithLegacyLayout() Option {
	return func(o *options) {
		o.initialLayout = store.LayoutV1
	}
}
