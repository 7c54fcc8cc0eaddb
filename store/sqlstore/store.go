// Package sqlstore provides a SQL implementation of store.Store.
//
// The same schema and queries serve PostgreSQL (via github.com/lib/pq) and
// SQLite (via modernc.org/sqlite). Queries are written with '?' placeholders
// and rebound by sqlx for the connection's driver.
//
// 128-bit values are stored as text: balances in base 10, email ids as
// fixed-width hex keys so that they sort numerically.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rbaliyan/stakemail/retry"
	"github.com/rbaliyan/stakemail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Dialect selects the SQL flavor used for DDL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store implements store.Store on a SQL database.
type Store struct {
	db        *sqlx.DB
	dialect   Dialect
	opts      *options
	tables    tables
	connected int32
	logger    *slog.Logger
}

// tables holds the fully prefixed table names.
type tables struct {
	accounts string
	emails   string
	index    string
	meta     string
}

// New creates a new SQL store with the provided database handle.
// The dialect is derived from the handle's driver name.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) (*Store, error) {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}

	o := newOptions(opts...)
	return &Store{
		db:      db,
		dialect: d,
		opts:    o,
		logger:  o.logger,
		tables: tables{
			accounts: o.tablePrefix + "accounts",
			emails:   o.tablePrefix + "emails",
			index:    o.tablePrefix + "email_index",
			meta:     o.tablePrefix + "meta",
		},
	}, nil
}

// NewFromDB creates a new SQL store from a standard sql.DB connection.
// driverName must be the name the connection was opened with.
func NewFromDB(db *sql.DB, driverName string, opts ...Option) (*Store, error) {
	return New(sqlx.NewDb(db, driverName), opts...)
}

// OpenSQLite opens an SQLite database at path (":memory:" for a private
// in-memory database) configured for single-writer use.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return New(db, opts...)
}

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx", "cloudsqlpostgres":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB returns the underlying database handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Connect pings the database and ensures the schema exists.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlstore: db is required")
	}

	err := retry.Do(ctx, s.opts.connect, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
		return s.db.PingContext(pingCtx)
	})
	if err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sql ping: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to SQL store", "dialect", s.dialect, "prefix", s.opts.tablePrefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Update runs fn in a database transaction and commits if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, false, fn)
}

// View runs fn in a database transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx store.Tx) error) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrTransactionFailed, err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{tx: sqlTx, t: s.tables, readOnly: readOnly}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}

	if err := sqlTx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
		}
		return fmt.Errorf("%w: commit: %v", store.ErrTransactionFailed, err)
	}
	return nil
}
