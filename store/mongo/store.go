// Package mongo provides a MongoDB implementation of store.Store.
//
// Each part of the layout lives in its own collection: accounts, emails,
// email_index and meta. Email ids are stored as fixed-width hex keys and
// balances as base-10 strings, so values wider than 64 bits round-trip
// exactly.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/stakemail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// metaID is the _id of the singleton meta document.
const metaID = "meta"

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	accounts  *mongo.Collection
	emails    *mongo.Collection
	index     *mongo.Collection
	meta      *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.accounts = s.db.Collection(s.opts.prefix + "accounts")
	s.emails = s.db.Collection(s.opts.prefix + "emails")
	s.index = s.db.Collection(s.opts.prefix + "email_index")
	s.meta = s.db.Collection(s.opts.prefix + "meta")

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	if err := s.seedMeta(ctx); err != nil {
		return fmt.Errorf("seed meta: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// Set semantics for index entries.
		{
			Keys: bson.D{
				bson.E{Key: "kind", Value: 1},
				bson.E{Key: "account", Value: 1},
				bson.E{Key: "email_id", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
		// Pruning removes an id from every set.
		{Keys: bson.D{bson.E{Key: "email_id", Value: 1}}},
	}

	_, err := s.index.Indexes().CreateMany(ctx, indexes)
	return err
}

// seedMeta inserts the meta document for a fresh database.
func (s *Store) seedMeta(ctx context.Context) error {
	fields := bson.M{
		"layout":           int(store.LayoutCurrent),
		"email_count":      store.ZeroBalance.String(),
		"donation_count":   store.ZeroBalance.String(),
		"donation_account": "",
	}
	_, err := s.meta.UpdateOne(ctx,
		bson.M{"_id": metaID},
		bson.M{"$setOnInsert": fields},
		mongoopts.UpdateOne().SetUpsert(true),
	)
	return err
}

// Update runs fn inside a multi-document transaction.
//
// If the deployment does not support transactions (e.g., standalone), fn is
// run without one unless WithRequireTransactions was set. Service-level
// preconditions are checked before any write, so the fallback only loses
// atomicity on I/O failures mid-call.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	session, err := s.client.StartSession()
	if err != nil {
		return s.updateFallback(ctx, fn, err)
	}
	defer session.EndSession(ctx)

	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		return nil, fn(&tx{s: s, sess: session})
	})
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			return s.updateFallback(ctx, fn, txErr)
		}
		return txErr
	}
	return nil
}

func (s *Store) updateFallback(ctx context.Context, fn func(tx store.Tx) error, cause error) error {
	if s.opts.requireTransactions {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, cause)
	}
	s.logger.Warn("mongo transactions unavailable, writing without one", "error", cause)
	return fn(&tx{s: s})
}

// View runs fn without a transaction. Writes are rejected.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{s: s, readOnly: true})
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// MongoDB returns code 263 (OperationNotSupportedInTransaction) or
	// code 20 (IllegalOperation) for standalone servers.
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}
