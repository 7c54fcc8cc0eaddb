package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/stakemail/store"
)

type accountDoc struct {
	ID        string `bson:"_id"`
	Deposited string `bson:"deposited"`
	Consumed  string `bson:"consumed"`
}

type emailDoc struct {
	ID      string `bson:"_id"`
	Version int    `bson:"version"`
	Payload []byte `bson:"payload"`
}

type indexDoc struct {
	Kind    string `bson:"kind"`
	Account string `bson:"account"`
	EmailID string `bson:"email_id"`
}

type metaDoc struct {
	ID              string `bson:"_id"`
	Layout          int    `bson:"layout"`
	EmailCount      string `bson:"email_count"`
	DonationCount   string `bson:"donation_count"`
	DonationAccount string `bson:"donation_account"`
}

func (d accountDoc) account() (store.Account, error) {
	dep, err := store.ParseBalance(d.Deposited)
	if err != nil {
		return store.Account{}, err
	}
	con, err := store.ParseBalance(d.Consumed)
	if err != nil {
		return store.Account{}, err
	}
	return store.Account{Deposited: dep, Consumed: con}, nil
}

// tx implements store.Tx. When sess is set every operation joins the
// session's transaction.
type tx struct {
	s        *Store
	sess     *mongo.Session
	readOnly bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) ctx(ctx context.Context) context.Context {
	if t.sess == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *tx) checkWritable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func findOne(ctx context.Context, c *mongo.Collection, filter any, dest any) error {
	err := c.FindOne(ctx, filter).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

// =============================================================================
// Accounts
// =============================================================================

func (t *tx) GetAccount(ctx context.Context, id string) (store.Account, error) {
	var doc accountDoc
	if err := findOne(t.ctx(ctx), t.s.accounts, bson.M{"_id": id}, &doc); err != nil {
		return store.Account{}, err
	}
	return doc.account()
}

func (t *tx) PutAccount(ctx context.Context, id string, a store.Account) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	doc := accountDoc{ID: id, Deposited: a.Deposited.String(), Consumed: a.Consumed.String()}
	_, err := t.s.accounts.ReplaceOne(t.ctx(ctx), bson.M{"_id": id}, doc, mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (t *tx) DeleteAccount(ctx context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.s.accounts.DeleteOne(t.ctx(ctx), bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// =============================================================================
// Emails
// =============================================================================

func (t *tx) GetEmail(ctx context.Context, id store.ID) (store.Versioned, error) {
	var doc emailDoc
	if err := findOne(t.ctx(ctx), t.s.emails, bson.M{"_id": store.IDKey(id)}, &doc); err != nil {
		return nil, err
	}
	return store.DecodeEmail(doc.Payload)
}

func (t *tx) PutEmail(ctx context.Context, id store.ID, e store.Versioned) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	b, err := store.EncodeEmail(e)
	if err != nil {
		return err
	}
	key := store.IDKey(id)
	doc := emailDoc{ID: key, Version: int(e.Version()), Payload: b}
	if _, err := t.s.emails.ReplaceOne(t.ctx(ctx), bson.M{"_id": key}, doc, mongoopts.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("put email: %w", err)
	}
	return nil
}

func (t *tx) DeleteEmail(ctx context.Context, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	res, err := t.s.emails.DeleteOne(t.ctx(ctx), bson.M{"_id": store.IDKey(id)})
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) CountEmails(ctx context.Context) (uint64, error) {
	n, err := t.s.emails.CountDocuments(t.ctx(ctx), bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return uint64(n), nil
}

// =============================================================================
// Index
// =============================================================================

func indexFilter(kind store.IndexKind, account string) bson.M {
	return bson.M{"kind": string(kind), "account": account}
}

func (t *tx) AddToIndex(ctx context.Context, kind store.IndexKind, account string, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	doc := indexDoc{Kind: string(kind), Account: account, EmailID: store.IDKey(id)}
	filter := indexFilter(kind, account)
	filter["email_id"] = doc.EmailID
	_, err := t.s.index.ReplaceOne(t.ctx(ctx), filter, doc, mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("add to index: %w", err)
	}
	return nil
}

func (t *tx) IndexContains(ctx context.Context, kind store.IndexKind, account string, id store.ID) (bool, error) {
	filter := indexFilter(kind, account)
	filter["email_id"] = store.IDKey(id)
	n, err := t.s.index.CountDocuments(t.ctx(ctx), filter, mongoopts.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("index lookup: %w", err)
	}
	return n > 0, nil
}

func (t *tx) IndexMembers(ctx context.Context, kind store.IndexKind, account string) ([]store.ID, error) {
	docs, err := t.findIndex(t.ctx(ctx), indexFilter(kind, account))
	if err != nil {
		return nil, err
	}
	ids := make([]store.ID, 0, len(docs))
	for _, d := range docs {
		id, err := store.ParseIDKey(d.EmailID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *tx) findIndex(ctx context.Context, filter any) ([]indexDoc, error) {
	opts := mongoopts.Find().SetSort(bson.D{
		bson.E{Key: "kind", Value: 1},
		bson.E{Key: "account", Value: 1},
		bson.E{Key: "email_id", Value: 1},
	})
	cursor, err := t.s.index.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find index: %w", err)
	}
	var docs []indexDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return docs, nil
}

func (t *tx) IndexSize(ctx context.Context, kind store.IndexKind, account string) (uint64, error) {
	n, err := t.s.index.CountDocuments(t.ctx(ctx), indexFilter(kind, account))
	if err != nil {
		return 0, fmt.Errorf("index size: %w", err)
	}
	return uint64(n), nil
}

func (t *tx) RemoveFromIndexes(ctx context.Context, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.s.index.DeleteMany(t.ctx(ctx), bson.M{"email_id": store.IDKey(id)}); err != nil {
		return fmt.Errorf("prune index: %w", err)
	}
	return nil
}

// =============================================================================
// Meta and layout
// =============================================================================

func (t *tx) GetMeta(ctx context.Context) (store.Meta, error) {
	var doc metaDoc
	if err := findOne(t.ctx(ctx), t.s.meta, bson.M{"_id": metaID}, &doc); err != nil {
		return store.Meta{}, err
	}
	count, err := store.ParseBalance(doc.EmailCount)
	if err != nil {
		return store.Meta{}, err
	}
	donations, err := store.ParseBalance(doc.DonationCount)
	if err != nil {
		return store.Meta{}, err
	}
	return store.Meta{
		Layout:          store.LayoutVersion(doc.Layout),
		EmailCount:      count,
		DonationCount:   donations,
		DonationAccount: doc.DonationAccount,
	}, nil
}

func (t *tx) PutMeta(ctx context.Context, m store.Meta) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	doc := metaDoc{
		ID:              metaID,
		Layout:          int(m.Layout),
		EmailCount:      m.EmailCount.String(),
		DonationCount:   m.DonationCount.String(),
		DonationAccount: m.DonationAccount,
	}
	_, err := t.s.meta.ReplaceOne(t.ctx(ctx), bson.M{"_id": metaID}, doc, mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put meta: %w", err)
	}
	return nil
}

func (t *tx) ExportV1(ctx context.Context) (*store.LayoutStateV1, error) {
	ctx = t.ctx(ctx)
	meta, err := t.GetMeta(ctx)
	if err != nil {
		return nil, err
	}

	out := &store.LayoutStateV1{
		Accounts:   make(map[string]store.Account),
		Senders:    make(map[string][]store.ID),
		Receivers:  make(map[string][]store.ID),
		Emails:     make(map[store.ID]store.Versioned),
		EmailCount: meta.EmailCount,
	}

	cursor, err := t.s.accounts.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find accounts: %w", err)
	}
	var accounts []accountDoc
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	for _, d := range accounts {
		a, err := d.account()
		if err != nil {
			return nil, err
		}
		out.Accounts[d.ID] = a
	}

	cursor, err = t.s.emails.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find emails: %w", err)
	}
	var emails []emailDoc
	if err := cursor.All(ctx, &emails); err != nil {
		return nil, fmt.Errorf("decode emails: %w", err)
	}
	for _, d := range emails {
		id, err := store.ParseIDKey(d.ID)
		if err != nil {
			return nil, err
		}
		e, err := store.DecodeEmail(d.Payload)
		if err != nil {
			return nil, err
		}
		out.Emails[id] = e
	}

	entries, err := t.findIndex(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	for _, d := range entries {
		id, err := store.ParseIDKey(d.EmailID)
		if err != nil {
			return nil, err
		}
		switch store.IndexKind(d.Kind) {
		case store.IndexSender:
			out.Senders[d.Account] = append(out.Senders[d.Account], id)
		case store.IndexReceiver:
			out.Receivers[d.Account] = append(out.Receivers[d.Account], id)
		}
	}
	return out, nil
}

func (t *tx) Import(ctx context.Context, s *store.LayoutState) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	ctx = t.ctx(ctx)

	for _, c := range []*mongo.Collection{t.s.index, t.s.emails, t.s.accounts} {
		if _, err := c.DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("clear %s: %w", c.Name(), err)
		}
	}

	accounts := make([]any, 0, len(s.Accounts))
	for id, a := range s.Accounts {
		accounts = append(accounts, accountDoc{ID: id, Deposited: a.Deposited.String(), Consumed: a.Consumed.String()})
	}
	if err := insertMany(ctx, t.s.accounts, accounts); err != nil {
		return err
	}

	emails := make([]any, 0, len(s.Emails))
	for id, e := range s.Emails {
		b, err := store.EncodeEmail(e)
		if err != nil {
			return err
		}
		emails = append(emails, emailDoc{ID: store.IDKey(id), Version: int(e.Version()), Payload: b})
	}
	if err := insertMany(ctx, t.s.emails, emails); err != nil {
		return err
	}

	var entries []any
	for kind, sets := range map[store.IndexKind]map[string][]store.ID{
		store.IndexSender:   s.Senders,
		store.IndexReceiver: s.Receivers,
	} {
		for account, ids := range sets {
			seen := make(map[store.ID]struct{}, len(ids))
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				entries = append(entries, indexDoc{Kind: string(kind), Account: account, EmailID: store.IDKey(id)})
			}
		}
	}
	if err := insertMany(ctx, t.s.index, entries); err != nil {
		return err
	}

	return t.PutMeta(ctx, store.Meta{
		Layout:          store.LayoutCurrent,
		EmailCount:      s.EmailCount,
		DonationCount:   s.DonationCount,
		DonationAccount: s.DonationAccount,
	})
}

func insertMany(ctx context.Context, c *mongo.Collection, docs []any) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := c.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert %s: %w", c.Name(), err)
	}
	return nil
}
