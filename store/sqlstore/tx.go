package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rbaliyan/stakemail/store"
)

// tx implements store.Tx on a database transaction.
type tx struct {
	tx       *sqlx.Tx
	t        tables
	readOnly bool
}

var _ store.Tx = (*tx)(nil)

type accountRow struct {
	ID        string `db:"id"`
	Deposited string `db:"deposited"`
	Consumed  string `db:"consumed"`
}

type emailRow struct {
	ID      string `db:"id"`
	Version int    `db:"version"`
	Payload []byte `db:"payload"`
}

type indexRow struct {
	Kind    string `db:"kind"`
	Account string `db:"account"`
	EmailID string `db:"email_id"`
}

type metaRow struct {
	Layout          int    `db:"layout"`
	EmailCount      string `db:"email_count"`
	DonationCount   string `db:"donation_count"`
	DonationAccount string `db:"donation_account"`
}

func (r accountRow) account() (store.Account, error) {
	dep, err := store.ParseBalance(r.Deposited)
	if err != nil {
		return store.Account{}, err
	}
	con, err := store.ParseBalance(r.Consumed)
	if err != nil {
		return store.Account{}, err
	}
	return store.Account{Deposited: dep, Consumed: con}, nil
}

func (t *tx) checkWritable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) get(ctx context.Context, dest any, query string, args ...any) error {
	err := t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
}

func (t *tx) count(ctx context.Context, query string, args ...any) (uint64, error) {
	var n int64
	if err := t.tx.GetContext(ctx, &n, t.tx.Rebind(query), args...); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// =============================================================================
// Accounts
// =============================================================================

func (t *tx) GetAccount(ctx context.Context, id string) (store.Account, error) {
	var row accountRow
	q := fmt.Sprintf(`SELECT id, deposited, consumed FROM %s WHERE id = ?`, t.t.accounts)
	if err := t.get(ctx, &row, q, id); err != nil {
		return store.Account{}, err
	}
	return row.account()
}

func (t *tx) PutAccount(ctx context.Context, id string, a store.Account) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, deposited, consumed) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET deposited = excluded.deposited, consumed = excluded.consumed`, t.t.accounts)
	_, err := t.exec(ctx, q, id, a.Deposited.String(), a.Consumed.String())
	return err
}

func (t *tx) DeleteAccount(ctx context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.t.accounts), id)
	return err
}

// =============================================================================
// Emails
// =============================================================================

func (t *tx) GetEmail(ctx context.Context, id store.ID) (store.Versioned, error) {
	var row emailRow
	q := fmt.Sprintf(`SELECT id, version, payload FROM %s WHERE id = ?`, t.t.emails)
	if err := t.get(ctx, &row, q, store.IDKey(id)); err != nil {
		return nil, err
	}
	return store.DecodeEmail(row.Payload)
}

func (t *tx) PutEmail(ctx context.Context, id store.ID, e store.Versioned) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	b, err := store.EncodeEmail(e)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, version, payload) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version, payload = excluded.payload`, t.t.emails)
	_, err = t.exec(ctx, q, store.IDKey(id), int(e.Version()), b)
	return err
}

func (t *tx) DeleteEmail(ctx context.Context, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	res, err := t.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.t.emails), store.IDKey(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) CountEmails(ctx context.Context) (uint64, error) {
	return t.count(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.t.emails))
}

// =============================================================================
// Index
// =============================================================================

func (t *tx) AddToIndex(ctx context.Context, kind store.IndexKind, account string, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (kind, account, email_id) VALUES (?, ?, ?)
		ON CONFLICT (kind, account, email_id) DO NOTHING`, t.t.index)
	_, err := t.exec(ctx, q, string(kind), account, store.IDKey(id))
	return err
}

func (t *tx) IndexContains(ctx context.Context, kind store.IndexKind, account string, id store.ID) (bool, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE kind = ? AND account = ? AND email_id = ?`, t.t.index)
	n, err := t.count(ctx, q, string(kind), account, store.IDKey(id))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *tx) IndexMembers(ctx context.Context, kind store.IndexKind, account string) ([]store.ID, error) {
	var keys []string
	q := fmt.Sprintf(`SELECT email_id FROM %s WHERE kind = ? AND account = ? ORDER BY email_id`, t.t.index)
	if err := t.tx.SelectContext(ctx, &keys, t.tx.Rebind(q), string(kind), account); err != nil {
		return nil, err
	}
	ids := make([]store.ID, 0, len(keys))
	for _, k := range keys {
		id, err := store.ParseIDKey(k)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *tx) IndexSize(ctx context.Context, kind store.IndexKind, account string) (uint64, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE kind = ? AND account = ?`, t.t.index)
	return t.count(ctx, q, string(kind), account)
}

func (t *tx) RemoveFromIndexes(ctx context.Context, id store.ID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE email_id = ?`, t.t.index), store.IDKey(id))
	return err
}

// =============================================================================
// Meta and layout
// =============================================================================

func (t *tx) GetMeta(ctx context.Context) (store.Meta, error) {
	var row metaRow
	q := fmt.Sprintf(`SELECT layout, email_count, donation_count, donation_account FROM %s WHERE id = 1`, t.t.meta)
	if err := t.get(ctx, &row, q); err != nil {
		return store.Meta{}, err
	}
	count, err := store.ParseBalance(row.EmailCount)
	if err != nil {
		return store.Meta{}, err
	}
	donations, err := store.ParseBalance(row.DonationCount)
	if err != nil {
		return store.Meta{}, err
	}
	return store.Meta{
		Layout:          store.LayoutVersion(row.Layout),
		EmailCount:      count,
		DonationCount:   donations,
		DonationAccount: row.DonationAccount,
	}, nil
}

func (t *tx) PutMeta(ctx context.Context, m store.Meta) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, layout, email_count, donation_count, donation_account)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET layout = excluded.layout, email_count = excluded.email_count,
			donation_count = excluded.donation_count, donation_account = excluded.donation_account`, t.t.meta)
	_, err := t.exec(ctx, q, int(m.Layout), m.EmailCount.String(), m.DonationCount.String(), m.DonationAccount)
	return err
}

func (t *tx) ExportV1(ctx context.Context) (*store.LayoutStateV1, error) {
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

	var accounts []accountRow
	if err := t.tx.SelectContext(ctx, &accounts, fmt.Sprintf(`SELECT id, deposited, consumed FROM %s`, t.t.accounts)); err != nil {
		return nil, err
	}
	for _, r := range accounts {
		a, err := r.account()
		if err != nil {
			return nil, err
		}
		out.Accounts[r.ID] = a
	}

	var emails []emailRow
	if err := t.tx.SelectContext(ctx, &emails, fmt.Sprintf(`SELECT id, version, payload FROM %s`, t.t.emails)); err != nil {
		return nil, err
	}
	for _, r := range emails {
		id, err := store.ParseIDKey(r.ID)
		if err != nil {
			return nil, err
		}
		e, err := store.DecodeEmail(r.Payload)
		if err != nil {
			return nil, err
		}
		out.Emails[id] = e
	}

	var entries []indexRow
	q := fmt.Sprintf(`SELECT kind, account, email_id FROM %s ORDER BY kind, account, email_id`, t.t.index)
	if err := t.tx.SelectContext(ctx, &entries, q); err != nil {
		return nil, err
	}
	for _, r := range entries {
		id, err := store.ParseIDKey(r.EmailID)
		if err != nil {
			return nil, err
		}
		switch store.IndexKind(r.Kind) {
		case store.IndexSender:
			out.Senders[r.Account] = append(out.Senders[r.Account], id)
		case store.IndexReceiver:
			out.Receivers[r.Account] = append(out.Receivers[r.Account], id)
		}
	}
	return out, nil
}

func (t *tx) Import(ctx context.Context, s *store.LayoutState) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	for _, table := range []string{t.t.index, t.t.emails, t.t.accounts} {
		if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for id, a := range s.Accounts {
		if err := t.PutAccount(ctx, id, a); err != nil {
			return err
		}
	}
	for id, e := range s.Emails {
		if err := t.PutEmail(ctx, id, e); err != nil {
			return err
		}
	}
	for account, ids := range s.Senders {
		for _, id := range ids {
			if err := t.AddToIndex(ctx, store.IndexSender, account, id); err != nil {
				return err
			}
		}
	}
	for account, ids := range s.Receivers {
		for _, id := range ids {
			if err := t.AddToIndex(ctx, store.IndexReceiver, account, id); err != nil {
				return err
			}
		}
	}

	return t.PutMeta(ctx, store.Meta{
		Layout:          store.LayoutCurrent,
		EmailCount:      s.EmailCount,
		DonationCount:   s.DonationCount,
		DonationAccount: s.DonationAccount,
	})
}
