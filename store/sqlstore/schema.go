package sqlstore

import (
	"context"
	"fmt"
)

// payloadType returns the binary column type for the dialect.
func (s *Store) payloadType() string {
	if s.dialect == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// ensureSchema creates the tables and seeds the meta row.
// A fresh database starts at the current layout.
func (s *Store) ensureSchema(ctx context.Context) error {
	t := s.tables
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			deposited TEXT NOT NULL,
			consumed TEXT NOT NULL
		)`, t.accounts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id CHAR(32) PRIMARY KEY,
			version SMALLINT NOT NULL,
			payload %s NOT NULL
		)`, t.emails, s.payloadType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			kind TEXT NOT NULL,
			account TEXT NOT NULL,
			email_id CHAR(32) NOT NULL,
			PRIMARY KEY (kind, account, email_id)
		)`, t.index),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_email_id_idx ON %s (email_id)`, t.index, t.index),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			layout INTEGER NOT NULL,
			email_count TEXT NOT NULL,
			donation_count TEXT NOT NULL,
			donation_account TEXT NOT NULL
		)`, t.meta),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	seed := s.db.Rebind(fmt.Sprintf(`INSERT INTO %s (id, layout, email_count, donation_count, donation_account)
		VALUES (1, ?, '0', '0', '') ON CONFLICT (id) DO NOTHING`, t.meta))
	if _, err := s.db.ExecContext(ctx, seed, int(s.opts.initialLayout)); err != nil {
		return fmt.Errorf("seed meta: %w", err)
	}
	return nil
}
