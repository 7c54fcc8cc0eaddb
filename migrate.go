package stakemail

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/stakemail/migrate"
	"github.com/rbaliyan/stakemail/snapshot"
	"github.com/rbaliyan/stakemail/store"
)

// MigrateSchema rewrites the persisted state into the current layout.
//
// Accounts, index sets, messages and the id counter are carried over
// unchanged; the donation counter restarts at zero and the donation
// account is set to the configured default. Running it again on a current
// store repeats exactly that, so donation state recorded since the last
// run is lost.
//
// If a snapshot sink is configured, the previous state is archived before
// it is replaced; a failed archive aborts the migration. Only the owner
// may call it.
func (a *accountClient) MigrateSchema(ctx context.Context) (*MigrateResult, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}
	if err := a.checkOwner(); err != nil {
		return nil, err
	}

	s := a.service
	ctx, done := s.otel.startOp(ctx, opMigrate, attribute.String("account", a.id))
	var res *MigrateResult
	_, err := s.update(ctx, opMigrate, true, func(ctx context.Context, c *call) error {
		var err error
		res, err = s.migrate(ctx, c)
		return err
	})
	done(err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("schema migrated",
		"from_layout", int(res.PreviousLayout),
		"accounts", res.Accounts,
		"emails", res.Emails,
		"snapshot", res.SnapshotURI,
	)
	return res, nil
}

func (s *service) migrate(ctx context.Context, c *call) (*MigrateResult, error) {
	old, err := c.tx.ExportV1(ctx)
	if err != nil {
		return nil, fmt.Errorf("export layout: %w", err)
	}

	res := &MigrateResult{
		PreviousLayout: c.meta.Layout,
		Accounts:       len(old.Accounts),
		Emails:         len(old.Emails),
		EmailCount:     old.EmailCount,
	}

	if s.opts.snapshotSink != nil {
		uri, err := snapshot.Archive(ctx, s.opts.snapshotSink, s.opts.snapshotPrefix, time.Now(), old)
		if err != nil {
			return nil, fmt.Errorf("archive layout: %w", err)
		}
		res.SnapshotURI = uri
	}

	if err := c.tx.Import(ctx, migrate.UpgradeV1(old, s.opts.defaultDonation)); err != nil {
		return nil, fmt.Errorf("import layout: %w", err)
	}
	c.meta = store.Meta{
		Layout:          store.LayoutCurrent,
		EmailCount:      old.EmailCount,
		DonationCount:   store.ZeroBalance,
		DonationAccount: s.opts.defaultDonation,
	}
	return res, nil
}
