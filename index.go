package stakemail

import (
	"context"
	"fmt"
	"slices"

	"github.com/rbaliyan/stakemail/store"
)

// recordMail adds id to the sender's and the receiver's sets.
func recordMail(ctx context.Context, tx store.Tx, sender, receiver string, id store.ID) error {
	if err := tx.AddToIndex(ctx, store.IndexSender, sender, id); err != nil {
		return fmt.Errorf("index sender: %w", err)
	}
	if err := tx.AddToIndex(ctx, store.IndexReceiver, receiver, id); err != nil {
		return fmt.Errorf("index receiver: %w", err)
	}
	return nil
}

// listIndexed resolves every id in one of the account's sets.
//
// Ids that no longer resolve are skipped. They are expected when index
// pruning is off, and can be inherited from data migrated from the old
// layout, which never pruned.
func (s *service) listIndexed(ctx context.Context, tx store.Tx, kind store.IndexKind, account string) ([]Message, error) {
	ids, err := tx.IndexMembers(ctx, kind, account)
	if err != nil {
		return nil, fmt.Errorf("%s index members: %w", kind, err)
	}
	slices.SortFunc(ids, func(a, b store.ID) int { return a.Cmp(b) })

	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, err := readMail(ctx, tx, id)
		if store.IsNotFound(err) {
			if s.opts.pruneIndexes {
				s.logger.Warn("index references a missing message", "index", kind, "account", account, "message_id", id.String())
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
