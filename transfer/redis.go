package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default RedisJournal settings.
const (
	DefaultJournalPrefix = "stakemail:transfer:"
	DefaultJournalTTL    = 7 * 24 * time.Hour
)

// Compile-time check
var _ Journal = (*RedisJournal)(nil)

// RedisJournal is a Journal shared by every process using the same Redis.
// Claims expire after the configured TTL.
type RedisJournal struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisJournalOption configures a RedisJournal.
type RedisJournalOption func(*RedisJournal)

// WithJournalPrefix sets the key prefix.
func WithJournalPrefix(prefix string) RedisJournalOption {
	return func(j *RedisJournal) {
		if prefix != "" {
			j.prefix = prefix
		}
	}
}

// WithJournalTTL sets how long a claim is remembered.
func WithJournalTTL(ttl time.Duration) RedisJournalOption {
	return func(j *RedisJournal) {
		if ttl > 0 {
			j.ttl = ttl
		}
	}
}

// NewRedisJournal creates a RedisJournal.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func NewRedisJournal(client redis.UniversalClient, opts ...RedisJournalOption) *RedisJournal {
	j := &RedisJournal{
		client: client,
		prefix: DefaultJournalPrefix,
		ttl:    DefaultJournalTTL,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *RedisJournal) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := j.client.SetNX(ctx, j.prefix+id.String(), time.Now().UTC().Format(time.RFC3339Nano), j.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim transfer %s: %w", id, err)
	}
	return ok, nil
}
