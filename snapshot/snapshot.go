// Package snapshot archives a legacy layout before it is migrated.
//
// A snapshot is the complete V1 state encoded with msgpack. Sinks store
// the encoded bytes under a generated key and return a URI that can be
// passed back to Get. Implementations live in snapshot/s3 and
// snapshot/gcs; MemorySink is provided for tests.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rbaliyan/stakemail/store"
)

// ContentType is the media type of encoded snapshots.
const ContentType = "application/msgpack"

// ErrNotFound is returned by Get when no snapshot exists at the URI.
var ErrNotFound = errors.New("snapshot: not found")

// Sink stores encoded snapshots.
type Sink interface {
	// Put stores data under key and returns a URI for it.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the bytes stored at uri.
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Key returns a unique object key for a snapshot taken at t, partitioned
// by date under prefix.
func Key(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, t.Format("2006/01/02"), fmt.Sprintf("layout-v1-%s.msgpack", uuid.New()))
}

// snapshotWire is the persisted shape. 128-bit values are strings and
// emails keep their own versioned encoding.
type snapshotWire struct {
	Accounts   map[string][2]string `msgpack:"a"`
	Senders    map[string][]string  `msgpack:"s"`
	Receivers  map[string][]string  `msgpack:"r"`
	Emails     map[string][]byte    `msgpack:"e"`
	EmailCount string               `msgpack:"n"`
}

// Encode serializes a V1 layout.
func Encode(s *store.LayoutStateV1) ([]byte, error) {
	w := snapshotWire{
		Accounts:   make(map[string][2]string, len(s.Accounts)),
		Senders:    encodeIndex(s.Senders),
		Receivers:  encodeIndex(s.Receivers),
		Emails:     make(map[string][]byte, len(s.Emails)),
		EmailCount: s.EmailCount.String(),
	}
	for id, a := range s.Accounts {
		w.Accounts[id] = [2]string{a.Deposited.String(), a.Consumed.String()}
	}
	for id, e := range s.Emails {
		b, err := store.EncodeEmail(e)
		if err != nil {
			return nil, err
		}
		w.Emails[store.IDKey(id)] = b
	}

	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*store.LayoutStateV1, error) {
	var w snapshotWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptRecord, err)
	}

	count, err := store.ParseBalance(w.EmailCount)
	if err != nil {
		return nil, err
	}
	out := &store.LayoutStateV1{
		Accounts:   make(map[string]store.Account, len(w.Accounts)),
		Emails:     make(map[store.ID]store.Versioned, len(w.Emails)),
		EmailCount: count,
	}
	for id, pair := range w.Accounts {
		dep, err := store.ParseBalance(pair[0])
		if err != nil {
			return nil, err
		}
		con, err := store.ParseBalance(pair[1])
		if err != nil {
			return nil, err
		}
		out.Accounts[id] = store.Account{Deposited: dep, Consumed: con}
	}
	for key, b := range w.Emails {
		id, err := store.ParseIDKey(key)
		if err != nil {
			return nil, err
		}
		e, err := store.DecodeEmail(b)
		if err != nil {
			return nil, err
		}
		out.Emails[id] = e
	}
	if out.Senders, err = decodeIndex(w.Senders); err != nil {
		return nil, err
	}
	if out.Receivers, err = decodeIndex(w.Receivers); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeIndex(in map[string][]store.ID) map[string][]string {
	out := make(map[string][]string, len(in))
	for account, ids := range in {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = store.IDKey(id)
		}
		out[account] = keys
	}
	return out
}

func decodeIndex(in map[string][]string) (map[string][]store.ID, error) {
	out := make(map[string][]store.ID, len(in))
	for account, keys := range in {
		ids := make([]store.ID, len(keys))
		for i, k := range keys {
			id, err := store.ParseIDKey(k)
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}
		out[account] = ids
	}
	return out, nil
}

// Archive encodes s and stores it in sink under a key generated from
// prefix and now. It returns the URI of the stored snapshot.
func Archive(ctx context.Context, sink Sink, prefix string, now time.Time, s *store.LayoutStateV1) (string, error) {
	data, err := Encode(s)
	if err != nil {
		return "", err
	}
	uri, err := sink.Put(ctx, Key(prefix, now), data)
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

// Load fetches and decodes the snapshot at uri.
func Load(ctx context.Context, sink Sink, uri string) (*store.LayoutStateV1, error) {
	data, err := sink.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
