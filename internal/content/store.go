// Package content buffers in-flight edits to part fields in Redis before
// they are durably persisted. Entries are versioned; dirty entries are
// tracked in a sorted set scored by last-touch time so the flush worker can
// pick up everything that has gone quiet.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix  = "editing:part:"
	pendingKey = "editing:part:pending"

	flushMaxRetries = 3
)

// Key identifies one editable field of one part.
type Key struct {
	PartID int64
	Field  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, k.PartID, k.Field)
}

func parseKey(s string) (Key, error) {
	rest, ok := strings.CutPrefix(s, keyPrefix)
	if !ok {
		return Key{}, fmt.Errorf("unexpected cache key %q", s)
	}
	idStr, field, ok := strings.Cut(rest, ":")
	if !ok {
		return Key{}, fmt.Errorf("unexpected cache key %q", s)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("unexpected cache key %q: %w", s, err)
	}
	return Key{PartID: id, Field: field}, nil
}

// Snapshot is the cached state of one field.
type Snapshot struct {
	Content string `json:"content"`
	Version int    `json:"version"`
}

// Durable is the slice of the durable store the cache reads through and
// flushes into.
type Durable interface {
	Field(ctx context.Context, partID int64, field string) (string, error)
	SaveField(ctx context.Context, partID int64, field string, content string) error
}

// LivenessFunc reports whether the presentation owning a part currently has
// an unterminated rehearsal session. Live text stays provisional: it is not
// flushed until the session ends.
type LivenessFunc func(ctx context.Context, partID int64) (bool, error)

// Store is the Redis-backed ephemeral content store.
type Store struct {
	rdb     *redis.Client
	durable Durable
	live    LivenessFunc
	log     zerolog.Logger
	now     func() time.Time
}

// NewStore wires a store to Redis and the durable source.
func NewStore(rdb *redis.Client, durable Durable, live LivenessFunc, log zerolog.Logger) *Store {
	return &Store{rdb: rdb, durable: durable, live: live, log: log, now: time.Now}
}

// Read returns the cached snapshot for the key, falling back to the durable
// store with version 0 when there is no cache entry. A miss does not
// populate the cache; entries are created lazily on first write.
func (s *Store) Read(ctx context.Context, key Key) (Snapshot, error) {
	raw, err := s.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		content, err := s.durable.Field(ctx, key.PartID, key.Field)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Content: content, Version: 0}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read cache entry: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return snap, nil
}

// Write upserts the cache entry and marks it dirty with the current time.
func (s *Store) Write(ctx context.Context, key Key, content string, version int) error {
	raw, err := json.Marshal(Snapshot{Content: content, Version: version})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.rdb.Set(ctx, key.String(), raw, 0).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	err = s.rdb.ZAdd(ctx, pendingKey, redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: key.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("mark entry dirty: %w", err)
	}
	return nil
}

// ListStaleSince returns dirty keys whose last touch is at or before cutoff.
func (s *Store) ListStaleSince(ctx context.Context, cutoff time.Time) ([]Key, error) {
	members, err := s.rdb.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list dirty keys: %w", err)
	}
	keys := make([]Key, 0, len(members))
	for _, m := range members {
		key, err := parseKey(m)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping unparseable dirty key")
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Flush writes the cached content for key to the durable store and clears
// the dirty marker. Flushing a key with no dirty marker is a no-op. A key
// whose presentation is currently live is skipped, marker intact, so a later
// flush picks it up after the session ends.
func (s *Store) Flush(ctx context.Context, key Key) error {
	_, err := s.rdb.ZScore(ctx, pendingKey, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check dirty marker: %w", err)
	}

	live, err := s.live(ctx, key.PartID)
	if err != nil {
		return fmt.Errorf("check liveness: %w", err)
	}
	if live {
		s.log.Debug().Int64("part_id", key.PartID).Str("field", key.Field).
			Msg("presentation live, deferring flush")
		return nil
	}

	raw, err := s.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		// Entry vanished; nothing left to persist.
		return s.clearDirty(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("read cache entry: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode cache entry: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), flushMaxRetries), ctx)
	err = backoff.Retry(func() error {
		return s.durable.SaveField(ctx, key.PartID, key.Field, snap.Content)
	}, policy)
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return s.clearDirty(ctx, key)
}

// FlushStale flushes every dirty key untouched since cutoff, logging and
// continuing past individual failures.
func (s *Store) FlushStale(ctx context.Context, cutoff time.Time) {
	keys, err := s.ListStaleSince(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("list stale keys")
		return
	}
	for _, key := range keys {
		if err := s.Flush(ctx, key); err != nil {
			s.log.Error().Err(err).Int64("part_id", key.PartID).Str("field", key.Field).
				Msg("flush failed")
		}
	}
}

// RunFlushLoop flushes on a fixed interval until ctx is cancelled, then makes
// a final pass over everything still dirty.
func (s *Store) RunFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.FlushStale(context.Background(), s.now())
			return
		case <-ticker.C:
			s.FlushStale(ctx, s.now().Add(-interval))
		}
	}
}

func (s *Store) clearDirty(ctx context.Context, key Key) error {
	if err := s.rdb.ZRem(ctx, pendingKey, key.String()).Err(); err != nil {
		return fmt.Errorf("clear dirty marker: %w", err)
	}
	return nil
}
