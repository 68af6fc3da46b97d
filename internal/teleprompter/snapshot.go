package teleprompter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "teleprompter:session:"

// SnapshotStore persists ActiveSession blobs in the shared key/value store so
// a restarted process can detect sessions its predecessor left behind.
type SnapshotStore struct {
	rdb *redis.Client
}

// NewSnapshotStore wires the store to Redis.
func NewSnapshotStore(rdb *redis.Client) *SnapshotStore {
	return &SnapshotStore{rdb: rdb}
}

func sessionKey(presentationID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(presentationID, 10)
}

// Load returns the session for a presentation, or nil when none exists.
func (s *SnapshotStore) Load(ctx context.Context, presentationID int64) (*ActiveSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(presentationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", presentationID, err)
	}
	var sess ActiveSession
	if err := sess.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", presentationID, err)
	}
	return &sess, nil
}

// Save writes the session blob, last writer wins.
func (s *SnapshotStore) Save(ctx context.Context, sess *ActiveSession) error {
	raw, err := sess.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode session %d: %w", sess.PresentationID, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.PresentationID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save session %d: %w", sess.PresentationID, err)
	}
	return nil
}

// Delete removes the session blob.
func (s *SnapshotStore) Delete(ctx context.Context, presentationID int64) error {
	if err := s.rdb.Del(ctx, sessionKey(presentationID)).Err(); err != nil {
		return fmt.Errorf("delete session %d: %w", presentationID, err)
	}
	return nil
}

// All scans for every persisted session. Used by the orphan sweep on start.
func (s *SnapshotStore) All(ctx context.Context) ([]*ActiveSession, error) {
	var sessions []*ActiveSession
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, sessionKeyPrefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, sessionKeyPrefix), 10, 64)
		if err != nil {
			continue
		}
		sess, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return sessions, nil
}
