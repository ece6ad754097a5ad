package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"stochroc/internal/indicator"
)

// SnapshotStore keeps the latest engine checkpoint under one key. SQLite
// holds the durable history; this copy is the fast path on restart.
type SnapshotStore struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotStore uses key with the given TTL (0 means 24h).
func NewSnapshotStore(client *goredis.Client, key string, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotStore{client: client, key: key, ttl: ttl}
}

// ReadLatestSnapshot returns nil, nil when no checkpoint exists.
func (s *SnapshotStore) ReadLatestSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "redis get snapshot %s", s.key)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

// SaveSnapshot overwrites the checkpoint.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set snapshot %s", s.key)
	}
	return nil
}
