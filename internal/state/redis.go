package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "enginegate:state:"

// RedisStore persists snapshots in Redis, one JSON value per snapshot.
// Suitable when several gateway replicas need to share saved state.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("state: redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Save implements Store.Save.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) (string, error) {
	stamp(snap)

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("state: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+snap.ID, data, 0).Err(); err != nil {
		return "", fmt.Errorf("state: redis set: %w", err)
	}
	return snap.ID, nil
}

// Load implements Store.Load.
func (s *RedisStore) Load(ctx context.Context, snapshotID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+snapshotID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("state: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List implements Store.List.
func (s *RedisStore) List(ctx context.Context) ([]*Snapshot, error) {
	var out []*Snapshot
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // deleted between scan and get
			}
			return nil, fmt.Errorf("state: redis get: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out = append(out, &snap)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("state: redis scan: %w", err)
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, snapshotID string) error {
	n, err := s.client.Del(ctx, redisKeyPrefix+snapshotID).Result()
	if err != nil {
		return fmt.Errorf("state: redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
