package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints to Redis. Envelopes live in plain
// keys, with a per-thread sorted set (scored by creation time) for
// ordering and a hash of Info records for cheap listing.
//
// The client is injected and remains owned by the caller: Close marks
// the store closed but does not close the client.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore creates a Redis checkpoint store backed by the given
// client. keyPrefix namespaces all keys; empty means "stategraph:".
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "stategraph:"
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) dataKey(threadID, id string) string {
	return s.prefix + "cp:" + threadID + ":" + id
}

func (s *RedisStore) indexKey(threadID string) string {
	return s.prefix + "thread:" + threadID
}

func (s *RedisStore) infoKey(threadID string) string {
	return s.prefix + "info:" + threadID
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, info Info, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	info.Size = int64(len(data))
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal checkpoint info: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(info.ThreadID, info.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(info.ThreadID), redis.Z{
		Score:  float64(info.CreatedAt.UnixNano()),
		Member: info.ID,
	})
	pipe.HSet(ctx, s.infoKey(info.ThreadID), info.ID, infoJSON)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, threadID, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := s.client.Get(ctx, s.dataKey(threadID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return data, nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, threadID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.dataKey(threadID, ids[0])).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return []Info{}, nil
	}

	raw, err := s.client.HGetAll(ctx, s.infoKey(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoint infos: %w", err)
	}

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		encoded, ok := raw[id]
		if !ok {
			continue
		}
		var info Info
		if err := json.Unmarshal([]byte(encoded), &info); err != nil {
			return nil, fmt.Errorf("decode checkpoint info %s: %w", id, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(threadID, id))
	pipe.ZRem(ctx, s.indexKey(threadID), id)
	pipe.HDel(ctx, s.infoKey(threadID), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}

	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, s.dataKey(threadID, id))
	}
	keys = append(keys, s.indexKey(threadID), s.infoKey(threadID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store. The injected client stays open; closing it is
// the caller's responsibility.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
