package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists identities in a redis hash keyed by platform:value, so
// several processes can share one credential pool.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a RedisStore using the given client and hash key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "crawld:identities"
	}
	return &RedisStore{client: client, key: key}
}

// Load reads every identity from the hash.
func (s *RedisStore) Load(ctx context.Context) ([]Identity, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	ids := make([]Identity, 0, len(fields))
	for field, raw := range fields {
		var r record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode identity %s: %w", field, err)
		}
		ids = append(ids, r.identity())
	}
	return ids, nil
}

// Save replaces the hash with the given identity set.
func (s *RedisStore) Save(ctx context.Context, ids []Identity) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	for _, id := range ids {
		raw, err := json.Marshal(toRecord(id))
		if err != nil {
			return fmt.Errorf("encode identity %s: %w", id.Value, err)
		}
		pipe.HSet(ctx, s.key, id.Platform+":"+id.Value, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save identities: %w", err)
	}
	return nil
}
