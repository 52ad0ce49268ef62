package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the IDs in a single Redis set.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password string, db int, key string) *RedisStore {
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisStore(rdb, key)
}

func newRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "paperwatch:seen"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (Set, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return NewSet(), fmt.Errorf("store: redis smembers failure: %w", err)
	}
	return NewSet(members...), nil
}

func (s *RedisStore) Save(ctx context.Context, ids Set) error {
	if ids.Len() == 0 {
		return nil
	}
	sorted := ids.Sorted()
	members := make([]interface{}, len(sorted))
	for i, id := range sorted {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("store: redis sadd failure: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
