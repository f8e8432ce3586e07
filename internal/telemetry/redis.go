package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisListCap bounds the persisted record list per store.
const redisListCap = 10000

// RedisBackend persists telemetry records to Redis lists, one per
// store, capped at redisListCap entries. Pluggable via the Collector's
// Backend interface.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to Redis at addr (e.g. "localhost:6379").
func NewRedisBackend(addr, password string, db int, prefix string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "ricesearch"
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

// Persist implements Backend.
func (b *RedisBackend) Persist(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s:telemetry:%s", b.prefix, rec.Store)
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, redisListCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

var _ Backend = (*RedisBackend)(nil)
