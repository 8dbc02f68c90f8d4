// Package kv is the KV-store adapter (component A): atomic counters with
// TTL (the daily LLM cost accumulator, §4.G budget) and plain get/set,
// backed by redis/go-redis/v9, plus an in-process Stub used by
// tests and by process wiring before Redis is available.
package kv

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
)

// Store is the minimal contract the daily cost circuit breaker needs:
// atomic increment-with-TTL, plus plain get/set for cached state.
type Store interface {
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
	GetFloat(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// RedisStore wraps redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisStoreWithClient wraps an already-configured client, the seam
// tests use to point a RedisStore at an in-process miniredis server.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying redis client so collaborators that need
// Redis primitives beyond Store (e.g. pkg/queue's sorted-set/hash dequeue)
// can share this connection pool instead of dialing a second one.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// IncrByFloat atomically adds delta to key and sets the key's TTL to ttl in
// the same transaction. The TTL is reset on every increment, so a key
// expires ttl after its last write.
func (s *RedisStore) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, apperrors.NetworkError("redis incrbyfloat", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	val, err := s.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.NetworkError("redis get", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.NetworkError("redis set", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NetworkError("redis get", key, err)
	}
	return val, true, nil
}

// Stub is an in-process Store for tests and pre-Redis wiring.
type Stub struct {
	mu      sync.Mutex
	floats  map[string]float64
	strings map[string]string
}

func NewStub() *Stub {
	return &Stub{floats: map[string]float64{}, strings: map[string]string{}}
}

func (s *Stub) IncrByFloat(_ context.Context, key string, delta float64, _ time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats[key] += delta
	return s.floats[key], nil
}

func (s *Stub) GetFloat(_ context.Context, key string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.floats[key]
	return v, ok, nil
}

func (s *Stub) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	return nil
}

func (s *Stub) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strings[key]
	return v, ok, nil
}
