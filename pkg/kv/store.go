// Package kv provides a typed gateway over a shared ordered/set/list backing
// store with TTL, normalizing the underlying store's errors so callers never
// see a redis.Nil or network error directly: a missing key becomes
// ErrNotFound and every other failure, server error replies included,
// becomes ErrTransientFailure. ErrPermanentFailure is declared, but no
// operation returns it.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound          = errors.New("kv: not found")
	ErrTransientFailure  = errors.New("kv: transient failure")
	ErrPermanentFailure  = errors.New("kv: permanent failure")
)

// Store is the minimal semantic surface every component depends on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ListPushLeft(ctx context.Context, key, value string) error
	ListPopRight(ctx context.Context, key string) (string, error)
	SetAdd(ctx context.Context, setKey, member string) error
	SetRemove(ctx context.Context, setKey, member string) error
	SetMembers(ctx context.Context, setKey string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RedisStore is the production Store backed by redis/go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials a redis instance from a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by tests
// that back the store with miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransientFailure, err)
	}
	return fmt.Errorf("%w: %v", ErrTransientFailure, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", classify(err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RedisStore) ListPushLeft(ctx context.Context, key, value string) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RedisStore) ListPopRight(ctx context.Context, key string) (string, error) {
	v, err := s.client.RPop(ctx, key).Result()
	if err != nil {
		return "", classify(err)
	}
	return v, nil
}

func (s *RedisStore) SetAdd(ctx context.Context, setKey, member string) error {
	if err := s.client.SAdd(ctx, setKey, member).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RedisStore) SetRemove(ctx context.Context, setKey, member string) error {
	if err := s.client.SRem(ctx, setKey, member).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, classify(err)
	}
	return members, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return d, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
