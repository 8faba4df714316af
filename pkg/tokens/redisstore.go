package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCacheKey is the redis key the token record is cached under.
	DefaultCacheKey = "focuskit:token"

	// DefaultCacheTTL keeps the cached record around long enough to cover
	// the refresh token, which outlives any single access token.
	DefaultCacheTTL = 24 * time.Hour
)

// RedisStore caches the token record in redis. It is a performance layer in
// front of the durable store, not a source of truth; entries expire on their
// own and the durable store wins whenever the two disagree.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithCacheKey overrides the redis key.
func WithCacheKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithCacheTTL overrides the cache entry lifetime.
func WithCacheTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore creates a redis-backed cache store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    DefaultCacheKey,
		ttl:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context) (*Token, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached token: %w", err)
	}

	var token Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("decoding cached token: %w", err)
	}
	return &token, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, token *Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token for cache: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("caching token: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing cached token: %w", err)
	}
	return nil
}

// Ping reports whether redis is reachable. Used by health diagnostics.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
