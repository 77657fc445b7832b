package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// client captures the subset of go-redis commands we rely on (for easier testing).
type client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisStore caches command results in Redis so deduplication survives
// restarts and is shared across processes. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client    client
	ownClient bool
	prefix    string
	ttl       time.Duration
}

// RedisConfig describes how the store connects and behaves.
type RedisConfig struct {
	// Client is an existing go-redis client to reuse. When nil, a client is
	// created from Addr and owned (closed) by the store.
	Client redis.UniversalClient

	Addr     string
	Username string
	Password string
	DB       int

	// Prefix namespaces the keys. Defaults to "idempotency:".
	Prefix string

	// TTL is the entry lifetime. Defaults to DefaultTTL.
	TTL time.Duration
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "idempotency:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	var cl client
	var own bool
	switch {
	case cfg.Client != nil:
		cl = cfg.Client
	case cfg.Addr != "":
		cl = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		own = true
	default:
		return nil, errors.New("idempotency: redis client or address required")
	}

	return &RedisStore{client: cl, ownClient: own, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

// Get returns the cached result for a key.
func (s *RedisStore) Get(ctx context.Context, key string) (*eventsourcing.CommandResult, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eventsourcing.Transient(fmt.Errorf("idempotency get %q: %w", key, err))
	}

	var result eventsourcing.CommandResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("idempotency decode %q: %w", key, err)
	}
	return &result, true, nil
}

// Put caches a result under a key with the store's TTL.
func (s *RedisStore) Put(ctx context.Context, key string, result *eventsourcing.CommandResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency encode %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return eventsourcing.Transient(fmt.Errorf("idempotency put %q: %w", key, err))
	}
	return nil
}

// Close closes the underlying client if the store owns it.
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
