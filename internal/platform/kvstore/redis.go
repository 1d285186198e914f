package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultUpdateAttempts = 8

// RedisConfig configures the Redis backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	attempts int
}

// RedisOption customises RedisStore.
type RedisOption func(*RedisStore)

// WithUpdateAttempts overrides how many WATCH conflicts Update tolerates.
func WithUpdateAttempts(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// NewRedisClient dials Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("kvstore: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailableError("ping", err)
	}
	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("kvstore: redis client is required")
	}
	store := &RedisStore{
		client:   client,
		prefix:   strings.TrimSpace(prefix),
		attempts: defaultUpdateAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the raw value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFoundError("get")
	}
	if err != nil {
		return nil, unavailableError("get", err)
	}
	return value, nil
}

// Set writes value with an optional TTL (zero means no expiry).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailableError("set", err)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailableError("delete", err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when the key changes underneath.
// Errors returned by fn are passed through unchanged.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	if fn == nil {
		return errors.New("kvstore: update function is required")
	}
	fullKey := s.key(key)

	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, fullKey)
				return nil
			}
			pipe.Set(ctx, fullKey, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, fullKey)
		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return unavailableError("update", err)
		}
	}
	return conflictError("update", redis.TxFailedErr)
}

// Ping checks connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return unavailableError("ping", s.client.Ping(ctx).Err())
}

var _ Store = (*RedisStore)(nil)
