package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys written by RedisStore.
const DefaultRedisPrefix = "resilient:"

const maxUpdateAttempts = 10

// ErrUpdateConflict is returned when a namespace kept changing under Update.
var ErrUpdateConflict = errors.New("kv: concurrent update conflict")

type watcher interface {
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string
	Password string
	Prefix   string
}

// RedisStore keeps each namespace under <prefix><ns>.
type RedisStore struct {
	rdb    redis.Cmdable
	closer func() error
	prefix string
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreFromClient(rdb, cfg.Prefix)
	s.closer = rdb.Close
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) key(ns string) string {
	return r.prefix + ns
}

func (r *RedisStore) Read(ctx context.Context, ns string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, r.key(ns)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return val, true, nil
}

func (r *RedisStore) Write(ctx context.Context, ns string, value []byte) error {
	if err := r.rdb.Set(ctx, r.key(ns), value, 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, ns string) error {
	if err := r.rdb.Del(ctx, r.key(ns)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// Update runs fn inside WATCH/MULTI and retries when the key changed
// concurrently. Clients that cannot WATCH fall back to read then write.
func (r *RedisStore) Update(ctx context.Context, ns string, fn UpdateFunc) error {
	w, ok := r.rdb.(watcher)
	if !ok {
		cur, ok, err := r.Read(ctx, ns)
		if err != nil {
			return err
		}
		next, err := fn(cur, ok)
		if err != nil {
			return err
		}
		if next == nil {
			return r.Remove(ctx, ns)
		}
		return r.Write(ctx, ns, next)
	}

	key := r.key(ns)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists, err = false, nil
		}
		if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, next, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := w.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrUpdateConflict, ns)
}

// Close closes the connection if the store opened it.
func (r *RedisStore) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
