// Package kv implements the persistent key-value store collaborator.
//
// Values are opaque byte slices addressed by namespace. The offline queue
// keeps its JSON array under one namespace and the session token under
// another. Implementations:
//   - MemoryStore: process-local, for tests and ephemeral runs
//   - FileStore: one file per namespace, guarded by a cross-process lock
//   - RedisStore: one key per namespace under a prefix
//   - PostgresStore: one row per namespace in kv_store
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Store persists namespaced values.
type Store interface {
	// Read returns the value for ns. ok is false when nothing is stored.
	Read(ctx context.Context, ns string) (value []byte, ok bool, err error)
	// Write replaces the value for ns.
	Write(ctx context.Context, ns string, value []byte) error
	// Remove deletes ns. Removing a missing namespace is not an error.
	Remove(ctx context.Context, ns string) error
	// Update replaces the value for ns with fn's result while no other
	// writer, in this process or another sharing the store, can change it.
	Update(ctx context.Context, ns string, fn UpdateFunc) error
}

// UpdateFunc computes the next value of a namespace from the current one.
// ok is false when nothing is stored. Returning a nil value removes the
// namespace; returning an error aborts the update.
type UpdateFunc func(current []byte, ok bool) (next []byte, err error)

// Closer is implemented by stores holding connections or locks.
type Closer interface {
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned by Open for an unsupported driver.
var ErrUnknownDriver = errors.New("kv: unknown driver")

// Config selects and configures a store.
type Config struct {
	Driver string
	Dir    string // file

	RedisURL      string
	RedisPassword string
	RedisPrefix   string

	DatabaseURL string
	MaxConns    int
	MinConns    int
}

// Open creates the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		return NewFileStore(cfg.Dir)
	case DriverRedis:
		return NewRedisStore(ctx, RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisPrefix,
		})
	case DriverPostgres:
		return NewPostgresStore(ctx, PostgresConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

// Close closes s if it holds resources.
func Close(s Store) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}
