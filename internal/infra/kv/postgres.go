package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// PostgresStore keeps one row per namespace in kv_store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens the database, applies migrations and returns the store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}

func (p *PostgresStore) Read(ctx context.Context, ns string) ([]byte, bool, error) {
	var value []byte
	err := p.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE namespace = $1`, ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", ns, err)
	}
	return value, true, nil
}

func (p *PostgresStore) Write(ctx context.Context, ns string, value []byte) error {
	return upsert(ctx, p.db, ns, value)
}

func upsert(ctx context.Context, db sqlx.ExecerContext, ns string, value []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv_store (namespace, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (namespace) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		ns, value,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", ns, err)
	}
	return nil
}

func (p *PostgresStore) Remove(ctx context.Context, ns string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = $1`, ns); err != nil {
		return fmt.Errorf("delete %s: %w", ns, err)
	}
	return nil
}

// Update serializes writers of ns with a transaction-scoped advisory lock,
// which also covers namespaces that have no row yet.
func (p *PostgresStore) Update(ctx context.Context, ns string, fn UpdateFunc) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", ns, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ns); err != nil {
		return fmt.Errorf("lock %s: %w", ns, err)
	}

	var cur []byte
	ok := true
	err = tx.GetContext(ctx, &cur, `SELECT value FROM kv_store WHERE namespace = $1`, ns)
	if errors.Is(err, sql.ErrNoRows) {
		ok, err = false, nil
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", ns, err)
	}

	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if next == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = $1`, ns); err != nil {
			return fmt.Errorf("delete %s: %w", ns, err)
		}
	} else if err := upsert(ctx, tx, ns, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s: %w", ns, err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
