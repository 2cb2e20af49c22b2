// Package sqlitestore persists cache tiers in a local SQLite file so a
// client-side cache survives restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mohammed-shakir/geonav-cache/internal/cache"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

var _ cache.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_tiers (
		name       TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		tier      TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     BLOB NOT NULL,
		stored_at TEXT NOT NULL,
		PRIMARY KEY (tier, key)
	)`,
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (s *Store) Get(ctx context.Context, tier, key string) ([]byte, bool, error) {
	start := time.Now()
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE tier = ? AND key = ?`, tier, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		observability.ObserveStoreOp("sqlite", "get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveStoreOp("sqlite", "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get %s: %w", tier, err)
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, tier, key string, val []byte) error {
	start := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts := now()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache_tiers (name, created_at) VALUES (?, ?)`, tier, ts,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cache_entries (tier, key, value, stored_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (tier, key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
			tier, key, val, ts,
		)
		return err
	})
	observability.ObserveStoreOp("sqlite", "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", tier, err)
	}
	return nil
}

func (s *Store) CreateTier(ctx context.Context, tier string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_tiers (name, created_at) VALUES (?, ?)`, tier, now(),
	)
	observability.ObserveStoreOp("sqlite", "create_tier", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sqlite create tier %s: %w", tier, err)
	}
	return nil
}

func (s *Store) Tiers(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := s.tiers(ctx)
	observability.ObserveStoreOp("sqlite", "tiers", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("sqlite list tiers: %w", err)
	}
	return names, nil
}

func (s *Store) tiers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_tiers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) DropTier(ctx context.Context, tier string) error {
	start := time.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE tier = ?`, tier); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_tiers WHERE name = ?`, tier)
		return err
	})
	observability.ObserveStoreOp("sqlite", "drop", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sqlite drop tier %s: %w", tier, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
