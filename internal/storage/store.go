// Package storage backs the conditional cache with PostgreSQL when a DSN is
// configured. The byte budget is enforced here so the cache layer sees the
// same quota fault regardless of which store backs it.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/credit-markets/vitalfi-data/internal/cache"
	"github.com/credit-markets/vitalfi-data/internal/config"
)

const (
	createCacheTableSQL = `CREATE TABLE IF NOT EXISTS http_cache (
        key        TEXT PRIMARY KEY,
        value      BYTEA NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	getEntrySQL = `SELECT value FROM http_cache WHERE key = $1;`

	upsertEntrySQL = `INSERT INTO http_cache (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, updated_at = now();`

	removeEntrySQL = `DELETE FROM http_cache WHERE key = $1;`

	listKeysSQL = `SELECT key FROM http_cache;`

	usedBytesSQL = `SELECT COALESCE(SUM(length(value)), 0) FROM http_cache WHERE key <> $1;`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// CacheStore implements cache.Store over a pgx pool with a byte budget.
type CacheStore struct {
	pool   *pgxpool.Pool
	budget int64
}

// NewCacheStore wires a pool into a CacheStore. A non-positive budget
// disables the quota.
func NewCacheStore(pool *pgxpool.Pool, budget int64) *CacheStore {
	return &CacheStore{pool: pool, budget: budget}
}

// EnsureSchema creates the cache table if missing.
func (s *CacheStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createCacheTableSQL); err != nil {
		return fmt.Errorf("ensure cache schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CacheStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, getEntrySQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}
	return value, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte) error {
	if s.budget > 0 {
		var used int64
		if err := s.pool.QueryRow(ctx, usedBytesSQL, key).Scan(&used); err != nil {
			return fmt.Errorf("measure cache usage: %w", err)
		}
		if used+int64(len(value)) > s.budget {
			return cache.ErrQuotaExceeded
		}
	}

	if _, err := s.pool.Exec(ctx, upsertEntrySQL, key, value); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, removeEntrySQL, key); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, listKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return keys, nil
}

var _ cache.Store = (*CacheStore)(nil)
