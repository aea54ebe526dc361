// Package pgstore is an optional storage.PersistentStore backed by Postgres,
// grounded on the teacher's store.PostgresStore (internal/store/postgres.go):
// same pgxpool construction, Ping-then-ensureSchema bootstrap, and
// ON CONFLICT upsert style. Where the teacher models several domain-specific
// tables, pgstore collapses to the single ordered key/value table the
// storage.PersistentStore contract needs.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blacknred/mbroker/internal/brokererr"
)

// Store is a storage.PersistentStore backed by a Postgres table.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New connects to dsn and ensures the backing table exists. table defaults
// to "mbroker_kv" when empty.
func New(ctx context.Context, dsn, table string) (*Store, error) {
	if dsn == "" {
		return nil, brokererr.New(brokererr.InvalidArgument, "postgres dsn is required")
	}
	if table == "" {
		table = "mbroker_kv"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "create postgres pool")
	}

	s := &Store{pool: pool, table: table}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "ping postgres")
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		key   TEXT PRIMARY KEY,
		value BYTEA NOT NULL
	)`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "ensure schema")
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "put %q", key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM `+s.table+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "get %q", key)
	}
	return value, nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "del %q", key)
	}
	return nil
}

// Range iterates keys with the given prefix in key order. Postgres' text
// ordering on the indexed primary key makes this a plain indexed range scan,
// unlike the SCAN-plus-sort adaptation redisstore needs.
func (s *Store) Range(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM `+s.table+`
		WHERE key LIKE $1
		ORDER BY key ASC
	`, prefix+"%")
	if err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "range %q", prefix)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return brokererr.Wrap(brokererr.StorageFailure, err, "range scan %q", prefix)
		}
		if !fn(key, value) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "range rows %q", prefix)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
