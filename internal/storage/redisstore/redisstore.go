// Package redisstore is an optional storage.PersistentStore backed by Redis,
// grounded on the teacher's cache.RedisCache (internal/cache/redis.go):
// same client construction, key-prefix, and redis.Nil-to-not-found mapping.
//
// storage.PersistentStore additionally requires an ordered-key Range scan,
// which Redis has no native equivalent for. Range is adapted here with
// SCAN MATCH <prefix>* followed by an in-process sort of the matched keys,
// trading a single ordered cursor for an O(n log n) pass per call. Range is
// not called on the publish/consume path.
package redisstore

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/blacknred/mbroker/internal/brokererr"
)

// Config configures the Redis connection and key prefixing.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a storage.PersistentStore backed by a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// New dials a Redis client per cfg.
func New(cfg Config) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.KeyPrefix,
	}
}

// NewFromClient wraps an already-constructed client, e.g. one shared with
// other Redis-backed components.
func NewFromClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "redis set %q", key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "redis get %q", key)
	}
	return v, nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "redis del %q", key)
	}
	return nil
}

// Range scans every key matching prefix via SCAN, sorts the matches, and
// invokes fn in that order. Values are fetched with one GET per key.
func (s *Store) Range(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	full := s.key(prefix)
	var cursor uint64
	var rawKeys []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, full+"*", 256).Result()
		if err != nil {
			return brokererr.Wrap(brokererr.StorageFailure, err, "redis scan %q", prefix)
		}
		rawKeys = append(rawKeys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(rawKeys)

	for _, rk := range rawKeys {
		v, err := s.client.Get(ctx, rk).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return brokererr.Wrap(brokererr.StorageFailure, err, "redis get %q", rk)
		}
		if !fn(rk[len(s.prefix):], v) {
			break
		}
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "redis close")
	}
	return nil
}
