// Package storage implements MessageStorage (spec.md §4.1): a buffered,
// write-through store for message payload and metadata that periodically
// flushes to a pluggable persistent key/value store. The persistent store
// itself is an out-of-scope external collaborator (spec.md §1); this package
// states only the contract (spec.md §6) plus a default in-memory
// implementation, with optional Redis- and Postgres-backed implementations in
// the redisstore and pgstore subpackages, and an S3-backed cold-archival hook
// in archivestore.
package storage

import (
	"context"
	"strconv"
)

// PersistentStore is the ordered-key key/value contract of spec.md §6.
// Keys are "<topic>/<id>" for messages and "<topic>/meta/<id>" for metadata
// blocks, constructed by callers (MessageStorage), not by implementations.
type PersistentStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	// Range iterates keys with the given prefix in key order, calling fn for
	// each. Range stops early if fn returns false.
	Range(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error
	Close() error
}

// MessageKey builds the persisted key for a message payload.
func MessageKey(topic string, id uint64) string {
	return topic + "/" + strconv.FormatUint(id, 10)
}

// MetadataKey builds the persisted key for a metadata block.
func MetadataKey(topic string, id uint64) string {
	return topic + "/meta/" + strconv.FormatUint(id, 10)
}
