package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blacknred/mbroker/internal/brokererr"
	"github.com/blacknred/mbroker/internal/codec"
	"github.com/blacknred/mbroker/internal/logging"
	"github.com/blacknred/mbroker/internal/message"
)

// Config controls MessageStorage's buffering and flush behavior.
type Config struct {
	PersistThreshold time.Duration // coalescing window before a flush runs (default 100ms)
	ChunkSize        int           // max entries drained per flush tick (default 256)
	Persist          bool          // if false, flush is a no-op (in-memory only topic)
}

// entry is the in-buffer record for one message: encoded payload and
// metadata are kept separate (spec.md §4.1 rationale) so metadata updates
// (attempts, consumedAt, retention timers) never touch the write-once payload
// bytes.
type entry struct {
	payload []byte
	meta    []byte
}

// MessageStorage is the buffered write-through store of spec.md §4.1: writes
// land in an in-memory buffer immediately and are drained to a
// PersistentStore by a coalesced, chunked flush. Grounded on the teacher's
// cache.TieredCache (fast local tier + shared backing tier) but specialized
// for write-back instead of read-through.
type MessageStorage struct {
	topic string
	codec codec.Codec
	store PersistentStore
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	buf     map[uint64]*entry
	dirty   map[uint64]struct{} // ids not yet flushed since last write/update
	order   []uint64            // insertion order, for deterministic chunked draining

	flushMu      sync.Mutex
	flushPending bool
	flushTimer   *time.Timer

	errCh chan error
}

// New creates a MessageStorage for topic, backed by store.
func New(topic string, store PersistentStore, c codec.Codec, cfg Config) *MessageStorage {
	if cfg.PersistThreshold <= 0 {
		cfg.PersistThreshold = 100 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}
	return &MessageStorage{
		topic: topic,
		codec: c,
		store: store,
		cfg:   cfg,
		log:   logging.Op().With("component", "message_storage", "topic", topic),
		buf:   make(map[uint64]*entry),
		dirty: make(map[uint64]struct{}),
		errCh: make(chan error, 16),
	}
}

// Errors surfaces persistence failures (spec.md §7): storage-flush failures
// never remove entries from the in-memory buffer, but callers may want to
// know a flush is failing so they can back off or alert.
func (s *MessageStorage) Errors() <-chan error { return s.errCh }

func (s *MessageStorage) emitErr(err error) {
	select {
	case s.errCh <- err:
	default:
		// channel full: drop rather than block the topic loop.
	}
}

// WriteAll stores payload and meta, arms a deferred flush, and returns the
// current in-buffer count.
func (s *MessageStorage) WriteAll(payload any, meta *message.Metadata) (int, error) {
	encPayload, err := s.codec.Encode(payload)
	if err != nil {
		return 0, err
	}
	encMeta, err := s.codec.EncodeMetadata(meta)
	if err != nil {
		return 0, err
	}
	meta.Size = uint32(len(encPayload))

	s.mu.Lock()
	if _, exists := s.buf[meta.ID]; !exists {
		s.order = append(s.order, meta.ID)
	}
	s.buf[meta.ID] = &entry{payload: encPayload, meta: encMeta}
	s.dirty[meta.ID] = struct{}{}
	count := len(s.buf)
	s.mu.Unlock()

	s.scheduleFlush()
	return count, nil
}

// ReadAll returns the decoded payload and metadata for id, if present.
func (s *MessageStorage) ReadAll(id uint64) (any, *message.Metadata, bool) {
	s.mu.Lock()
	e, ok := s.buf[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	payload, err := s.codec.Decode(e.payload)
	if err != nil {
		return nil, nil, false
	}
	meta, err := s.codec.DecodeMetadata(e.meta)
	if err != nil {
		return nil, nil, false
	}
	return payload, meta, true
}

// ReadRaw returns the still-encoded payload and metadata bytes for id,
// without the decode ReadAll does. Used by the retention sweep to ship
// archived messages out without a decode/re-encode round trip.
func (s *MessageStorage) ReadRaw(id uint64) (payload []byte, meta []byte, ok bool) {
	s.mu.Lock()
	e, ok := s.buf[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	return e.payload, e.meta, true
}

// ReadMessage returns only the decoded payload for id.
func (s *MessageStorage) ReadMessage(id uint64) (any, bool) {
	payload, _, ok := s.ReadAll(id)
	return payload, ok
}

// ReadMetadata returns the decoded metadata for id. When keys is non-empty,
// only those fields are guaranteed populated (see codec.Codec.DecodeMetadata).
func (s *MessageStorage) ReadMetadata(id uint64, keys ...string) (*message.Metadata, bool) {
	s.mu.Lock()
	e, ok := s.buf[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	meta, err := s.codec.DecodeMetadata(e.meta, keys...)
	if err != nil {
		return nil, false
	}
	return meta, true
}

// UpdateMetadata read-modify-writes the encoded metadata for id atomically
// with respect to other updates to the same id (guarded by mu).
func (s *MessageStorage) UpdateMetadata(id uint64, patch codec.MetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.buf[id]
	if !ok {
		return brokererr.New(brokererr.NotFound, "message %d not buffered", id)
	}
	newMeta, err := s.codec.UpdateMetadata(e.meta, patch)
	if err != nil {
		return err
	}
	e.meta = newMeta
	s.dirty[id] = struct{}{}
	return nil
}

// Delete removes id from the buffer (and, best-effort, from the persistent
// store). Called once a message is fully consumed, DLQ'd after persistence,
// or archived.
func (s *MessageStorage) Delete(ctx context.Context, id uint64) {
	s.mu.Lock()
	delete(s.buf, id)
	delete(s.dirty, id)
	s.mu.Unlock()

	if s.store != nil {
		_ = s.store.Del(ctx, MessageKey(s.topic, id))
		_ = s.store.Del(ctx, MetadataKey(s.topic, id))
	}
}

// Count returns the current in-buffer entry count.
func (s *MessageStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// ForEachBuffered iterates every buffered id's decoded metadata in insertion
// order, used by the retention sweep (SPEC_FULL.md §12). Iteration stops
// early if fn returns false.
func (s *MessageStorage) ForEachBuffered(fn func(id uint64, meta *message.Metadata) bool) {
	s.mu.Lock()
	ids := append([]uint64(nil), s.order...)
	s.mu.Unlock()

	for _, id := range ids {
		meta, ok := s.ReadMetadata(id)
		if !ok {
			continue
		}
		if !fn(id, meta) {
			return
		}
	}
}

// scheduleFlush arms a deferred flush coalesced at cfg.PersistThreshold: a
// second call while one is already pending is a no-op (spec.md §9 "Deferred
// scheduling").
func (s *MessageStorage) scheduleFlush() {
	if !s.cfg.Persist {
		return
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.flushPending {
		return
	}
	s.flushPending = true
	s.flushTimer = time.AfterFunc(s.cfg.PersistThreshold, func() {
		s.flushMu.Lock()
		s.flushPending = false
		s.flushMu.Unlock()
		s.Flush(context.Background())
	})
}

// Flush drains at most cfg.ChunkSize dirty entries to the persistent store
// and reschedules itself while dirty entries remain. Failures are surfaced
// through Errors() and leave the in-memory buffer untouched (spec.md §7).
func (s *MessageStorage) Flush(ctx context.Context) error {
	if !s.cfg.Persist || s.store == nil {
		return nil
	}

	s.mu.Lock()
	ids := make([]uint64, 0, s.cfg.ChunkSize)
	for id := range s.dirty {
		ids = append(ids, id)
		if len(ids) >= s.cfg.ChunkSize {
			break
		}
	}
	type pair struct {
		id  uint64
		msg []byte
		md  []byte
	}
	batch := make([]pair, 0, len(ids))
	for _, id := range ids {
		e, ok := s.buf[id]
		if !ok {
			delete(s.dirty, id)
			continue
		}
		batch = append(batch, pair{id: id, msg: e.payload, md: e.meta})
	}
	remaining := len(s.dirty) > len(ids)
	s.mu.Unlock()

	var firstErr error
	flushed := make([]uint64, 0, len(batch))
	for _, p := range batch {
		if err := s.store.Put(ctx, MessageKey(s.topic, p.id), p.msg); err != nil {
			firstErr = brokererr.Wrap(brokererr.StorageFailure, err, "put message %d", p.id)
			s.emitErr(firstErr)
			continue
		}
		if err := s.store.Put(ctx, MetadataKey(s.topic, p.id), p.md); err != nil {
			firstErr = brokererr.Wrap(brokererr.StorageFailure, err, "put metadata %d", p.id)
			s.emitErr(firstErr)
			continue
		}
		flushed = append(flushed, p.id)
	}

	s.mu.Lock()
	for _, id := range flushed {
		delete(s.dirty, id)
	}
	stillDirty := len(s.dirty) > 0
	s.mu.Unlock()

	if stillDirty || remaining {
		s.scheduleFlush()
	}
	return firstErr
}

// Close cancels any pending flush timer.
func (s *MessageStorage) Close() {
	s.flushMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushMu.Unlock()
}
