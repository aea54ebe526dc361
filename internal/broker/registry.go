package broker

import (
	"sync"

	"github.com/blacknred/mbroker/internal/brokererr"
	"github.com/blacknred/mbroker/internal/codec"
	"github.com/blacknred/mbroker/internal/config"
	"github.com/blacknred/mbroker/internal/storage"
)

// Validator checks encoded payload bytes against a named JSON schema,
// returning a non-nil error describing the first violation. Schema
// validation itself (spec.md §6) is an out-of-scope external collaborator;
// SchemaRegistry only holds the name -> Validator mapping Topic consults.
type Validator func(encoded []byte) error

// SchemaRegistry is the process-wide JSON-schema-name directory of
// spec.md §6.
type SchemaRegistry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewSchemaRegistry builds an empty SchemaRegistry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{validators: make(map[string]Validator)}
}

// Register binds name to v, replacing any existing binding.
func (r *SchemaRegistry) Register(name string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
}

// Get returns the Validator bound to name, if any.
func (r *SchemaRegistry) Get(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	return v, ok
}

// TopicRegistry is the process-wide named-topic directory of spec.md §2/§5:
// one Topic per name, created on demand and looked up by every client-facing
// operation.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]*Topic

	store    storage.PersistentStore
	codec    codec.Codec
	schemas  *SchemaRegistry
	archiver Archiver
}

// NewTopicRegistry builds an empty TopicRegistry. store defaults to an
// in-memory store and cdc to codec.New() if nil; schemas may be nil if no
// topic names a schema.
func NewTopicRegistry(store storage.PersistentStore, cdc codec.Codec, schemas *SchemaRegistry) *TopicRegistry {
	if store == nil {
		store = storage.NewMemStore()
	}
	if cdc == nil {
		cdc = codec.New()
	}
	return &TopicRegistry{
		topics:  make(map[string]*Topic),
		store:   store,
		codec:   cdc,
		schemas: schemas,
	}
}

// SetArchiver configures the cold-archival hook every subsequently created
// topic's retention sweep will use. Does not affect topics already created.
func (r *TopicRegistry) SetArchiver(a Archiver) {
	r.mu.Lock()
	r.archiver = a
	r.mu.Unlock()
}

// CreateTopic creates and registers a new named topic, or returns
// brokererr.AlreadyExists if name is already taken.
func (r *TopicRegistry) CreateTopic(name string, cfg config.TopicConfig) (*Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.topics[name]; exists {
		return nil, brokererr.New(brokererr.AlreadyExists, "topic %q already exists", name)
	}
	t, err := NewTopic(name, cfg, r.store, r.codec, r.schemas)
	if err != nil {
		return nil, err
	}
	if r.archiver != nil {
		t.SetArchiver(r.archiver)
	}
	r.topics[name] = t
	return t, nil
}

// Topic returns the named topic, if registered.
func (r *TopicRegistry) Topic(name string) (*Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	return t, ok
}

// DeleteTopic stops a topic's background workers and removes it from the
// registry.
func (r *TopicRegistry) DeleteTopic(name string) error {
	r.mu.Lock()
	t, exists := r.topics[name]
	if !exists {
		r.mu.Unlock()
		return brokererr.New(brokererr.NotFound, "topic %q does not exist", name)
	}
	delete(r.topics, name)
	r.mu.Unlock()

	t.Close()
	return nil
}

// Close stops every registered topic's background workers. Typically
// called once during process shutdown.
func (r *TopicRegistry) Close() {
	r.mu.Lock()
	topics := make([]*Topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	r.topics = make(map[string]*Topic)
	r.mu.Unlock()

	for _, t := range topics {
		t.Close()
	}
}

// Topics returns the names of every currently registered topic.
func (r *TopicRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	return names
}
