package routing

import "sync"

// entries is the memoized (binded, excluded) pair for one routing key:
// binded consumers are bound specifically to that key, excluded consumers
// are bound to a different, incompatible key. Consumers bound to "" (match
// everything) fall into neither set.
type entries struct {
	binded   []uint64
	excluded []uint64
}

// Strategy selects the consumer for a message: routing-key filtering narrows
// the candidate set, then the hash ring picks one by correlation id so that
// messages sharing a correlation id stick to the same consumer as long as it
// stays registered and still matches (spec.md §4.4 "correlation-id
// stickiness").
type Strategy struct {
	ring *HashRing

	mu         sync.RWMutex
	routingKey map[uint64]string  // consumer id -> bound routing key ("" = matches all)
	sticky     map[string]uint64  // correlation id -> last-routed consumer id
	entries    map[string]entries // routing key -> memoized (binded, excluded), flushed on subscription change
}

// NewStrategy builds an empty routing strategy.
func NewStrategy(vnodes int) *Strategy {
	return &Strategy{
		ring:       NewHashRing(vnodes),
		routingKey: make(map[uint64]string),
		sticky:     make(map[string]uint64),
		entries:    make(map[string]entries),
	}
}

// RegisterConsumer adds consumerID to the ring, optionally bound to
// routingKey. An empty routingKey matches every message.
func (s *Strategy) RegisterConsumer(consumerID uint64, routingKey string) {
	s.mu.Lock()
	s.routingKey[consumerID] = routingKey
	s.entries = make(map[string]entries)
	s.mu.Unlock()
	s.ring.Add(consumerID)
}

// UnregisterConsumer removes consumerID from the ring. Any correlation ids
// stuck to it are released on their next Route call (a miss recomputes).
func (s *Strategy) UnregisterConsumer(consumerID uint64) {
	s.mu.Lock()
	delete(s.routingKey, consumerID)
	s.entries = make(map[string]entries)
	s.mu.Unlock()
	s.ring.Remove(consumerID)
}

// Total returns the number of distinct registered consumers.
func (s *Strategy) Total() int {
	return s.ring.Len()
}

// getEntries returns the memoized (binded, excluded) consumer sets for
// routingKey, computing and caching them on first use. The cache is flushed
// whenever a consumer registers or unregisters (spec.md §4.3).
func (s *Strategy) getEntries(routingKey string) ([]uint64, []uint64) {
	s.mu.RLock()
	if e, ok := s.entries[routingKey]; ok {
		s.mu.RUnlock()
		return e.binded, e.excluded
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[routingKey]; ok {
		return e.binded, e.excluded
	}
	var e entries
	for consumerID, bound := range s.routingKey {
		switch {
		case bound == "":
			// matches everything; neither binded nor excluded
		case bound == routingKey:
			e.binded = append(e.binded, consumerID)
		default:
			e.excluded = append(e.excluded, consumerID)
		}
	}
	s.entries[routingKey] = e
	return e.binded, e.excluded
}

// Route picks a consumer for a message with the given correlationID and
// routingKey. If correlationID is non-empty and already bound to a consumer
// that still matches routingKey, that consumer is reused; otherwise a fresh
// binding is computed from the ring and (for a non-empty correlationID)
// cached.
func (s *Strategy) Route(correlationID, routingKey string) (uint64, bool) {
	if correlationID != "" {
		s.mu.RLock()
		bound, ok := s.sticky[correlationID]
		s.mu.RUnlock()
		if ok && s.matches(bound, routingKey) {
			return bound, true
		}
	}

	candidateKey := correlationID
	if candidateKey == "" {
		candidateKey = routingKey
	}

	consumerID, ok := s.pickMatching(candidateKey, routingKey)
	if !ok {
		return 0, false
	}
	if correlationID != "" {
		s.mu.Lock()
		s.sticky[correlationID] = consumerID
		s.mu.Unlock()
	}
	return consumerID, true
}

// matches reports whether consumerID is still registered and accepts
// routingKey (an empty bound key matches anything).
func (s *Strategy) matches(consumerID uint64, routingKey string) bool {
	s.mu.RLock()
	bound, ok := s.routingKey[consumerID]
	s.mu.RUnlock()
	return ok && (bound == "" || bound == routingKey)
}

// pickMatching walks the ring starting at key's successor until it finds a
// member whose bound routing key matches, or exhausts the ring.
func (s *Strategy) pickMatching(key, routingKey string) (uint64, bool) {
	seen := make(map[uint64]bool)
	for i := 0; i < s.ring.Len(); i++ {
		consumerID, ok := s.ring.Lookup(key)
		if !ok || seen[consumerID] {
			break
		}
		seen[consumerID] = true
		if s.matches(consumerID, routingKey) {
			return consumerID, true
		}
		// probe the next slot on the ring by perturbing the lookup key;
		// avoids needing a ring-walk API beyond Lookup.
		key = key + "#"
	}
	return 0, false
}

// ReleaseCorrelation drops a cached sticky binding, e.g. once a
// correlation's in-flight messages are all acked and the group is done.
func (s *Strategy) ReleaseCorrelation(correlationID string) {
	s.mu.Lock()
	delete(s.sticky, correlationID)
	s.mu.Unlock()
}
