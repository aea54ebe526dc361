package routing

// Decision is the outcome of routing one message: either a set of consumer
// ids to enqueue into, or a DLQReason explaining why none qualified.
type Decision struct {
	Targets   []uint64
	DLQReason string
}

const reasonNoConsumers = "no_consumers"

// Router decides which registered consumers should receive a message, per
// spec.md §4.4. It composes a Strategy's routing-key bindings and hash ring
// with an externally supplied notion of "active" consumers (spec.md §4.9's
// ClientManager), kept as a plain callback so this package never imports
// internal/clients.
type Router struct {
	strategy *Strategy
}

// NewRouter wraps strategy in a Router.
func NewRouter(strategy *Strategy) *Router {
	return &Router{strategy: strategy}
}

// Decide implements spec.md §4.4's routing algorithm:
//
//  1. No registered consumers at all -> DLQ "no_consumers".
//  2. Compute (binded, excluded) for routingKey. If every consumer is
//     excluded, DLQ "no_consumers".
//  3. No correlationId: fan out to every consumer activeConsumers() reports
//     that isn't excluded.
//  4. With a correlationId: walk the ring from H(correlationId), preferring
//     the first binded consumer; track the first non-excluded consumer seen
//     as a fallback. Per spec.md §9's open question, this path deliberately
//     ignores activeConsumers — a correlation's stickiness outranks a
//     consumer's current activity state.
func (r *Router) Decide(correlationID, routingKey string, activeConsumers func() []uint64) Decision {
	total := r.strategy.Total()
	if total == 0 {
		return Decision{DLQReason: reasonNoConsumers}
	}

	binded, excluded := r.strategy.getEntries(routingKey)
	if len(excluded) == total {
		return Decision{DLQReason: reasonNoConsumers}
	}

	if correlationID == "" {
		return r.decideFanOut(excluded, activeConsumers)
	}
	return r.decideCorrelated(correlationID, routingKey, binded, excluded)
}

func (r *Router) decideFanOut(excluded []uint64, activeConsumers func() []uint64) Decision {
	excludedSet := toSet(excluded)

	var targets []uint64
	for _, id := range activeConsumers() {
		if !excludedSet[id] {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return Decision{DLQReason: reasonNoConsumers}
	}
	return Decision{Targets: targets}
}

func (r *Router) decideCorrelated(correlationID, routingKey string, binded, excluded []uint64) Decision {
	bindedSet := toSet(binded)
	excludedSet := toSet(excluded)

	r.strategy.mu.RLock()
	sticky, ok := r.strategy.sticky[correlationID]
	r.strategy.mu.RUnlock()
	if ok && r.strategy.matches(sticky, routingKey) {
		return Decision{Targets: []uint64{sticky}}
	}

	seen := make(map[uint64]bool)
	fallback, fallbackOK := uint64(0), false
	key := correlationID

	for i := 0; i < r.strategy.Total(); i++ {
		consumerID, found := r.strategy.ring.Lookup(key)
		if !found || seen[consumerID] {
			break
		}
		seen[consumerID] = true

		if bindedSet[consumerID] {
			r.strategy.mu.Lock()
			r.strategy.sticky[correlationID] = consumerID
			r.strategy.mu.Unlock()
			return Decision{Targets: []uint64{consumerID}}
		}
		if !fallbackOK && !excludedSet[consumerID] {
			fallback, fallbackOK = consumerID, true
		}
		key = key + "#"
	}

	if !fallbackOK {
		return Decision{DLQReason: reasonNoConsumers}
	}
	r.strategy.mu.Lock()
	r.strategy.sticky[correlationID] = fallback
	r.strategy.mu.Unlock()
	return Decision{Targets: []uint64{fallback}}
}

func toSet(ids []uint64) map[uint64]bool {
	set := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
