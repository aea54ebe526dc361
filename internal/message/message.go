// Package message defines the broker's wire-independent data model: the
// immutable payload plus mutable delivery metadata described in spec.md §3.
package message

import (
	"regexp"
	"sync/atomic"
)

// AttemptsUnlimited is the sentinel attempts value meaning "do not requeue":
// after a non-requeue nack, the Topic's nack handler sets Attempts to this value so that
// the next pipeline pass's AttemptsProcessor (when configured) DLQs it
// unconditionally, per spec.md §9 "Sentinel attempts = ∞".
const AttemptsUnlimited = ^uint32(0)

// TopicNamePattern is the topic-name grammar of spec.md §6.
var TopicNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidTopicName reports whether name matches the topic-name grammar and is
// non-empty.
func ValidTopicName(name string) bool {
	return name != "" && TopicNamePattern.MatchString(name)
}

// Metadata is the mutable delivery-state record attached to a message. All
// fields are as specified in spec.md §3; optional fields use pointer/zero-value
// sentinels so the wire codec's presence bitmap (spec.md §6) has something to
// key off of.
type Metadata struct {
	ID         uint64
	TS         int64 // creation epoch millis
	ProducerID uint64
	Topic      string

	Priority *uint8 // 0-255, higher = earlier dequeue
	TTL      *int64 // ms; expired once TS+TTL <= now
	TTD      *int64 // ms; delayed until TS+TTD

	BatchID   *uint64
	BatchIdx  uint16
	BatchSize uint16

	CorrelationID string
	RoutingKey    string

	Attempts   uint32 // starts at 1; AttemptsUnlimited means "do not requeue"
	ConsumedAt *int64 // set once all awaited acks arrived

	Size     uint32 // encoded payload byte length
	NeedAcks uint32 // fan-out count
}

// Clone returns a deep copy so callers can mutate delivery state without
// racing the storage layer's own copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Priority != nil {
		p := *m.Priority
		cp.Priority = &p
	}
	if m.TTL != nil {
		v := *m.TTL
		cp.TTL = &v
	}
	if m.TTD != nil {
		v := *m.TTD
		cp.TTD = &v
	}
	if m.BatchID != nil {
		v := *m.BatchID
		cp.BatchID = &v
	}
	if m.ConsumedAt != nil {
		v := *m.ConsumedAt
		cp.ConsumedAt = &v
	}
	return &cp
}

// IsExpired reports whether the message is expired at instant nowMs:
// TTL is set and TS+TTL <= nowMs.
func (m *Metadata) IsExpired(nowMs int64) bool {
	if m.TTL == nil {
		return false
	}
	return m.TS+*m.TTL <= nowMs
}

// IsDelayed reports whether the message is still delayed at instant nowMs:
// TTD is set and TS+TTD > nowMs.
func (m *Metadata) IsDelayed(nowMs int64) bool {
	if m.TTD == nil {
		return false
	}
	return m.TS+*m.TTD > nowMs
}

// ReadyAt returns TS+TTD, the instant at which a delayed message becomes
// routable. Callers must only call this when TTD is set.
func (m *Metadata) ReadyAt() int64 {
	return m.TS + *m.TTD
}

// PriorityOrZero returns the message's dequeue priority, defaulting to 0.
func (m *Metadata) PriorityOrZero() uint8 {
	if m.Priority == nil {
		return 0
	}
	return *m.Priority
}

// IDGenerator produces unique, monotonically non-decreasing message ids
// within a process, per spec.md §3 invariant on `id`.
type IDGenerator struct {
	counter atomic.Uint64
}

// Next returns the next id. Starts at 1 so 0 can be used as a "no id" sentinel
// by callers.
func (g *IDGenerator) Next() uint64 {
	return g.counter.Add(1)
}
