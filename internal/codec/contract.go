// Package codec implements the codec contract of spec.md §6: payload
// encode/decode, metadata encode/decode (with partial-field decode support),
// and an atomic metadata update-in-place operation. The concrete encoding is
// an internal collaborator (not an external one) since spec.md §6 makes the
// wire/persisted metadata layout authoritative; the JSON-schema validator and
// the persistent key/value store remain out of scope.
package codec

import "github.com/blacknred/mbroker/internal/message"

// Codec is the contract every topic's storage layer uses to turn a produced
// payload and its metadata into bytes, and back.
type Codec interface {
	// Encode turns a producer-supplied payload into its wire bytes.
	Encode(payload any) ([]byte, error)
	// Decode turns wire bytes back into a payload value.
	Decode(data []byte) (any, error)

	// EncodeMetadata serializes the full metadata record.
	EncodeMetadata(meta *message.Metadata) ([]byte, error)
	// DecodeMetadata deserializes metadata. When keys is non-empty, only
	// those fields need be populated in the result (a performance feature:
	// the retention sweep and pipeline only need ts/ttl/ttd/attempts, which
	// the wire layout places at fixed offsets so a partial decode can skip
	// the variable-width tail entirely).
	DecodeMetadata(data []byte, keys ...string) (*message.Metadata, error)

	// UpdateMetadata applies a partial update to already-encoded metadata
	// bytes, returning new encoded bytes. Implementations must not mutate
	// oldBytes.
	UpdateMetadata(oldBytes []byte, partial MetadataPatch) ([]byte, error)
}

// MetadataPatch carries a sparse set of field updates for UpdateMetadata.
// Pointer fields distinguish "leave unchanged" (nil) from "set to zero value"
// (non-nil pointing at a zero value).
type MetadataPatch struct {
	Attempts   *uint32
	ConsumedAt *int64
	TTL        *int64
	TTD        *int64
	Priority   *uint8
}

// Field name constants accepted by DecodeMetadata's keys parameter.
const (
	FieldTS         = "ts"
	FieldTTL        = "ttl"
	FieldTTD        = "ttd"
	FieldAttempts   = "attempts"
	FieldConsumedAt = "consumed_at"
	FieldID         = "id"
	FieldProducerID = "producer_id"
	FieldTopic      = "topic"
	FieldPriority   = "priority"
)
