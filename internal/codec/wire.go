package codec

import (
	"encoding/binary"
	"math"

	"github.com/blacknred/mbroker/internal/brokererr"
	"github.com/blacknred/mbroker/internal/message"
)

// Wire layout (spec.md §6, authoritative): fixed-width fields first, then a
// 1-byte flag bitmap, then variable-width length-prefixed fields. Fixed
// offsets are chosen so the retention sweep and pipeline can decode
// ts/ttl/ttd/attempts without touching the variable-width tail (spec.md §9
// "Partial-field decode").
const (
	offID         = 0
	offTS         = offID + 4
	offProducerID = offTS + 8
	offPriority   = offProducerID + 4
	offTTL        = offPriority + 1
	offTTD        = offTTL + 4
	offBatchID    = offTTD + 4
	offBatchIdx   = offBatchID + 4
	offBatchSize  = offBatchIdx + 2
	offAttempts   = offBatchSize + 2
	offConsumedAt = offAttempts + 1
	fixedWidth    = offConsumedAt + 8
	offFlags      = fixedWidth
	variableStart = offFlags + 1
)

const (
	flagPriority      = 0x01
	flagTTL           = 0x02
	flagTTD           = 0x04
	flagBatchID       = 0x08
	flagCorrelationID = 0x10
	flagRoutingKey    = 0x20
)

// attemptsSentinelByte is the wire-level stand-in for message.AttemptsUnlimited:
// the fixed attempts slot is one byte wide, so the in-memory sentinel (max
// uint32) saturates to 0xFF on the wire and expands back on decode.
const attemptsSentinelByte = 0xFF

// EncodeMetadataWire serializes meta into the authoritative wire layout.
func EncodeMetadataWire(meta *message.Metadata) ([]byte, error) {
	fixed := make([]byte, variableStart)

	binary.BigEndian.PutUint32(fixed[offID:], uint32(meta.ID))
	binary.BigEndian.PutUint64(fixed[offTS:], math.Float64bits(float64(meta.TS)))
	binary.BigEndian.PutUint32(fixed[offProducerID:], uint32(meta.ProducerID))

	var flags byte
	if meta.Priority != nil {
		fixed[offPriority] = *meta.Priority
		flags |= flagPriority
	}
	if meta.TTL != nil {
		binary.BigEndian.PutUint32(fixed[offTTL:], uint32(*meta.TTL))
		flags |= flagTTL
	}
	if meta.TTD != nil {
		binary.BigEndian.PutUint32(fixed[offTTD:], uint32(*meta.TTD))
		flags |= flagTTD
	}
	if meta.BatchID != nil {
		binary.BigEndian.PutUint32(fixed[offBatchID:], uint32(*meta.BatchID))
		flags |= flagBatchID
	}
	binary.BigEndian.PutUint16(fixed[offBatchIdx:], meta.BatchIdx)
	binary.BigEndian.PutUint16(fixed[offBatchSize:], meta.BatchSize)

	if meta.Attempts == message.AttemptsUnlimited {
		fixed[offAttempts] = attemptsSentinelByte
	} else if meta.Attempts > 254 {
		fixed[offAttempts] = 254
	} else {
		fixed[offAttempts] = byte(meta.Attempts)
	}

	if meta.ConsumedAt != nil {
		binary.BigEndian.PutUint64(fixed[offConsumedAt:], uint64(*meta.ConsumedAt))
	}

	if meta.CorrelationID != "" {
		flags |= flagCorrelationID
	}
	if meta.RoutingKey != "" {
		flags |= flagRoutingKey
	}
	fixed[offFlags] = flags

	buf := fixed
	buf = appendLengthPrefixed(buf, meta.Topic)
	if flags&flagCorrelationID != 0 {
		buf = appendLengthPrefixed(buf, meta.CorrelationID)
	}
	if flags&flagRoutingKey != 0 {
		buf = appendLengthPrefixed(buf, meta.RoutingKey)
	}
	return buf, nil
}

func appendLengthPrefixed(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

// wantField reports whether keys is empty (meaning "all fields") or contains name.
func wantField(keys []string, name string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

// DecodeMetadataWire deserializes wire bytes. When keys is non-empty, fields
// not named are left at their zero value; fixed-width fields are always cheap
// to read regardless, but the variable-width tail (topic/correlationId/
// routingKey) is only parsed when FieldTopic, or an empty keys list, is
// requested — this is the partial-decode performance path of spec.md §9.
func DecodeMetadataWire(data []byte, keys ...string) (*message.Metadata, error) {
	if len(data) < variableStart {
		return nil, brokererr.New(brokererr.CodecFailure, "metadata too short: %d bytes", len(data))
	}
	m := &message.Metadata{}
	flags := data[offFlags]

	if wantField(keys, FieldID) {
		m.ID = uint64(binary.BigEndian.Uint32(data[offID:]))
	}
	if wantField(keys, FieldTS) {
		m.TS = int64(math.Float64frombits(binary.BigEndian.Uint64(data[offTS:])))
	}
	if wantField(keys, FieldProducerID) {
		m.ProducerID = uint64(binary.BigEndian.Uint32(data[offProducerID:]))
	}
	if wantField(keys, FieldPriority) && flags&flagPriority != 0 {
		p := data[offPriority]
		m.Priority = &p
	}
	if wantField(keys, FieldTTL) && flags&flagTTL != 0 {
		v := int64(binary.BigEndian.Uint32(data[offTTL:]))
		m.TTL = &v
	}
	if wantField(keys, FieldTTD) && flags&flagTTD != 0 {
		v := int64(binary.BigEndian.Uint32(data[offTTD:]))
		m.TTD = &v
	}
	if flags&flagBatchID != 0 {
		v := uint64(binary.BigEndian.Uint32(data[offBatchID:]))
		m.BatchID = &v
	}
	m.BatchIdx = binary.BigEndian.Uint16(data[offBatchIdx:])
	m.BatchSize = binary.BigEndian.Uint16(data[offBatchSize:])

	if wantField(keys, FieldAttempts) {
		b := data[offAttempts]
		if b == attemptsSentinelByte {
			m.Attempts = message.AttemptsUnlimited
		} else {
			m.Attempts = uint32(b)
		}
	}
	if wantField(keys, FieldConsumedAt) {
		v := int64(binary.BigEndian.Uint64(data[offConsumedAt:]))
		if v != 0 {
			m.ConsumedAt = &v
		}
	}

	needsTail := wantField(keys, FieldTopic)
	if !needsTail {
		return m, nil
	}

	off := variableStart
	topic, off, err := readLengthPrefixed(data, off)
	if err != nil {
		return nil, err
	}
	m.Topic = topic

	if flags&flagCorrelationID != 0 {
		cid, next, err := readLengthPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		m.CorrelationID = cid
		off = next
	}
	if flags&flagRoutingKey != 0 {
		rk, next, err := readLengthPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		m.RoutingKey = rk
		off = next
	}
	return m, nil
}

func readLengthPrefixed(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, brokererr.New(brokererr.CodecFailure, "truncated length prefix at offset %d", off)
	}
	n := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if off+n > len(data) {
		return "", 0, brokererr.New(brokererr.CodecFailure, "truncated field of length %d at offset %d", n, off)
	}
	return string(data[off : off+n]), off + n, nil
}

// UpdateMetadataWire applies patch to previously-encoded metadata bytes by
// fully decoding, mutating, and re-encoding. This keeps the operation atomic
// with respect to the caller (no partial writes are ever observable) at the
// cost of a full round trip; MessageStorage.updateMetadata is the only path
// that calls this, and it already serializes updates per id (spec.md §4.1).
func UpdateMetadataWire(oldBytes []byte, patch MetadataPatch) ([]byte, error) {
	m, err := DecodeMetadataWire(oldBytes)
	if err != nil {
		return nil, err
	}
	if patch.Attempts != nil {
		m.Attempts = *patch.Attempts
	}
	if patch.ConsumedAt != nil {
		m.ConsumedAt = patch.ConsumedAt
	}
	if patch.TTL != nil {
		m.TTL = patch.TTL
	}
	if patch.TTD != nil {
		m.TTD = patch.TTD
	}
	if patch.Priority != nil {
		m.Priority = patch.Priority
	}
	return EncodeMetadataWire(m)
}
