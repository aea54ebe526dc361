package codec

import (
	"testing"

	"github.com/blacknred/mbroker/internal/message"
)

func u8(v uint8) *uint8   { return &v }
func i64(v int64) *int64  { return &v }
func u64(v uint64) *uint64 { return &v }

func TestEncodeDecodeMetadataWireRoundTrip(t *testing.T) {
	meta := &message.Metadata{
		ID:            42,
		TS:            1_700_000_000_000,
		ProducerID:    7,
		Topic:         "orders",
		Priority:      u8(200),
		TTL:           i64(60_000),
		TTD:           i64(5_000),
		BatchID:       u64(9),
		BatchIdx:      2,
		BatchSize:     5,
		CorrelationID: "user-1",
		RoutingKey:    "red",
		Attempts:      3,
	}

	data, err := EncodeMetadataWire(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeMetadataWire(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.ID != meta.ID || got.TS != meta.TS || got.ProducerID != meta.ProducerID {
		t.Fatalf("fixed scalar mismatch: %+v", got)
	}
	if got.Topic != meta.Topic || got.CorrelationID != meta.CorrelationID || got.RoutingKey != meta.RoutingKey {
		t.Fatalf("variable field mismatch: %+v", got)
	}
	if got.Priority == nil || *got.Priority != *meta.Priority {
		t.Fatalf("priority mismatch: %+v", got.Priority)
	}
	if got.TTL == nil || *got.TTL != *meta.TTL {
		t.Fatalf("ttl mismatch: %+v", got.TTL)
	}
	if got.TTD == nil || *got.TTD != *meta.TTD {
		t.Fatalf("ttd mismatch: %+v", got.TTD)
	}
	if got.BatchID == nil || *got.BatchID != *meta.BatchID {
		t.Fatalf("batchId mismatch: %+v", got.BatchID)
	}
	if got.BatchIdx != meta.BatchIdx || got.BatchSize != meta.BatchSize {
		t.Fatalf("batch idx/size mismatch: %+v", got)
	}
	if got.Attempts != meta.Attempts {
		t.Fatalf("attempts mismatch: got %d want %d", got.Attempts, meta.Attempts)
	}
}

func TestEncodeDecodeMetadataWireOptionalFieldsAbsent(t *testing.T) {
	meta := &message.Metadata{
		ID:         1,
		TS:         1000,
		ProducerID: 2,
		Topic:      "t",
		Attempts:   1,
	}
	data, err := EncodeMetadataWire(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMetadataWire(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Priority != nil || got.TTL != nil || got.TTD != nil || got.BatchID != nil {
		t.Fatalf("expected absent optional fields, got %+v", got)
	}
	if got.CorrelationID != "" || got.RoutingKey != "" {
		t.Fatalf("expected empty correlation/routing key, got %+v", got)
	}
}

func TestAttemptsUnlimitedSentinelRoundTrips(t *testing.T) {
	meta := &message.Metadata{ID: 1, TS: 1, ProducerID: 1, Topic: "t", Attempts: message.AttemptsUnlimited}
	data, err := EncodeMetadataWire(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMetadataWire(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Attempts != message.AttemptsUnlimited {
		t.Fatalf("expected unlimited sentinel, got %d", got.Attempts)
	}
}

func TestDecodeMetadataWirePartialFieldsSkipsTail(t *testing.T) {
	meta := &message.Metadata{
		ID: 1, TS: 123456, ProducerID: 2, Topic: "t",
		TTL: i64(500), TTD: i64(200), Attempts: 4,
		CorrelationID: "abc",
	}
	data, err := EncodeMetadataWire(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeMetadataWire(data, FieldTS, FieldTTL, FieldTTD, FieldAttempts)
	if err != nil {
		t.Fatalf("partial decode: %v", err)
	}
	if got.TS != meta.TS || *got.TTL != *meta.TTL || *got.TTD != *meta.TTD || got.Attempts != meta.Attempts {
		t.Fatalf("partial decode mismatch: %+v", got)
	}
	if got.Topic != "" || got.CorrelationID != "" {
		t.Fatalf("expected tail fields left unread, got %+v", got)
	}
}

func TestUpdateMetadataWireAppliesPatch(t *testing.T) {
	meta := &message.Metadata{ID: 1, TS: 1, ProducerID: 1, Topic: "t", Attempts: 1}
	data, err := EncodeMetadataWire(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	newAttempts := uint32(2)
	consumedAt := int64(999)
	updated, err := UpdateMetadataWire(data, MetadataPatch{Attempts: &newAttempts, ConsumedAt: &consumedAt})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := DecodeMetadataWire(updated)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", got.Attempts)
	}
	if got.ConsumedAt == nil || *got.ConsumedAt != 999 {
		t.Fatalf("expected consumedAt=999, got %+v", got.ConsumedAt)
	}
	// untouched fields survive the round trip
	if got.ID != meta.ID || got.Topic != meta.Topic {
		t.Fatalf("unrelated fields mutated: %+v", got)
	}
}

func TestPersistedRecordRoundTrip(t *testing.T) {
	rec := &PersistedRecord{Data: []byte("payload"), Metadata: []byte("metadata-bytes")}
	got, err := UnmarshalPersistedRecord(rec.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(got.Data) != "payload" || string(got.Metadata) != "metadata-bytes" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
