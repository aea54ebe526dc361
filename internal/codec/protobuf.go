package codec

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/blacknred/mbroker/internal/brokererr"
)

// PersistedRecord is the cross-process persistence envelope of spec.md §6:
// "Payload uses Protobuf schema with fields data: bytes; metadata:
// MessageMetadata". Rather than generating code from a .proto file (the
// concrete persistent store is an out-of-scope external collaborator, per
// spec.md §1), this hand-encodes the two-field message directly against the
// Protobuf wire format using protowire — the same low-level primitives
// protoc-generated marshalers call into. metadata inside the envelope is the
// authoritative wire layout produced by EncodeMetadataWire, so a store that
// only understands "get the raw metadata bytes back" never needs to know
// about Protobuf at all.
type PersistedRecord struct {
	Data     []byte
	Metadata []byte
}

const (
	persistedFieldData     = 1
	persistedFieldMetadata = 2
)

// Marshal encodes r as a minimal, wire-compatible Protobuf message.
func (r *PersistedRecord) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, persistedFieldData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, r.Data)
	buf = protowire.AppendTag(buf, persistedFieldMetadata, protowire.BytesType)
	buf = protowire.AppendBytes(buf, r.Metadata)
	return buf
}

// UnmarshalPersistedRecord decodes bytes produced by Marshal. Unknown fields
// are skipped, matching Protobuf's forward-compatibility rule.
func UnmarshalPersistedRecord(b []byte) (*PersistedRecord, error) {
	r := &PersistedRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, brokererr.New(brokererr.CodecFailure, "persisted record: bad tag")
		}
		b = b[n:]

		switch {
		case num == persistedFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, brokererr.New(brokererr.CodecFailure, "persisted record: bad data field")
			}
			r.Data = append([]byte(nil), v...)
			b = b[n:]
		case num == persistedFieldMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, brokererr.New(brokererr.CodecFailure, "persisted record: bad metadata field")
			}
			r.Metadata = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, brokererr.New(brokererr.CodecFailure, "persisted record: bad field")
			}
			b = b[n:]
		}
	}
	return r, nil
}
