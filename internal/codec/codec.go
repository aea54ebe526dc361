package codec

import (
	"encoding/json"

	"github.com/blacknred/mbroker/internal/brokererr"
	"github.com/blacknred/mbroker/internal/message"
)

// JSONCodec implements Codec using JSON for the payload and the authoritative
// binary layout of spec.md §6 for metadata. Producers may publish any
// JSON-marshalable value; consumers receive json.RawMessage when the original
// Go type isn't known to the decoder.
type JSONCodec struct{}

// New returns the default codec.
func New() *JSONCodec { return &JSONCodec{} }

func (JSONCodec) Encode(payload any) ([]byte, error) {
	if b, ok := payload.([]byte); ok {
		return b, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodecFailure, err, "encode payload")
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (any, error) {
	return json.RawMessage(data), nil
}

func (JSONCodec) EncodeMetadata(meta *message.Metadata) ([]byte, error) {
	return EncodeMetadataWire(meta)
}

func (JSONCodec) DecodeMetadata(data []byte, keys ...string) (*message.Metadata, error) {
	return DecodeMetadataWire(data, keys...)
}

func (JSONCodec) UpdateMetadata(oldBytes []byte, partial MetadataPatch) ([]byte, error) {
	return UpdateMetadataWire(oldBytes, partial)
}
