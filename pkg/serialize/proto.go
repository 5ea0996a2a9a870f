package serialize

import (
	"github.com/golang/protobuf/proto"
)

// EncodeProto serializes a protobuf message for use as an opaque record
// key or value. This is the private encoding for typed records shuttled
// between map and reduce; the upstream runtime never looks inside.
func EncodeProto(m proto.Message) ([]byte, error) {
	b, err := proto.Marshal(m)
	if err != nil {
		return nil, &CodecError{Op: "encode proto", Err: err}
	}
	return b, nil
}

// DecodeProto fills m from a record produced by EncodeProto.
func DecodeProto(b []byte, m proto.Message) error {
	if err := proto.Unmarshal(b, m); err != nil {
		return &CodecError{Op: "decode proto", Err: err}
	}
	return nil
}
