package proto

import (
	"google.golang.org/protobuf/proto"
	"svccall/internal/errs"
)

const (
	Code        byte = 2
	ContentType      = "application/x-protobuf"
)

// Serializer -> Protobuf serialization protocol
type Serializer struct{}

func (s Serializer) Code() byte {
	return Code
}

func (s Serializer) ContentType() string {
	return ContentType
}

func (s Serializer) Encode(val any) ([]byte, error) {
	msg, ok := val.(proto.Message)
	if !ok {
		return nil, errs.ErrProtoSerializeTyp
	}
	return proto.Marshal(msg)
}

func (s Serializer) Decode(data []byte, val any) error {
	msg, ok := val.(proto.Message)
	if !ok {
		return errs.ErrProtoDeserializeTyp
	}
	return proto.Unmarshal(data, msg)
}
