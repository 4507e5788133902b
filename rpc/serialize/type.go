package serialize

import (
	"svccall/internal/errs"
	"svccall/rpc/serialize/json"
	"svccall/rpc/serialize/proto"
)

// Serializer -> serialization protocol abstract
type Serializer interface {
	Code() byte
	ContentType() string
	Encode(val any) ([]byte, error)
	Decode(data []byte, val any) error
}

// ByCode returns the serializer a peer tagged its payload with.
func ByCode(code byte) (Serializer, error) {
	switch code {
	case json.Code:
		return json.Serializer{}, nil
	case proto.Code:
		return proto.Serializer{}, nil
	}
	return nil, errs.ErrUnknownSerializer
}

// ByContentType maps a HTTP content type back to its serializer, JSON being the fallback.
func ByContentType(contentType string) Serializer {
	if contentType == proto.ContentType {
		return proto.Serializer{}
	}
	return json.Serializer{}
}
