package svccall

import (
	"bytes"
	"encoding/json"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"strings"
	"svccall/message"
	jsonser "svccall/rpc/serialize/json"
	protoser "svccall/rpc/serialize/proto"
)

const (
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeStream = "application/octet-stream"
)

// payload is an encoded request body.
type payload struct {
	data        []byte
	contentType string
	serializer  byte
}

// encodePayload keeps []byte and string as they are, uses protobuf for
// proto.Message and JSON for everything else.
func encodePayload(v any) (payload, error) {
	switch val := v.(type) {
	case nil:
		return payload{}, nil
	case []byte:
		return payload{data: val, contentType: contentTypeStream}, nil
	case string:
		return payload{data: []byte(val), contentType: contentTypeText}, nil
	case proto.Message:
		s := protoser.Serializer{}
		data, err := s.Encode(val)
		if err != nil {
			return payload{}, err
		}
		return payload{data: data, contentType: s.ContentType(), serializer: s.Code()}, nil
	}
	s := jsonser.Serializer{}
	data, err := s.Encode(v)
	if err != nil {
		return payload{}, err
	}
	return payload{data: data, contentType: s.ContentType(), serializer: s.Code()}, nil
}

// decodeBody fills out from a successful result. *string and *[]byte take
// the body as is, unless a *string target receives a JSON string.
func decodeBody(res *message.CallResult, out any) error {
	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o = res.Body
		return nil
	case *string:
		body := bytes.TrimSpace(res.Body)
		if len(body) > 1 && body[0] == '"' {
			var s string
			if err := json.Unmarshal(body, &s); err == nil {
				*o = s
				return nil
			}
		}
		*o = string(res.Body)
		return nil
	case proto.Message:
		if strings.HasPrefix(res.Headers["content-type"], protoser.ContentType) {
			return proto.Unmarshal(res.Body, o)
		}
		return protojson.Unmarshal(res.Body, o)
	}
	return json.Unmarshal(res.Body, out)
}
