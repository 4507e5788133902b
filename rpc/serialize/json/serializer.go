package json

import "encoding/json"

const (
	Code        byte = 1
	ContentType      = "application/json"
)

// Serializer -> JSON serialization protocol
type Serializer struct{}

func (s Serializer) Code() byte {
	return Code
}

func (s Serializer) ContentType() string {
	return ContentType
}

func (s Serializer) Encode(val any) ([]byte, error) {
	return json.Marshal(val)
}

func (s Serializer) Decode(data []byte, val any) error {
	return json.Unmarshal(data, val)
}
