package transport

import (
	"context"
	"svccall/message"
)

//go:generate mockgen -destination=mocks/transport.mock.go -package=mocks -source=types.go Transport

// Transport is one network binding. Send performs exactly one exchange and never retries.
type Transport interface {
	Kind() message.TransportKind
	Send(ctx context.Context, req *message.CallRequest) *message.CallResult
}

// Set maps each transport kind to its implementation.
type Set map[message.TransportKind]Transport

// NewSet indexes transports by Kind. Later transports replace earlier ones of the same kind.
func NewSet(ts ...Transport) Set {
	s := make(Set, len(ts))
	for _, t := range ts {
		s[t.Kind()] = t
	}
	return s
}

func (s Set) Get(kind message.TransportKind) (Transport, bool) {
	t, ok := s[kind]
	return t, ok
}

// Closer is implemented by transports holding connections.
type Closer interface {
	Close() error
}

// Close releases every transport in the set that holds resources.
func (s Set) Close() error {
	var first error
	for _, t := range s {
		if c, ok := t.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
