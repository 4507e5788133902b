// Package registry resolves a service name to the instances serving it.
package registry

import (
	"context"
	"io"
	"strings"
	"svccall/message"
)

type Registry interface {
	Register(ctx context.Context, inst ServiceInstance) error
	UnRegister(ctx context.Context, inst ServiceInstance) error
	ListServices(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Subscribe(serviceName string) (<-chan Event, error)
	io.Closer
}

// ServiceInstance is one running provider. Endpoints look like "rest://127.0.0.1:8080".
type ServiceInstance struct {
	ServiceName string   `json:"serviceName"`
	InstanceID  string   `json:"instanceId"`
	Endpoints   []string `json:"endpoints"`
}

// Address returns the host:port the instance exposes for kind.
func (s ServiceInstance) Address(kind message.TransportKind) (string, bool) {
	prefix := string(kind) + "://"
	for _, ep := range s.Endpoints {
		if strings.HasPrefix(ep, prefix) {
			return strings.TrimPrefix(ep, prefix), true
		}
	}
	return "", false
}

// ID is the instance id, falling back to the first endpoint.
func (s ServiceInstance) ID() string {
	if s.InstanceID != "" {
		return s.InstanceID
	}
	if len(s.Endpoints) > 0 {
		return s.Endpoints[0]
	}
	return ""
}

// Endpoint formats an endpoint for kind at address.
func Endpoint(kind message.TransportKind, address string) string {
	return string(kind) + "://" + address
}

type EventType int

const (
	EventTypeUnknown EventType = iota
	EventTypeAdd
	EventTypeDelete
)

type Event struct {
	Type     EventType
	Instance ServiceInstance
}

// Addresses lists, in order, the addresses of instances exposing kind.
func Addresses(instances []ServiceInstance, kind message.TransportKind) []string {
	res := make([]string, 0, len(instances))
	for _, inst := range instances {
		if addr, ok := inst.Address(kind); ok {
			res = append(res, addr)
		}
	}
	return res
}
