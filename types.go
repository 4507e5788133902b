package svccall

import (
	"context"
	"svccall/message"
	"svccall/registry"
)

// Proxy performs one call, retries included. *Invoker is the implementation.
type Proxy interface {
	Do(ctx context.Context, req *message.CallRequest) *message.CallResult
	// Reject fails a request whose build failed with err, so it is still counted.
	Reject(req *message.CallRequest, err error) *message.CallResult
}

// Service is a code-first client: a struct whose func fields are bound to
// operations of the named service by InitService.
type Service interface {
	ServiceName() string
}

// SchemaService names the schema of untagged func fields.
type SchemaService interface {
	Service
	SchemaID() string
}

// Discovery lists the instances of a service. Every registry.Registry is one.
type Discovery interface {
	ListServices(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error)
}
