package message

import (
	"context"
	"net/url"
)

// Invocation is the provider-side view of a call, rebuilt by each transport server.
type Invocation struct {
	ServiceName string
	Operation   string
	Method      string
	Args        []string
	Query       url.Values
	Headers     map[string]string
	Body        []byte
	ContentType string
}

// Reply answers an Invocation. StatusCode 0 means 200.
type Reply struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Handler serves invocations for every transport server.
type Handler interface {
	Handle(ctx context.Context, inv *Invocation) *Reply
}

type HandlerFunc func(ctx context.Context, inv *Invocation) *Reply

func (f HandlerFunc) Handle(ctx context.Context, inv *Invocation) *Reply {
	return f(ctx, inv)
}

func (r *Reply) Status() int {
	if r.StatusCode == 0 {
		return 200
	}
	return r.StatusCode
}
