package opentelemetry

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"
	"svccall/message"
	"svccall/transport/mocks"
	"testing"
)

func parentContext(t *testing.T) (context.Context, trace.SpanContext) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

func TestTracedTransport_Send(t *testing.T) {
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockTransport(ctrl)
	inner.EXPECT().Kind().Return(message.TransportRest).AnyTimes()

	var seen *message.CallRequest
	inner.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *message.CallRequest) *message.CallResult {
			seen = req
			return message.Succeed(200, []byte("hi"), nil)
		})

	tr := NewTracedTransport(inner, noop.NewTracerProvider().Tracer("test"), propagation.TraceContext{})
	ctx, _ := parentContext(t)
	req := &message.CallRequest{
		Endpoint: message.ServiceEndpoint{ServiceName: "springmvc", Operation: "controller.sayhi"},
		Headers:  map[string]string{"name": "world"},
	}
	res := tr.Send(ctx, req)
	require.True(t, res.Success())

	require.NotNil(t, seen)
	assert.Equal(t, "world", seen.Headers["name"])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", seen.Headers["traceparent"])
	// 原请求不变
	assert.Equal(t, map[string]string{"name": "world"}, req.Headers)
	assert.Equal(t, message.TransportRest, tr.Kind())
}

func TestServerHandler_Handle(t *testing.T) {
	var got trace.SpanContext
	next := message.HandlerFunc(func(ctx context.Context, inv *message.Invocation) *message.Reply {
		got = trace.SpanContextFromContext(ctx)
		return &message.Reply{Body: []byte("ok")}
	})
	h := NewServerHandler(next, "127.0.0.1:8080", noop.NewTracerProvider().Tracer("test"), propagation.TraceContext{})
	reply := h.Handle(context.Background(), &message.Invocation{
		ServiceName: "springmvc",
		Operation:   "controller.sayhi",
		Headers:     map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	})
	assert.Equal(t, "ok", string(reply.Body))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
	assert.True(t, got.IsRemote())
}
