// Package opentelemetry wraps transports and provider handlers with spans.
package opentelemetry

import (
	"context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"svccall/message"
	"svccall/transport"
)

const instrumentationName = "svccall/observability/opentelemetry"

var _ transport.Transport = (*TracedTransport)(nil)

// TracedTransport starts a client span around each Send and carries the
// trace context to the provider in the request headers.
type TracedTransport struct {
	transport.Transport
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracedTransport falls back to the global tracer provider and propagator when tracer or propagator is nil.
func NewTracedTransport(t transport.Transport, tracer trace.Tracer, propagator propagation.TextMapPropagator) *TracedTransport {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	return &TracedTransport{Transport: t, tracer: tracer, propagator: propagator}
}

func (t *TracedTransport) Send(ctx context.Context, req *message.CallRequest) *message.CallResult {
	ctx, span := t.tracer.Start(ctx, req.Endpoint.Key(),
		trace.WithAttributes(
			semconv.RPCSystemKey.String(string(t.Kind())),
			semconv.RPCServiceKey.String(req.Endpoint.ServiceName),
			semconv.RPCMethodKey.String(req.Endpoint.Operation),
			attribute.String("peer.address", req.Address),
		),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// 不能改调用方的 header，重试时会复用
	out := *req
	out.Headers = t.inject(ctx, req.Headers)
	res := t.Transport.Send(ctx, &out)
	if res.StatusCode != 0 {
		span.SetAttributes(attribute.Int("rpc.status_code", res.StatusCode))
	}
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Kind.String())
		span.RecordError(res.Err)
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	return res
}

// Close closes the wrapped transport when it holds resources.
func (t *TracedTransport) Close() error {
	if c, ok := t.Transport.(transport.Closer); ok {
		return c.Close()
	}
	return nil
}

// inject 把跟 trace 有关的链路元数据放进 header，传递到服务端
func (t *TracedTransport) inject(ctx context.Context, headers map[string]string) map[string]string {
	carrier := make(propagation.MapCarrier, len(headers)+2)
	for k, v := range headers {
		carrier[k] = v
	}
	t.propagator.Inject(ctx, carrier)
	return carrier
}
