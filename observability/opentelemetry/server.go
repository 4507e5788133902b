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

// ServerHandler continues the caller's trace around a provider handler.
type ServerHandler struct {
	next       message.Handler
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	address    string
}

func NewServerHandler(next message.Handler, address string, tracer trace.Tracer, propagator propagation.TextMapPropagator) *ServerHandler {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	return &ServerHandler{next: next, tracer: tracer, propagator: propagator, address: address}
}

func (h *ServerHandler) Handle(ctx context.Context, inv *message.Invocation) *message.Reply {
	ctx = h.propagator.Extract(ctx, propagation.MapCarrier(inv.Headers))
	ctx, span := h.tracer.Start(ctx, inv.ServiceName+"."+inv.Operation,
		trace.WithAttributes(
			semconv.RPCServiceKey.String(inv.ServiceName),
			semconv.RPCMethodKey.String(inv.Operation),
			attribute.String("address", h.address),
		),
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	reply := h.next.Handle(ctx, inv)
	if !transport.IsSuccess(reply.Status()) {
		span.SetStatus(codes.Error, "server failed")
	}
	return reply
}
