// Package provider dispatches invocations of one service to operation handlers.
package provider

import (
	"context"
	"fmt"
	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"net/http"
	"strings"
	"svccall/message"
	"svccall/metrics"
	"svccall/ratelimit"
	"svccall/transport"
	"sync"
	"time"
)

var _ message.Handler = (*Mux)(nil)

// Mux routes by operation and counts every dispatched call in its
// producer-side metrics registry.
type Mux struct {
	serviceName string
	metrics     *metrics.Registry
	limiter     ratelimit.Limiter
	logger      *zap.Logger

	mu     sync.RWMutex
	routes map[string]route
}

type route struct {
	method  string
	handler message.Handler
}

func NewMux(serviceName string, opts ...option.Option[Mux]) *Mux {
	m := &Mux{
		serviceName: serviceName,
		metrics:     metrics.NewRegistry(),
		logger:      zap.NewNop(),
		routes:      make(map[string]route, 8),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func MuxWithMetrics(r *metrics.Registry) option.Option[Mux] {
	return func(m *Mux) {
		m.metrics = r
	}
}

// MuxWithLimiter rejects calls over the limit with 429.
func MuxWithLimiter(l ratelimit.Limiter) option.Option[Mux] {
	return func(m *Mux) {
		m.limiter = l
	}
}

func MuxWithLogger(l *zap.Logger) option.Option[Mux] {
	return func(m *Mux) {
		m.logger = l
	}
}

func (m *Mux) ServiceName() string {
	return m.serviceName
}

func (m *Mux) Metrics() *metrics.Registry {
	return m.metrics
}

// Register binds operation ("schema.op") to h. An empty method accepts any.
func (m *Mux) Register(method, operation string, h message.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[operation] = route{method: strings.ToUpper(method), handler: h}
}

func (m *Mux) RegisterFunc(method, operation string, f message.HandlerFunc) {
	m.Register(method, operation, f)
}

// Operations lists the registered operation keys.
func (m *Mux) Operations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]string, 0, len(m.routes))
	for op := range m.routes {
		res = append(res, m.serviceName+"."+op)
	}
	return res
}

func (m *Mux) Handle(ctx context.Context, inv *message.Invocation) *message.Reply {
	m.mu.RLock()
	r, ok := m.routes[inv.Operation]
	m.mu.RUnlock()
	if !ok {
		return Text(http.StatusNotFound, fmt.Sprintf("no operation %s.%s", m.serviceName, inv.Operation))
	}
	if r.method != "" && inv.Method != "" && r.method != strings.ToUpper(inv.Method) {
		return Text(http.StatusMethodNotAllowed, fmt.Sprintf("%s not allowed on %s", inv.Method, inv.Operation))
	}

	key := m.serviceName + "." + inv.Operation
	start := time.Now()
	reply := m.dispatch(ctx, key, r.handler, inv)
	status := message.StatusSuccess
	if !transport.IsSuccess(reply.Status()) {
		status = message.StatusFailure
	}
	m.metrics.RecordCall(key, status, time.Since(start))
	return reply
}

func (m *Mux) dispatch(ctx context.Context, key string, h message.Handler, inv *message.Invocation) (reply *message.Reply) {
	if m.limiter != nil {
		ok, err := m.limiter.Allow(ctx, key)
		if err != nil {
			m.logger.Warn("flow control unavailable", zap.String("operation", key), zap.Error(err))
		} else if !ok {
			return Text(http.StatusTooManyRequests, "rejected by qps flow control")
		}
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panic", zap.String("operation", key), zap.Any("panic", r))
			reply = Text(http.StatusInternalServerError, fmt.Sprintf("%v", r))
		}
	}()
	reply = h.Handle(ctx, inv)
	if reply == nil {
		reply = &message.Reply{StatusCode: http.StatusNoContent}
	}
	return reply
}
