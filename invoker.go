package svccall

import (
	"context"
	"errors"
	"fmt"
	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"net/http"
	"net/url"
	"strings"
	"svccall/internal/errs"
	"svccall/message"
	"svccall/metrics"
	"svccall/ratelimit"
	"svccall/registry"
	"svccall/transport"
	"sync"
	"time"
)

var _ Proxy = (*Invoker)(nil)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

// Invoker resolves an endpoint to a transport and an instance, retries
// transient failures and records exactly one outcome per call.
type Invoker struct {
	transports  transport.Set
	discovery   Discovery
	metrics     *metrics.Registry
	limiter     ratelimit.Limiter
	logger      *zap.Logger
	defaultKind message.TransportKind
	timeout     time.Duration
	maxRetries  int
	backoff     time.Duration

	mu       sync.RWMutex
	selected map[string]message.TransportKind
}

func NewInvoker(transports transport.Set, discovery Discovery, opts ...option.Option[Invoker]) *Invoker {
	i := &Invoker{
		transports:  transports,
		discovery:   discovery,
		metrics:     metrics.NewRegistry(),
		logger:      zap.NewNop(),
		defaultKind: message.TransportRest,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		selected:    make(map[string]message.TransportKind),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// InvokerWithMetrics shares r instead of a private registry.
func InvokerWithMetrics(r *metrics.Registry) option.Option[Invoker] {
	return func(i *Invoker) {
		i.metrics = r
	}
}

// InvokerWithLimiter turns on consumer flow control.
func InvokerWithLimiter(l ratelimit.Limiter) option.Option[Invoker] {
	return func(i *Invoker) {
		i.limiter = l
	}
}

func InvokerWithLogger(l *zap.Logger) option.Option[Invoker] {
	return func(i *Invoker) {
		i.logger = l
	}
}

// InvokerWithRetry sets how many times a transient failure is retried and
// the pause before each retry.
func InvokerWithRetry(maxRetries int, backoff time.Duration) option.Option[Invoker] {
	return func(i *Invoker) {
		i.maxRetries = maxRetries
		i.backoff = backoff
	}
}

// InvokerWithTimeout bounds calls that carry no timeout of their own.
func InvokerWithTimeout(d time.Duration) option.Option[Invoker] {
	return func(i *Invoker) {
		i.timeout = d
	}
}

// InvokerWithTransport is the kind used for services with no explicit choice.
func InvokerWithTransport(kind message.TransportKind) option.Option[Invoker] {
	return func(i *Invoker) {
		i.defaultKind = kind
	}
}

// InvokerWithReferences presets the transport of each listed service.
func InvokerWithReferences(refs map[string]message.TransportKind) option.Option[Invoker] {
	return func(i *Invoker) {
		for svc, kind := range refs {
			i.selected[svc] = kind
		}
	}
}

// SetTransport switches the transport used for serviceName. An empty kind
// goes back to the default.
func (i *Invoker) SetTransport(serviceName string, kind message.TransportKind) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if kind == "" {
		delete(i.selected, serviceName)
		return
	}
	i.selected[serviceName] = kind
}

func (i *Invoker) Metrics() *metrics.Registry {
	return i.metrics
}

// CallOption adjusts the request built by Invoke.
type CallOption func(req *message.CallRequest)

func WithMethod(method string) CallOption {
	return func(req *message.CallRequest) {
		req.Method = strings.ToUpper(method)
	}
}

func WithArgs(args ...string) CallOption {
	return func(req *message.CallRequest) {
		req.Args = append(req.Args, args...)
	}
}

func WithQuery(key, value string) CallOption {
	return func(req *message.CallRequest) {
		if req.Query == nil {
			req.Query = url.Values{}
		}
		req.Query.Add(key, value)
	}
}

func WithHeader(key, value string) CallOption {
	return func(req *message.CallRequest) {
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}
		req.Headers[strings.ToLower(key)] = value
	}
}

// WithTimeout bounds the whole call, retries included.
func WithTimeout(d time.Duration) CallOption {
	return func(req *message.CallRequest) {
		req.Timeout = d
	}
}

// WithAddress skips discovery and calls address directly.
func WithAddress(address string) CallOption {
	return func(req *message.CallRequest) {
		req.Address = address
	}
}

// Invoke calls ep with payload. A url.Values or map[string]string payload
// becomes query parameters of a GET; any other payload is the body of a POST.
func (i *Invoker) Invoke(ctx context.Context, ep message.ServiceEndpoint, payload any, opts ...CallOption) *message.CallResult {
	req := &message.CallRequest{Endpoint: ep, Method: http.MethodPost}
	var err error
	switch p := payload.(type) {
	case nil:
		req.Method = http.MethodGet
	case url.Values:
		req.Method = http.MethodGet
		req.Query = p
	case map[string]string:
		req.Method = http.MethodGet
		req.Query = make(url.Values, len(p))
		for k, v := range p {
			req.Query.Set(k, v)
		}
	default:
		err = setPayload(req, payload)
	}
	for _, opt := range opts {
		opt(req)
	}
	if err != nil {
		return i.Reject(req, err)
	}
	return i.Do(ctx, req)
}

// Reject fails a request that could not be built. It is counted when its
// service is known.
func (i *Invoker) Reject(req *message.CallRequest, err error) *message.CallResult {
	res := message.Fail(errs.New(errs.KindInvalidRequest, err))
	if req.Endpoint.ServiceName != "" {
		i.record(req, res, time.Now())
	}
	return res
}

func setPayload(req *message.CallRequest, v any) error {
	p, err := encodePayload(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req.Payload, req.ContentType, req.Serializer = p.data, p.contentType, p.serializer
	return nil
}

// Do runs a prepared request. req is not modified.
func (i *Invoker) Do(ctx context.Context, req *message.CallRequest) *message.CallResult {
	start := time.Now()
	res := i.do(ctx, req)
	if req.Endpoint.ServiceName != "" {
		i.record(req, res, start)
	}
	return res
}

func (i *Invoker) record(req *message.CallRequest, res *message.CallResult, start time.Time) {
	key := req.Endpoint.Key()
	latency := time.Since(start)
	i.metrics.RecordCall(key, res.Status(), latency)
	if res.Err != nil {
		i.logger.Debug("call failed",
			zap.String("operation", key),
			zap.Int("attempts", res.Attempts),
			zap.Duration("latency", latency),
			zap.Error(res.Err))
	}
}

func (i *Invoker) do(ctx context.Context, req *message.CallRequest) *message.CallResult {
	ep := req.Endpoint
	if ep.ServiceName == "" || !validOperation(ep.Operation) {
		return message.Fail(errs.New(errs.KindInvalidRequest,
			fmt.Errorf("%w: %q", errs.ErrInvalidOperation, ep.Key())))
	}
	kind := i.transportFor(ep)
	tr, ok := i.transports.Get(kind)
	if !ok {
		return message.Fail(errs.New(errs.KindNoTransportAvailable,
			fmt.Errorf("%w: %s for %s", errs.ErrNoTransport, kind, ep.ServiceName)))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = i.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, res := i.resolve(ctx, req, kind)
	if res != nil {
		return res
	}
	if res = i.admit(ctx, ep.Key()); res != nil {
		return res
	}

	for attempt := 0; ; attempt++ {
		r := *req
		r.Address = addrs[attempt%len(addrs)]
		r.Timeout = timeout
		i.logger.Debug("send",
			zap.String("operation", ep.Key()),
			zap.String("transport", string(kind)),
			zap.String("address", r.Address),
			zap.Int("attempt", attempt+1))
		res = i.attempt(ctx, tr, &r)
		res.Attempts = attempt + 1
		if res.Success() || !res.Err.Kind.Retryable() || ctx.Err() != nil || attempt >= i.maxRetries {
			return res
		}
		i.logger.Warn("retry after transient failure",
			zap.String("operation", ep.Key()),
			zap.String("address", r.Address),
			zap.Int("attempt", attempt+1),
			zap.Error(res.Err))
		if i.backoff > 0 {
			select {
			case <-time.After(i.backoff):
			case <-ctx.Done():
				return res
			}
		}
	}
}

// validOperation accepts exactly <schema>.<op>. Paths map the dot to a slash,
// so neither part may hold another separator.
func validOperation(op string) bool {
	schema, name, ok := strings.Cut(op, ".")
	return ok && schema != "" && name != "" &&
		!strings.Contains(schema, "/") && !strings.ContainsAny(name, "./")
}

func (i *Invoker) transportFor(ep message.ServiceEndpoint) message.TransportKind {
	if ep.Transport != "" {
		return ep.Transport
	}
	i.mu.RLock()
	kind, ok := i.selected[ep.ServiceName]
	i.mu.RUnlock()
	if ok {
		return kind
	}
	return i.defaultKind
}

// resolve lists the addresses to try, in order.
func (i *Invoker) resolve(ctx context.Context, req *message.CallRequest, kind message.TransportKind) ([]string, *message.CallResult) {
	if req.Address != "" {
		return []string{req.Address}, nil
	}
	if i.discovery == nil {
		return nil, message.Fail(errs.New(errs.KindNoTransportAvailable,
			fmt.Errorf("%w: no discovery for %s", errs.ErrNoInstance, req.Endpoint.ServiceName)))
	}
	instances, err := i.discovery.ListServices(ctx, req.Endpoint.ServiceName)
	if err != nil {
		return nil, transport.Failure(fmt.Errorf("discover %s: %w", req.Endpoint.ServiceName, err))
	}
	addrs := registry.Addresses(instances, kind)
	if len(addrs) == 0 {
		return nil, message.Fail(errs.New(errs.KindNoTransportAvailable,
			fmt.Errorf("%w: %s has no %s endpoint", errs.ErrNoInstance, req.Endpoint.ServiceName, kind)))
	}
	return addrs, nil
}

// admit applies flow control. A limiter that cannot decide lets the call through.
func (i *Invoker) admit(ctx context.Context, key string) *message.CallResult {
	if i.limiter == nil {
		return nil
	}
	ok, err := i.limiter.Allow(ctx, key)
	if err != nil {
		i.logger.Warn("flow control unavailable", zap.String("operation", key), zap.Error(err))
		return nil
	}
	if ok {
		return nil
	}
	return message.Fail(&errs.CallError{
		Kind:       errs.KindApplicationFailure,
		Message:    errs.ErrFlowControl.Error(),
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte(errs.ErrFlowControl.Error()),
		Cause:      errs.ErrFlowControl,
	})
}

var errNilResult = errors.New("transport returned no result")

// attempt runs one Send in its own goroutine so that a transport ignoring
// ctx cannot hold the caller past the deadline.
func (i *Invoker) attempt(ctx context.Context, tr transport.Transport, req *message.CallRequest) *message.CallResult {
	ch := make(chan *message.CallResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("transport panic",
					zap.String("operation", req.Endpoint.Key()),
					zap.Any("panic", r))
				ch <- message.Fail(errs.Newf(errs.KindTransportFatal, "transport panic: %v", r))
			}
		}()
		ch <- tr.Send(ctx, req)
	}()
	select {
	case res := <-ch:
		if res == nil {
			return message.Fail(errs.New(errs.KindTransportFatal, errNilResult))
		}
		return res
	case <-ctx.Done():
		return transport.Failure(ctx.Err())
	}
}
