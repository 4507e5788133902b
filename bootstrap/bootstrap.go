// Package bootstrap assembles consumers and their supporting pieces from a config.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"github.com/gotomicro/ekit/bean/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"io"
	"sort"
	"svccall"
	"svccall/config"
	"svccall/message"
	"svccall/metrics"
	promobs "svccall/observability/metrics/prometheus"
	"svccall/observability/opentelemetry"
	"svccall/ratelimit"
	"svccall/registry"
	"svccall/registry/etcd"
	"svccall/rpc/compress"
	"svccall/transport"
	grpctransport "svccall/transport/grpc"
	"svccall/transport/h2c"
	"svccall/transport/highway"
	"svccall/transport/rest"
	"time"
)

type Builder struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Registry
	promReg prometheus.Registerer
	etcd    *clientv3.Client
	redis   redis.Cmdable
	closers []io.Closer
}

func NewBuilder(cfg *config.Config, opts ...option.Option[Builder]) *Builder {
	b := &Builder{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: metrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func WithLogger(l *zap.Logger) option.Option[Builder] {
	return func(b *Builder) {
		b.logger = l
	}
}

// WithTracer wraps every transport in a client span.
func WithTracer(t trace.Tracer) option.Option[Builder] {
	return func(b *Builder) {
		b.tracer = t
	}
}

func WithMetrics(r *metrics.Registry) option.Option[Builder] {
	return func(b *Builder) {
		b.metrics = r
	}
}

// WithPrometheus feeds a latency summary registered on reg.
func WithPrometheus(reg prometheus.Registerer) option.Option[Builder] {
	return func(b *Builder) {
		b.promReg = reg
	}
}

// WithEtcdClient reuses c instead of dialing the configured endpoints.
func WithEtcdClient(c *clientv3.Client) option.Option[Builder] {
	return func(b *Builder) {
		b.etcd = c
	}
}

// WithRedisClient reuses c for flow control shared through redis.
func WithRedisClient(c redis.Cmdable) option.Option[Builder] {
	return func(b *Builder) {
		b.redis = c
	}
}

// Transports builds one transport per kind.
func (b *Builder) Transports() (transport.Set, error) {
	c, err := compress.ByName(b.cfg.Highway.Compressor)
	if err != nil {
		return nil, err
	}
	p := b.cfg.Highway.Pool
	pool := highway.DefaultPoolConfig()
	if p.MaxIdle > 0 {
		pool.MaxIdle = p.MaxIdle
	}
	if p.MaxCap > 0 {
		pool.MaxCap = p.MaxCap
	}
	if p.IdleTimeout > 0 {
		pool.IdleTimeout = p.IdleTimeout
	}
	if p.DialTimeout > 0 {
		pool.DialTimeout = p.DialTimeout
	}
	ts := []transport.Transport{
		rest.NewTransport(rest.WithLogger(b.logger)),
		h2c.NewTransport(rest.WithLogger(b.logger)),
		highway.NewTransport(highway.WithCompressor(c), highway.WithPoolConfig(pool), highway.WithLogger(b.logger)),
		grpctransport.NewTransport(grpctransport.WithLogger(b.logger)),
	}
	if b.tracer != nil {
		for i, t := range ts {
			ts[i] = opentelemetry.NewTracedTransport(t, b.tracer, nil)
		}
	}
	return transport.NewSet(ts...), nil
}

// Registry is the configured discovery: static instances or etcd.
func (b *Builder) Registry() (registry.Registry, error) {
	switch b.cfg.Registry.Type {
	case "etcd":
		client := b.etcd
		if client == nil {
			var err error
			client, err = clientv3.New(clientv3.Config{
				Endpoints:   b.cfg.Registry.Etcd.Endpoints,
				DialTimeout: b.cfg.Registry.Etcd.DialTimeout,
			})
			if err != nil {
				return nil, fmt.Errorf("bootstrap: dial etcd: %w", err)
			}
			b.closers = append(b.closers, client)
		}
		r, err := etcd.NewRegistry(client, b.cfg.Registry.Etcd.TTL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: etcd registry: %w", err)
		}
		return r, nil
	default:
		return StaticRegistry(b.cfg.Instances), nil
	}
}

// StaticRegistry turns each configured endpoint into an instance of its own.
func StaticRegistry(instances map[string][]string) *registry.Static {
	var list []registry.ServiceInstance
	for svc, eps := range instances {
		for _, ep := range eps {
			list = append(list, registry.ServiceInstance{ServiceName: svc, InstanceID: ep, Endpoints: []string{ep}})
		}
	}
	return registry.NewStatic(list...)
}

// Limiter limits every operation key to qps, and each key of limits to its
// own rate. It is nil when nothing is limited.
func (b *Builder) Limiter(qps float64, limits map[string]float64) ratelimit.Limiter {
	var chain ratelimit.Chain
	if qps > 0 {
		chain = append(chain, b.limiter(qps))
	}
	keys := make([]string, 0, len(limits))
	for k := range limits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		chain = append(chain, &ratelimit.OperationLimiter{Limiter: b.limiter(limits[k]), OperationKey: k})
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return chain
}

func (b *Builder) limiter(qps float64) ratelimit.Limiter {
	fc := b.cfg.FlowControl
	if b.redis == nil && fc.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: fc.Redis.Addr})
		b.redis = client
		b.closers = append(b.closers, client)
	}
	if b.redis != nil {
		window := fc.Redis.Window
		if window <= 0 {
			window = time.Second
		}
		rate := int(qps * window.Seconds())
		if rate < 1 {
			rate = 1
		}
		return ratelimit.NewRedisSlideWindowLimiter(b.redis, fc.Redis.Prefix, rate, window)
	}
	switch fc.Algorithm {
	case "fixedwindow":
		return ratelimit.NewFixWindowLimiter(time.Second, int64(max(qps, 1)))
	case "slidewindow":
		return ratelimit.NewSlideWindowLimiter(int(max(qps, 1)), time.Second)
	}
	return ratelimit.NewTokenBucketLimiter(qps, max(fc.Burst, 1))
}

// Consumer holds the client built from the configuration and what it owns.
type Consumer struct {
	Client     *svccall.Client
	Invoker    *svccall.Invoker
	Registry   registry.Registry
	Transports transport.Set
	closers    []io.Closer
}

func (b *Builder) Consumer() (*Consumer, error) {
	ts, err := b.Transports()
	if err != nil {
		return nil, err
	}
	reg, err := b.Registry()
	if err != nil {
		_ = ts.Close()
		b.close()
		return nil, err
	}
	if b.promReg != nil {
		ob := &promobs.ObserverBuilder{
			Namespace: "svccall",
			Subsystem: "consumer",
			Name:      "call",
			Help:      "svccall call latency in milliseconds",
			Kind:      "consumer",
		}
		o, err := ob.Build(b.promReg)
		if err != nil {
			_ = ts.Close()
			_ = reg.Close()
			b.close()
			return nil, fmt.Errorf("bootstrap: prometheus observer: %w", err)
		}
		b.metrics.AddObserver(o)
	}

	refs := make(map[string]message.TransportKind, len(b.cfg.References))
	for svc, ref := range b.cfg.References {
		if ref.Transport != "" {
			refs[svc] = message.TransportKind(ref.Transport)
		}
	}
	opts := []option.Option[svccall.Invoker]{
		svccall.InvokerWithMetrics(b.metrics),
		svccall.InvokerWithLogger(b.logger),
		svccall.InvokerWithTimeout(b.cfg.Request.Timeout),
		svccall.InvokerWithRetry(b.cfg.Request.Retry.MaxRetries, b.cfg.Request.Retry.Backoff),
		svccall.InvokerWithTransport(message.TransportKind(b.cfg.Request.Transport)),
		svccall.InvokerWithReferences(refs),
	}
	if fc := b.cfg.FlowControl; fc.Enabled {
		if l := b.Limiter(fc.QPS, fc.Limits); l != nil {
			opts = append(opts, svccall.InvokerWithLimiter(l))
		}
	}
	inv := svccall.NewInvoker(ts, reg, opts...)
	c := &Consumer{
		Client:     svccall.NewClient(inv),
		Invoker:    inv,
		Registry:   reg,
		Transports: ts,
		closers:    append([]io.Closer{reg}, b.closers...),
	}
	b.closers = nil
	return c, nil
}

func (b *Builder) close() {
	for _, c := range b.closers {
		_ = c.Close()
	}
	b.closers = nil
}

// Close releases transports, the registry and any client dialed for them.
func (c *Consumer) Close() error {
	err := c.Transports.Close()
	for _, cl := range c.closers {
		err = errors.Join(err, cl.Close())
	}
	return err
}

// Register announces inst in the registry until ctx is done.
func Register(ctx context.Context, r registry.Registry, inst registry.ServiceInstance, logger *zap.Logger) error {
	if err := r.Register(ctx, inst); err != nil {
		return fmt.Errorf("bootstrap: register %s: %w", inst.ServiceName, err)
	}
	logger.Info("registered", zap.String("service", inst.ServiceName), zap.Strings("endpoints", inst.Endpoints))
	go func() {
		<-ctx.Done()
		uctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.UnRegister(uctx, inst); err != nil {
			logger.Warn("unregister failed", zap.String("service", inst.ServiceName), zap.Error(err))
		}
	}()
	return nil
}
