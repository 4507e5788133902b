// Package highway binds calls to length-prefixed binary frames over pooled
// TCP connections. A connection carries one call at a time.
package highway

import (
	"context"
	"fmt"
	"github.com/gotomicro/ekit/bean/option"
	"github.com/silenceper/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"net"
	"strconv"
	"svccall/internal/errs"
	"svccall/message"
	"svccall/rpc/compress"
	"svccall/transport"
	"sync"
	"sync/atomic"
	"time"
)

var _ transport.Transport = (*Transport)(nil)

const metaDeadline = "deadline"

type PoolConfig struct {
	InitialCap  int
	MaxIdle     int
	MaxCap      int
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		InitialCap:  0,
		MaxIdle:     20,
		MaxCap:      30,
		IdleTimeout: time.Minute,
		DialTimeout: 3 * time.Second,
	}
}

type Transport struct {
	compressor compress.Compressor
	poolCfg    PoolConfig
	logger     *zap.Logger

	messageId atomic.Uint32
	pools     sync.Map // address -> *connPool
	group     singleflight.Group
}

// connPool caps the connections checked out of one address. The pool's Get
// does not watch ctx, so callers queue on sem instead.
type connPool struct {
	pool.Pool
	sem *semaphore.Weighted
}

func NewTransport(opts ...option.Option[Transport]) *Transport {
	t := &Transport{
		compressor: compress.DoNothingCompressor{},
		poolCfg:    DefaultPoolConfig(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func WithCompressor(c compress.Compressor) option.Option[Transport] {
	return func(t *Transport) {
		t.compressor = c
	}
}

func WithPoolConfig(cfg PoolConfig) option.Option[Transport] {
	return func(t *Transport) {
		t.poolCfg = cfg
	}
}

func WithLogger(l *zap.Logger) option.Option[Transport] {
	return func(t *Transport) {
		t.logger = l
	}
}

func (t *Transport) Kind() message.TransportKind {
	return message.TransportHighway
}

func (t *Transport) Send(ctx context.Context, req *message.CallRequest) *message.CallResult {
	data, err := t.compressor.Compress(req.Payload)
	if err != nil {
		return message.Fail(errs.New(errs.KindInvalidRequest, err))
	}
	frame := &Request{
		MessageId:   t.messageId.Add(1),
		Version:     Version,
		Compressor:  t.compressor.Code(),
		Serializer:  req.Serializer,
		ServiceName: req.Endpoint.ServiceName,
		Operation:   req.Endpoint.Operation,
		Method:      req.Method,
		Args:        req.Args,
		RawQuery:    req.Query.Encode(),
		Meta:        make(map[string]string, len(req.Headers)+1),
		Data:        data,
	}
	for k, v := range req.Headers {
		frame.Meta[k] = v
	}
	if deadline, ok := ctx.Deadline(); ok {
		frame.Meta[metaDeadline] = strconv.FormatInt(deadline.UnixMilli(), 10)
	}

	encoded := EncodeReq(frame)
	if len(encoded) > maxFrameLen {
		return message.Fail(errs.New(errs.KindInvalidRequest,
			fmt.Errorf("%w: %d bytes", errs.ErrFrameTooLarge, len(encoded))))
	}

	p, err := t.pool(req.Address)
	if err != nil {
		return transport.Failure(err)
	}
	if err = p.sem.Acquire(ctx, 1); err != nil {
		return transport.Failure(err)
	}
	defer p.sem.Release(1)
	val, err := p.Get()
	if err != nil {
		return transport.Failure(err)
	}
	conn := val.(net.Conn)
	bs, err := t.exchange(ctx, conn, encoded)
	if err != nil {
		_ = p.Close(val)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		t.logger.Debug("highway exchange failed", zap.String("address", req.Address), zap.Error(err))
		return transport.Failure(err)
	}
	resp, err := DecodeResp(bs)
	if err != nil || resp.MessageId != frame.MessageId {
		_ = p.Close(val)
		if err == nil {
			err = errs.ErrFrameLength
		}
		return transport.Malformed(err)
	}
	_ = p.Put(val)

	c, err := compress.ByCode(resp.Compressor)
	if err != nil {
		return transport.Malformed(err)
	}
	body, err := c.Uncompress(resp.Data)
	if err != nil {
		return transport.Malformed(err)
	}
	status := int(resp.Status)
	if resp.Error != "" && len(body) == 0 {
		body = []byte(resp.Error)
	}
	headers := transport.LowerKeys(resp.Meta)
	if !transport.IsSuccess(status) {
		res := message.Fail(errs.Application(status, body))
		res.Headers = headers
		return res
	}
	return message.Succeed(status, body, headers)
}

func (t *Transport) exchange(ctx context.Context, conn net.Conn, frame []byte) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	// unblock reads and writes when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		return nil, err
	}
	return ReadFrame(conn)
}

func (t *Transport) pool(address string) (*connPool, error) {
	if p, ok := t.pools.Load(address); ok {
		return p.(*connPool), nil
	}
	p, err, _ := t.group.Do(address, func() (interface{}, error) {
		if p, ok := t.pools.Load(address); ok {
			return p, nil
		}
		cfg := t.poolCfg
		p, err := pool.NewChannelPool(&pool.Config{
			InitialCap: cfg.InitialCap,
			MaxIdle:    cfg.MaxIdle,
			MaxCap:     cfg.MaxCap,
			Factory: func() (interface{}, error) {
				return net.DialTimeout("tcp", address, cfg.DialTimeout)
			},
			Close: func(i interface{}) error {
				return i.(net.Conn).Close()
			},
			IdleTimeout: cfg.IdleTimeout,
		})
		if err != nil {
			return nil, err
		}
		cp := &connPool{Pool: p, sem: semaphore.NewWeighted(int64(cfg.MaxCap))}
		t.pools.Store(address, cp)
		return cp, nil
	})
	if err != nil {
		return nil, err
	}
	return p.(*connPool), nil
}

// Close releases every pooled connection.
func (t *Transport) Close() error {
	t.pools.Range(func(key, value any) bool {
		value.(*connPool).Release()
		t.pools.Delete(key)
		return true
	})
	return nil
}
