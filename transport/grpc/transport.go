// Package grpc binds calls to generic gRPC unary methods /<service>/<operation>.
package grpc

import (
	"context"
	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"net/http"
	"strconv"
	"svccall/internal/errs"
	"svccall/message"
	"svccall/transport"
	"sync"
)

var _ transport.Transport = (*Transport)(nil)

// trailer key holding the provider's HTTP-style status on application failures
const statusTrailer = "svccall-status"

type Transport struct {
	dialOpts []grpc.DialOption
	logger   *zap.Logger

	conns sync.Map // address -> *grpc.ClientConn
	group singleflight.Group
}

func NewTransport(opts ...option.Option[Transport]) *Transport {
	t := &Transport{
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithDialOptions appends to the default insecure, JSON-coded dial options.
func WithDialOptions(opts ...grpc.DialOption) option.Option[Transport] {
	return func(t *Transport) {
		t.dialOpts = append(t.dialOpts, opts...)
	}
}

func WithLogger(l *zap.Logger) option.Option[Transport] {
	return func(t *Transport) {
		t.logger = l
	}
}

func (t *Transport) Kind() message.TransportKind {
	return message.TransportGRPC
}

func (t *Transport) Send(ctx context.Context, req *message.CallRequest) *message.CallResult {
	cc, err := t.conn(req.Address)
	if err != nil {
		return transport.Failure(err)
	}
	in := &envelope{
		Method:      req.Method,
		Args:        req.Args,
		Query:       req.Query.Encode(),
		Headers:     req.Headers,
		ContentType: req.ContentType,
		Body:        req.Payload,
	}
	out := &replyEnvelope{}
	var trailer metadata.MD
	err = cc.Invoke(ctx, FullMethod(req.Endpoint), in, out, grpc.Trailer(&trailer))
	if err != nil {
		return t.failure(err, trailer)
	}
	code := out.Status
	if code == 0 {
		code = http.StatusOK
	}
	return message.Succeed(code, out.Body, transport.LowerKeys(out.Headers))
}

func (t *Transport) failure(err error, trailer metadata.MD) *message.CallResult {
	st, ok := status.FromError(err)
	if !ok {
		return transport.Failure(err)
	}
	if vals := trailer.Get(statusTrailer); len(vals) > 0 {
		code, convErr := strconv.Atoi(vals[0])
		if convErr == nil {
			return message.Fail(errs.Application(code, []byte(st.Message())))
		}
	}
	kind := errs.KindTransportFatal
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		kind = errs.KindTransportTransient
	}
	return message.Fail(&errs.CallError{Kind: kind, Message: st.Message(), Cause: err})
}

func (t *Transport) conn(address string) (*grpc.ClientConn, error) {
	if cc, ok := t.conns.Load(address); ok {
		return cc.(*grpc.ClientConn), nil
	}
	cc, err, _ := t.group.Do(address, func() (interface{}, error) {
		if cc, ok := t.conns.Load(address); ok {
			return cc, nil
		}
		cc, err := grpc.NewClient(address, t.dialOpts...)
		if err != nil {
			return nil, err
		}
		t.conns.Store(address, cc)
		return cc, nil
	})
	if err != nil {
		return nil, err
	}
	return cc.(*grpc.ClientConn), nil
}

func (t *Transport) Close() error {
	var first error
	t.conns.Range(func(key, value any) bool {
		if err := value.(*grpc.ClientConn).Close(); err != nil && first == nil {
			first = err
		}
		t.conns.Delete(key)
		return true
	})
	return first
}

// FullMethod is the gRPC method name of an endpoint.
func FullMethod(ep message.ServiceEndpoint) string {
	return "/" + ep.ServiceName + "/" + ep.Operation
}
