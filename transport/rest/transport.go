// Package rest binds calls to plain HTTP. The same Transport also drives the
// h2c binding when given an HTTP/2 capable client.
package rest

import (
	"bytes"
	"context"
	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"svccall/internal/errs"
	"svccall/message"
	"svccall/transport"
	"time"
)

var _ transport.Transport = (*Transport)(nil)

type Transport struct {
	kind   message.TransportKind
	scheme string
	client *http.Client
	logger *zap.Logger
}

func NewTransport(opts ...option.Option[Transport]) *Transport {
	t := &Transport{
		kind:   message.TransportRest,
		scheme: "http",
		client: &http.Client{Transport: newHTTPTransport()},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// WithHTTPClient replaces the default HTTP/1.1 client.
func WithHTTPClient(c *http.Client) option.Option[Transport] {
	return func(t *Transport) {
		t.client = c
	}
}

// WithKind lets another binding reuse this transport.
func WithKind(kind message.TransportKind) option.Option[Transport] {
	return func(t *Transport) {
		t.kind = kind
	}
}

func WithScheme(scheme string) option.Option[Transport] {
	return func(t *Transport) {
		t.scheme = scheme
	}
}

func WithLogger(l *zap.Logger) option.Option[Transport] {
	return func(t *Transport) {
		t.logger = l
	}
}

func (t *Transport) Kind() message.TransportKind {
	return t.kind
}

func (t *Transport) Send(ctx context.Context, req *message.CallRequest) *message.CallResult {
	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, BuildURL(t.scheme, req), body)
	if err != nil {
		return message.Fail(errs.New(errs.KindInvalidRequest, err))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" && len(req.Payload) > 0 {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Debug("http exchange failed",
			zap.String("transport", string(t.kind)),
			zap.String("address", req.Address),
			zap.Error(err))
		return transport.Failure(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transport.Failure(err)
	}
	headers := transport.FlattenHeader(resp.Header)
	if !transport.IsSuccess(resp.StatusCode) {
		res := message.Fail(errs.Application(resp.StatusCode, data))
		res.Headers = headers
		return res
	}
	return message.Succeed(resp.StatusCode, data, headers)
}

// Close drops idle keep-alive connections.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// BuildURL renders scheme://address/schema/op/args...?query with every
// path arg escaped as a single segment.
func BuildURL(scheme string, req *message.CallRequest) string {
	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(req.Address)
	sb.WriteString(req.Endpoint.Path())
	for _, arg := range req.Args {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(arg))
	}
	if len(req.Query) > 0 {
		sb.WriteByte('?')
		sb.WriteString(req.Query.Encode())
	}
	return sb.String()
}
