package highway

import (
	"context"
	"errors"
	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"io"
	"net"
	"net/url"
	"strconv"
	"svccall/message"
	"svccall/rpc/compress"
	"svccall/rpc/serialize"
	"sync"
	"time"
)

// Server dispatches highway frames to a message.Handler. Replies reuse the
// compressor the request was sent with.
type Server struct {
	serviceName string
	handler     message.Handler
	logger      *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(serviceName string, h message.Handler, opts ...option.Option[Server]) *Server {
	s := &Server{
		serviceName: serviceName,
		handler:     h,
		logger:      zap.NewNop(),
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ServerWithLogger(l *zap.Logger) option.Option[Server] {
	return func(s *Server) {
		s.logger = l
	}
}

// Start listens on address and serves until Close.
func (s *Server) Start(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()
		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("highway accept", zap.Error(err))
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			if er := s.handleConn(conn); er != nil && !errors.Is(er, io.EOF) && !s.isClosed() {
				s.logger.Debug("highway connection closed", zap.Error(er))
			}
		}()
	}
}

// Addr is the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) handleConn(conn net.Conn) error {
	for {
		bs, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		req, err := DecodeReq(bs)
		if err != nil {
			return err
		}
		resp := s.invoke(req)
		if _, err = conn.Write(EncodeResp(resp)); err != nil {
			return err
		}
	}
}

func (s *Server) invoke(req *Request) *Response {
	resp := &Response{
		MessageId:  req.MessageId,
		Version:    Version,
		Serializer: req.Serializer,
	}
	c, err := compress.ByCode(req.Compressor)
	if err != nil {
		resp.Status = 400
		resp.Error = err.Error()
		return resp
	}
	resp.Compressor = c.Code()
	body, err := c.Uncompress(req.Data)
	if err != nil {
		resp.Status = 400
		resp.Error = err.Error()
		return resp
	}
	query, err := url.ParseQuery(req.RawQuery)
	if err != nil {
		resp.Status = 400
		resp.Error = err.Error()
		return resp
	}

	ctx := context.Background()
	cancel := func() {}
	if ms, err := strconv.ParseInt(req.Meta[metaDeadline], 10, 64); err == nil {
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(ms))
	}
	defer cancel()
	delete(req.Meta, metaDeadline)

	inv := &message.Invocation{
		ServiceName: s.serviceName,
		Operation:   req.Operation,
		Method:      req.Method,
		Args:        req.Args,
		Query:       query,
		Headers:     req.Meta,
		Body:        body,
	}
	if ser, err := serialize.ByCode(req.Serializer); err == nil {
		inv.ContentType = ser.ContentType()
	}
	reply := s.handler.Handle(ctx, inv)
	resp.Status = uint16(reply.Status())
	resp.Meta = reply.Headers
	resp.Data, err = c.Compress(reply.Body)
	if err != nil {
		resp.Status = 500
		resp.Error = err.Error()
		resp.Data = nil
	}
	return resp
}
