package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"svccall/message"
	"svccall/transport"
)

// Server answers every /<service>/<operation> method through one handler.
type Server struct {
	serviceName string
	handler     message.Handler
	srv         *grpc.Server
}

func NewServer(serviceName string, h message.Handler, opts ...grpc.ServerOption) *Server {
	s := &Server{serviceName: serviceName, handler: h}
	base := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnknownServiceHandler(s.handle),
	}
	s.srv = grpc.NewServer(append(base, opts...)...)
	return s
}

func (s *Server) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

func (s *Server) Stop() {
	s.srv.Stop()
}

func (s *Server) GracefulStop() {
	s.srv.GracefulStop()
}

func (s *Server) handle(_ any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}
	parts := strings.SplitN(strings.TrimPrefix(fullMethod, "/"), "/", 2)
	if len(parts) != 2 || parts[0] != s.serviceName {
		return status.Errorf(codes.Unimplemented, "unknown method %s", fullMethod)
	}
	in := &envelope{}
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	query, err := url.ParseQuery(in.Query)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	headers := in.Headers
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		// transport-level metadata such as trace context
		for k, v := range transport.FlattenHeader(md) {
			if _, exists := headers[k]; !exists && !reserved(k) {
				if headers == nil {
					headers = make(map[string]string)
				}
				headers[k] = v
			}
		}
	}
	reply := s.handler.Handle(stream.Context(), &message.Invocation{
		ServiceName: s.serviceName,
		Operation:   parts[1],
		Method:      in.Method,
		Args:        in.Args,
		Query:       query,
		Headers:     headers,
		Body:        in.Body,
		ContentType: in.ContentType,
	})
	code := reply.Status()
	if !transport.IsSuccess(code) {
		stream.SetTrailer(metadata.Pairs(statusTrailer, strconv.Itoa(code)))
		return status.Error(grpcCode(code), string(reply.Body))
	}
	return stream.SendMsg(&replyEnvelope{Status: code, Headers: reply.Headers, Body: reply.Body})
}

func reserved(key string) bool {
	switch key {
	case "content-type", "user-agent", "te":
		return true
	}
	return strings.HasPrefix(key, ":") || strings.HasPrefix(key, "grpc-")
}

func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	}
	return codes.Unknown
}
