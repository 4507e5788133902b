package rest

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"svccall/message"
	"svccall/transport"
)

// Server adapts a message.Handler to net/http. Paths are /<schema>/<op>/<args...>.
type Server struct {
	serviceName string
	handler     message.Handler
}

func NewServer(serviceName string, h message.Handler) *Server {
	return &Server{serviceName: serviceName, handler: h}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invocation(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if inv == nil {
		http.NotFound(w, r)
		return
	}
	reply := s.handler.Handle(r.Context(), inv)
	for k, v := range reply.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(reply.Status())
	_, _ = w.Write(reply.Body)
}

func (s *Server) invocation(r *http.Request) (*message.Invocation, error) {
	segs := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/")
	if len(segs) < 2 || segs[0] == "" || segs[1] == "" {
		return nil, nil
	}
	args := make([]string, 0, len(segs)-2)
	for _, seg := range segs[2:] {
		arg, err := url.PathUnescape(seg)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return &message.Invocation{
		ServiceName: s.serviceName,
		Operation:   segs[0] + "." + segs[1],
		Method:      r.Method,
		Args:        args,
		Query:       r.URL.Query(),
		Headers:     transport.FlattenHeader(r.Header),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	}, nil
}
