package provider

import (
	"errors"
	"fmt"
	"go.uber.org/zap"
	"net"
	"net/http"
	"sort"
	"svccall/message"
	"svccall/registry"
	grpctransport "svccall/transport/grpc"
	"svccall/transport/h2c"
	"svccall/transport/highway"
	"svccall/transport/rest"
	"sync"
)

// Servers runs one listener per transport kind for the same handler.
type Servers struct {
	serviceName string
	logger      *zap.Logger

	mu        sync.Mutex
	endpoints map[message.TransportKind]string
	closers   []func() error
}

// Serve listens on listen[kind] for each kind ("127.0.0.1:0" picks a free
// port) and serves h. On error every server already started is closed.
func Serve(serviceName string, h message.Handler, listen map[message.TransportKind]string, logger *zap.Logger) (*Servers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Servers{
		serviceName: serviceName,
		logger:      logger,
		endpoints:   make(map[message.TransportKind]string, len(listen)),
	}
	for kind, addr := range listen {
		if err := s.start(kind, addr, h); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("provider: serve %s on %s: %w", kind, addr, err)
		}
	}
	return s, nil
}

func (s *Servers) start(kind message.TransportKind, addr string, h message.Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown transport %q", kind)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	var (
		serve func() error
		stop  func() error
	)
	switch kind {
	case message.TransportRest, message.TransportH2C:
		var handler http.Handler = rest.NewServer(s.serviceName, h)
		if kind == message.TransportH2C {
			handler = h2c.NewHandler(s.serviceName, h)
		}
		srv := &http.Server{Handler: handler}
		serve = func() error {
			if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
		stop = srv.Close
	case message.TransportHighway:
		srv := highway.NewServer(s.serviceName, h, highway.ServerWithLogger(s.logger))
		serve = func() error {
			return srv.Serve(l)
		}
		stop = srv.Close
	case message.TransportGRPC:
		srv := grpctransport.NewServer(s.serviceName, h)
		serve = func() error {
			return srv.Serve(l)
		}
		stop = func() error {
			srv.Stop()
			return nil
		}
	}
	go func() {
		if err := serve(); err != nil {
			s.logger.Error("provider server stopped", zap.String("transport", string(kind)), zap.Error(err))
		}
	}()
	s.mu.Lock()
	s.endpoints[kind] = l.Addr().String()
	s.closers = append(s.closers, stop)
	s.mu.Unlock()
	s.logger.Info("provider listening",
		zap.String("service", s.serviceName),
		zap.String("transport", string(kind)),
		zap.String("address", l.Addr().String()))
	return nil
}

// Address returns where kind is served.
func (s *Servers) Address(kind message.TransportKind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.endpoints[kind]
	return addr, ok
}

// Instance describes the running servers for a registry.
func (s *Servers) Instance(instanceID string) registry.ServiceInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	eps := make([]string, 0, len(s.endpoints))
	for kind, addr := range s.endpoints {
		eps = append(eps, registry.Endpoint(kind, addr))
	}
	sort.Strings(eps)
	return registry.ServiceInstance{ServiceName: s.serviceName, InstanceID: instanceID, Endpoints: eps}
}

func (s *Servers) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	var first error
	for _, c := range closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
