// Package h2c binds calls to HTTP/2 over cleartext TCP.
package h2c

import (
	"context"
	"crypto/tls"
	"github.com/gotomicro/ekit/bean/option"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"net"
	"net/http"
	"svccall/message"
	"svccall/transport/rest"
	"time"
)

// NewTransport returns a rest transport whose client speaks HTTP/2 with prior knowledge.
func NewTransport(opts ...option.Option[rest.Transport]) *rest.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	client := &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     5 * time.Second,
		},
	}
	base := []option.Option[rest.Transport]{
		rest.WithHTTPClient(client),
		rest.WithKind(message.TransportH2C),
	}
	return rest.NewTransport(append(base, opts...)...)
}

// NewHandler serves HTTP/2 cleartext and HTTP/1.1 on the same listener.
func NewHandler(serviceName string, h message.Handler) http.Handler {
	return h2c.NewHandler(rest.NewServer(serviceName, h), &http2.Server{})
}
