package svccall

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"svccall/message"
	"svccall/metrics"
)

// Client is the entry point of callers. It shares its Invoker, and the
// Invoker's metrics registry, with every other Client built on it.
type Client struct {
	invoker *Invoker
	metrics *metrics.Registry
}

func NewClient(invoker *Invoker) *Client {
	return &Client{invoker: invoker, metrics: invoker.Metrics()}
}

// Response is the successful answer of Exchange.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Call invokes serviceName's operation and returns the response body. The
// error is a *errs.CallError.
func (c *Client) Call(ctx context.Context, serviceName, operation string, payload any, opts ...CallOption) ([]byte, error) {
	res := c.invoker.Invoke(ctx, message.ServiceEndpoint{ServiceName: serviceName, Operation: operation}, payload, opts...)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Body, nil
}

// GetForObject GETs uri, expanded with uriVars, into out.
func (c *Client) GetForObject(ctx context.Context, uri string, out any, uriVars ...any) error {
	_, err := c.Exchange(ctx, http.MethodGet, uri, nil, nil, out, uriVars...)
	return err
}

// PostForObject POSTs body to uri, expanded with uriVars, and decodes the answer into out.
func (c *Client) PostForObject(ctx context.Context, uri string, body, out any, uriVars ...any) error {
	_, err := c.Exchange(ctx, http.MethodPost, uri, nil, body, out, uriVars...)
	return err
}

// Exchange sends any method with headers and body. out may be nil.
func (c *Client) Exchange(ctx context.Context, method, uri string, headers map[string]string,
	body, out any, uriVars ...any) (*Response, error) {
	req, err := newRequest(method, uri, headers, body, uriVars)
	var res *message.CallResult
	if err != nil {
		res = c.invoker.Reject(req, err)
	} else {
		res = c.invoker.Do(ctx, req)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	resp := &Response{StatusCode: res.StatusCode, Headers: res.Headers, Body: res.Body}
	if err = decodeBody(res, out); err != nil {
		return resp, fmt.Errorf("svccall: decode response of %s: %w", req.Endpoint.Key(), err)
	}
	return resp, nil
}

// Metrics is a point-in-time copy of the call counters.
func (c *Client) Metrics() metrics.Snapshot {
	return c.metrics.Snapshot()
}

// SetTransport switches the transport used for serviceName.
func (c *Client) SetTransport(serviceName string, kind message.TransportKind) {
	c.invoker.SetTransport(serviceName, kind)
}

func newRequest(method, uri string, headers map[string]string, body any, uriVars []any) (*message.CallRequest, error) {
	req := &message.CallRequest{Method: strings.ToUpper(method)}
	// the template alone names the operation, so that a bad variable is still counted
	if tmpl, err := ParseURI(uri); err == nil {
		req.Endpoint = tmpl.Endpoint()
	}
	expanded, err := ExpandURI(uri, uriVars...)
	if err != nil {
		return req, err
	}
	u, err := ParseURI(expanded)
	if err != nil {
		return req, err
	}
	req.Endpoint = u.Endpoint()
	req.Args = u.Args
	req.Query = u.Query
	if len(headers) > 0 {
		req.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			req.Headers[strings.ToLower(k)] = v
		}
	}
	if err = setPayload(req, body); err != nil {
		return req, err
	}
	return req, nil
}
