package message

import (
	"net/url"
	"strings"
	"svccall/internal/errs"
	"time"
)

// TransportKind names one concrete network binding.
type TransportKind string

const (
	TransportRest    TransportKind = "rest"
	TransportH2C     TransportKind = "h2c"
	TransportHighway TransportKind = "highway"
	TransportGRPC    TransportKind = "grpc"
)

func (k TransportKind) Valid() bool {
	switch k {
	case TransportRest, TransportH2C, TransportHighway, TransportGRPC:
		return true
	}
	return false
}

// ServiceEndpoint identifies a callable unit. Treat it as a value.
type ServiceEndpoint struct {
	ServiceName string
	// Operation is <schema>.<op>, e.g. controller.sayhi
	Operation string
	// Transport may be empty, the invoker then picks the configured one.
	Transport TransportKind
}

// Key is the metrics key of the endpoint.
func (e ServiceEndpoint) Key() string {
	return e.ServiceName + "." + e.Operation
}

// Path is the REST path of the operation, without positional args.
func (e ServiceEndpoint) Path() string {
	return "/" + strings.ReplaceAll(e.Operation, ".", "/")
}

// CallRequest is built per call and owned by the invoker until the call completes.
type CallRequest struct {
	Endpoint ServiceEndpoint
	Method   string
	// Args are the path segments after <schema>/<op>, unescaped.
	Args        []string
	Query       url.Values
	Headers     map[string]string
	Payload     []byte
	ContentType string
	Serializer  byte
	Timeout     time.Duration

	// Address is host:port of the chosen instance, set by endpoint resolution.
	Address string
}

// CallResult is either a success (Err == nil) or a failure.
type CallResult struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Err        *errs.CallError
	Attempts   int
}

func (r *CallResult) Success() bool {
	return r.Err == nil
}

// Status is the metrics bucket of the result.
func (r *CallResult) Status() string {
	if r.Success() {
		return StatusSuccess
	}
	return StatusFailure
}

const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

func Succeed(status int, body []byte, headers map[string]string) *CallResult {
	return &CallResult{StatusCode: status, Body: body, Headers: headers}
}

func Fail(err *errs.CallError) *CallResult {
	return &CallResult{StatusCode: err.StatusCode, Body: err.Body, Err: err}
}
