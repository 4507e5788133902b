package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransport       = errors.New("svccall: no transport available")
	ErrNoInstance        = errors.New("svccall: no instance exposes the transport")
	ErrInvalidURI        = errors.New("svccall: invalid service uri")
	ErrInvalidOperation  = errors.New("svccall: operation must be <schema>.<op>")
	ErrMissingURIVar     = errors.New("svccall: missing uri variable")
	ErrServiceTyp        = errors.New("svccall: service must be a pointer to struct")
	ErrFrameTooShort     = errors.New("svccall: frame shorter than its header")
	ErrFrameLength       = errors.New("svccall: frame length mismatch")
	ErrFrameTooLarge     = errors.New("svccall: frame exceeds the maximum length")
	ErrUnknownCompressor = errors.New("svccall: unknown compressor")
	ErrUnknownSerializer = errors.New("svccall: unknown serializer")
	ErrFlowControl       = errors.New("svccall: rejected by qps flow control")
)

var (
	ErrProtoSerializeTyp   = errors.New("serialize: serialization must be proto Message Type")
	ErrProtoDeserializeTyp = errors.New("serialize: deserialization must be proto.Message type")
)

// Kind classifies a failed call.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransportTransient is retryable: timeout, connection reset or refused.
	KindTransportTransient
	// KindTransportFatal is not retryable: resolution, TLS, malformed response.
	KindTransportFatal
	// KindApplicationFailure is a non-success response that carries a body.
	KindApplicationFailure
	// KindNoTransportAvailable is a configuration error.
	KindNoTransportAvailable
	// KindInvalidRequest means the request could not be built.
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindTransportTransient:
		return "TransportTransient"
	case KindTransportFatal:
		return "TransportFatal"
	case KindApplicationFailure:
		return "ApplicationFailure"
	case KindNoTransportAvailable:
		return "NoTransportAvailable"
	case KindInvalidRequest:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindTransportTransient
}

// CallError is the failure variant of a call result.
type CallError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Body       []byte
	Cause      error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("svccall: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("svccall: %s: %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// New builds a CallError of kind k around cause.
func New(k Kind, cause error) *CallError {
	return &CallError{Kind: k, Message: cause.Error(), Cause: cause}
}

// Newf builds a CallError without an underlying cause.
func Newf(k Kind, format string, args ...any) *CallError {
	return &CallError{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Application builds an ApplicationFailure from a status code and response body.
func Application(status int, body []byte) *CallError {
	msg := string(body)
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	return &CallError{Kind: KindApplicationFailure, Message: msg, StatusCode: status, Body: body}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
