package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"svccall/internal/errs"
	"svccall/message"
	"syscall"
)

// Classify sorts a transport-level error into transient or fatal.
func Classify(err error) errs.Kind {
	if err == nil {
		return errs.KindUnknown
	}
	switch {
	case errors.Is(err, context.Canceled):
		return errs.KindTransportFatal
	case errors.Is(err, context.DeadlineExceeded):
		return errs.KindTransportTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errs.KindTransportFatal
	}
	if isTLS(err) {
		return errs.KindTransportFatal
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed):
		return errs.KindTransportTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.KindTransportTransient
	}
	return errs.KindTransportFatal
}

func isTLS(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		unknownErr x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

// Failure turns a network error into a failed result of the classified kind.
func Failure(err error) *message.CallResult {
	return message.Fail(errs.New(Classify(err), err))
}

// Malformed reports a response that could not be decoded.
func Malformed(err error) *message.CallResult {
	return message.Fail(&errs.CallError{
		Kind:    errs.KindTransportFatal,
		Message: "malformed response: " + err.Error(),
		Cause:   err,
	})
}

// IsSuccess reports whether a HTTP-style status code is a success.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// FlattenHeader keeps the first value of each header under its lower-cased name.
func FlattenHeader(h map[string][]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	res := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			res[strings.ToLower(k)] = v[0]
		}
	}
	return res
}

// LowerKeys copies h with lower-cased keys.
func LowerKeys(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	res := make(map[string]string, len(h))
	for k, v := range h {
		res[strings.ToLower(k)] = v
	}
	return res
}
