// Package retry classifies API failures and re-runs idempotent operations
// under a bounded exponential backoff policy.
package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// ErrCredentialsExpired is reported when the locally held access token has
// expired and cannot be refreshed without the caller's involvement.
var ErrCredentialsExpired = errors.New("credentials expired")

// ErrorKind is the classification of a failed operation.
type ErrorKind string

const (
	// KindTransientNetwork covers connection, DNS, TLS and timeout failures.
	KindTransientNetwork ErrorKind = "transient_network"

	// KindTransientRateLimited represents HTTP 429 responses.
	KindTransientRateLimited ErrorKind = "transient_rate_limited"

	// KindTransientServer represents HTTP 5xx responses.
	KindTransientServer ErrorKind = "transient_server"

	// KindFatalClient represents 4xx responses other than 401, 403 and 429.
	KindFatalClient ErrorKind = "fatal_client"

	// KindFatalAuth represents 401/403 responses and expired credentials.
	KindFatalAuth ErrorKind = "fatal_auth"

	// KindFatalOther is everything else.
	KindFatalOther ErrorKind = "fatal_other"
)

// Retryable reports whether an error of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindTransientRateLimited, KindTransientServer:
		return true
	default:
		return false
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Classify decides how an error should be treated by the executor.
// Rules are evaluated in order and the first match wins.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	// A caller abandoning the operation is never worth retrying
	if errors.Is(err, context.Canceled) {
		return KindFatalOther
	}

	if isNetworkError(err) {
		return KindTransientNetwork
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		switch {
		case status == 429:
			return KindTransientRateLimited
		case status >= 500 && status <= 599:
			return KindTransientServer
		case status == 401 || status == 403:
			return KindFatalAuth
		case status >= 400 && status <= 499:
			return KindFatalClient
		}
	}

	if errors.Is(err, ErrCredentialsExpired) {
		return KindFatalAuth
	}

	return KindFatalOther
}

// IsRetryable is shorthand for Classify(err).Retryable().
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

func isNetworkError(err error) bool {
	// Errors carrying an HTTP status came back from the server
	var sc StatusCoder
	if errors.As(err, &sc) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}

	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}

	var certErr x509.CertificateInvalidError
	return errors.As(err, &certErr)
}
