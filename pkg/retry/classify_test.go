package retry

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, want: KindTransientNetwork},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: KindTransientNetwork},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "api.example.com"}, want: KindTransientNetwork},
		{name: "timeout", err: timeoutErr{}, want: KindTransientNetwork},
		{name: "url error", err: &url.Error{Op: "Get", URL: "https://api.example.com", Err: io.EOF}, want: KindTransientNetwork},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: KindTransientNetwork},
		{name: "tls unknown authority", err: x509.UnknownAuthorityError{}, want: KindTransientNetwork},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: KindTransientNetwork},
		{name: "cancelled", err: &url.Error{Op: "Get", URL: "https://api.example.com", Err: context.Canceled}, want: KindFatalOther},
		{name: "429", err: statusErr(429), want: KindTransientRateLimited},
		{name: "500", err: statusErr(500), want: KindTransientServer},
		{name: "503 wrapped", err: fmt.Errorf("list customers: %w", statusErr(503)), want: KindTransientServer},
		{name: "599", err: statusErr(599), want: KindTransientServer},
		{name: "401", err: statusErr(401), want: KindFatalAuth},
		{name: "403", err: statusErr(403), want: KindFatalAuth},
		{name: "400", err: statusErr(400), want: KindFatalClient},
		{name: "404", err: statusErr(404), want: KindFatalClient},
		{name: "422", err: statusErr(422), want: KindFatalClient},
		{name: "credentials expired", err: fmt.Errorf("token holder: %w", ErrCredentialsExpired), want: KindFatalAuth},
		{name: "other", err: errors.New("json: cannot unmarshal"), want: KindFatalOther},
		{name: "status 302", err: statusErr(302), want: KindFatalOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_NetworkBeforeCredentials(t *testing.T) {
	// a refresh that failed on the wire is retryable even though it
	// happened while renewing credentials
	err := fmt.Errorf("%w: %w", ErrCredentialsExpired, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED})
	if got := Classify(err); got != KindTransientNetwork {
		t.Errorf("Classify() = %q, want %q", got, KindTransientNetwork)
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "canceled beats status", err: errors.Join(context.Canceled, statusErr(503)), want: KindFatalOther},
		{name: "network beats credentials", err: errors.Join(ErrCredentialsExpired, io.ErrUnexpectedEOF), want: KindTransientNetwork},
		{name: "response status is not a network error", err: errors.Join(io.ErrUnexpectedEOF, statusErr(400)), want: KindFatalClient},
		{name: "status beats credentials", err: errors.Join(statusErr(503), ErrCredentialsExpired), want: KindTransientServer},
		{name: "credentials without status", err: fmt.Errorf("token: %w", ErrCredentialsExpired), want: KindFatalAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindTransientNetwork, true},
		{KindTransientRateLimited, true},
		{KindTransientServer, true},
		{KindFatalClient, false},
		{KindFatalAuth, false},
		{KindFatalOther, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(statusErr(502)) {
		t.Error("IsRetryable(502) = false, want true")
	}
	if IsRetryable(statusErr(404)) {
		t.Error("IsRetryable(404) = true, want false")
	}
}
