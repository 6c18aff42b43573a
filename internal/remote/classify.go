package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// IsConnectionError reports whether err indicates the backend could not be
// reached at all (refused, reset, DNS failure), as opposed to an HTTP-level
// failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// IsTimeoutError reports whether err is a network timeout or a cancelled
// deadline.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsServerError reports whether the status code is a 5xx.
func IsServerError(code int) bool {
	return code >= 500
}

// IsClientError reports whether the status code is a 4xx.
func IsClientError(code int) bool {
	return code >= 400 && code < 500
}

// IsIdempotentMethod reports whether the HTTP method is safe to repeat.
func IsIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// SanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func SanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
