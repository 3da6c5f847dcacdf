package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an upstream failure that is safe to retry, such as a
// 429 from an Overpass mirror or a dropped connection mid tile download.
type TransientError struct {
	Err    error
	Status int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable, recording the HTTP status when known.
func Transient(err error, status int) *TransientError {
	return &TransientError{Err: err, Status: status}
}

// IsTransient reports whether err (or anything in its chain) is a
// TransientError or a recognizably temporary network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped client errors lose their type, so fall back to the message.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// RetryableStatus reports whether an HTTP status code indicates a transient
// server-side condition.
func RetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
