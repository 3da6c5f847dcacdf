package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"transient wrapper", Transient(errors.New("busy"), 429), true},
		{"wrapped transient", fmt.Errorf("fetch: %w", Transient(errors.New("busy"), 503)), true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message heuristic", errors.New("read tcp: i/o timeout"), true},
		{"dns heuristic", errors.New("lookup overpass.example: no such host"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !RetryableStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		if RetryableStatus(code) {
			t.Errorf("expected %d not to be retryable", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := Transient(inner, 500)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	if te.Error() != "inner" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
