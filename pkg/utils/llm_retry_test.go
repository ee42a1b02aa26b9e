package utils

import (
	"context"
	"fmt"
	"testing"
)

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
		reason    RetryReason
	}{
		{nil, false, ""},
		{context.DeadlineExceeded, true, RetryReasonTimeout},
		{fmt.Errorf("request failed (Status: 500): upstream"), true, RetryReasonServerError},
		{fmt.Errorf("request failed (Status: 503): upstream"), true, RetryReasonServerError},
		{fmt.Errorf("request failed (Status: 429): slow down"), true, RetryReasonRateLimit},
		{fmt.Errorf("request failed (Status: 401): bad key"), false, ""},
		{fmt.Errorf("request failed (Status: 400): malformed"), false, ""},
		{fmt.Errorf("something unclassifiable"), false, ""},
	}

	for _, tc := range cases {
		got := IsRetryableError(tc.err)
		if got.Retryable != tc.retryable {
			t.Errorf("IsRetryableError(%v).Retryable = %v, want %v", tc.err, got.Retryable, tc.retryable)
		}
		if tc.retryable && got.Reason != tc.reason {
			t.Errorf("IsRetryableError(%v).Reason = %s, want %s", tc.err, got.Reason, tc.reason)
		}
	}
}

func TestParseHTTPStatusFromError(t *testing.T) {
	if s, ok := ParseHTTPStatusFromError("blah Status: 502 blah"); !ok || s != 502 {
		t.Errorf("got %d, %v", s, ok)
	}
	if s, ok := ParseHTTPStatusFromError("api status code: 404"); !ok || s != 404 {
		t.Errorf("got %d, %v", s, ok)
	}
	if _, ok := ParseHTTPStatusFromError("no status here"); ok {
		t.Error("false positive")
	}
}
