package utils

import (
	"context"
	"errors"
	"strings"
)

type RetryReason string

const (
	RetryReasonTimeout     RetryReason = "timeout"
	RetryReasonServerError RetryReason = "server_error"
	RetryReasonRateLimit   RetryReason = "rate_limit"
)

type RetryDecision struct {
	Retryable bool
	Status    int
	Reason    RetryReason
}

// IsRetryableError classifies an LLM transport error. Timeouts, 5xx and 429
// are retryable; everything else (auth, malformed request, billing) is not.
func IsRetryableError(err error) RetryDecision {
	if err == nil {
		return RetryDecision{}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return RetryDecision{Retryable: true, Reason: RetryReasonTimeout}
	}

	msg := err.Error()
	if strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout") {
		return RetryDecision{Retryable: true, Reason: RetryReasonTimeout}
	}

	if s, ok := ParseHTTPStatusFromError(msg); ok {
		switch {
		case s == 429:
			return RetryDecision{Retryable: true, Status: s, Reason: RetryReasonRateLimit}
		case s >= 500 && s <= 599:
			return RetryDecision{Retryable: true, Status: s, Reason: RetryReasonServerError}
		}
		return RetryDecision{Retryable: false, Status: s}
	}

	return RetryDecision{}
}

// ParseHTTPStatusFromError extracts an HTTP status code from provider error
// strings of the form "... Status: NNN ..." or "... status code: NNN ...".
func ParseHTTPStatusFromError(msg string) (int, bool) {
	for _, prefix := range []string{"Status:", "status code:", "status:"} {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		s := strings.TrimSpace(msg[idx+len(prefix):])
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == 3 {
			status := int(s[0]-'0')*100 + int(s[1]-'0')*10 + int(s[2]-'0')
			return status, true
		}
	}
	return 0, false
}
