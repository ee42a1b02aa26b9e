package providers

import (
	"context"
	"fmt"
	"testing"
)

type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (f *flakyProvider) Chat(
	ctx context.Context,
	messages []Message,
	tools []ToolDefinition,
	model string,
	opts Options,
) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Response{Content: "ok", FinishReason: FinishStop}, nil
}

func (f *flakyProvider) GetDefaultModel() string { return "flaky" }

func TestRetryingProviderRetriesTransientErrors(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: fmt.Errorf("upstream died (Status: 503)")}
	p := NewRetryingProvider(inner, 6000)

	resp, err := p.Chat(context.Background(), nil, nil, "m", Options{})
	if err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryingProviderGivesUpAfterBudget(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: fmt.Errorf("upstream died (Status: 500)")}
	p := NewRetryingProvider(inner, 6000)

	_, err := p.Chat(context.Background(), nil, nil, "m", Options{})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if inner.calls != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", inner.calls, DefaultMaxAttempts)
	}
}

func TestRetryingProviderDoesNotRetryAuthErrors(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: fmt.Errorf("forbidden (Status: 401)")}
	p := NewRetryingProvider(inner, 6000)

	_, err := p.Chat(context.Background(), nil, nil, "m", Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if inner.calls != 1 {
		t.Errorf("non-retryable error retried %d times", inner.calls)
	}
}

func TestRetryingProviderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyProvider{}
	p := NewRetryingProvider(inner, 6000)

	if _, err := p.Chat(ctx, nil, nil, "m", Options{}); err == nil {
		t.Fatal("cancelled context must fail the call")
	}
}
