package providers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/utils"
)

const (
	// DefaultMaxAttempts is the retry budget for one logical completion.
	DefaultMaxAttempts = 3

	retryBaseDelay = 500 * time.Millisecond
)

// RetryingProvider wraps an LLMProvider with a retry budget for transient
// failures (timeouts, 5xx, 429) and paces outgoing calls with a token
// bucket so bursts of loop iterations do not hammer the API.
type RetryingProvider struct {
	inner       LLMProvider
	maxAttempts int
	limiter     *rate.Limiter
}

func NewRetryingProvider(inner LLMProvider, requestsPerMinute int) *RetryingProvider {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RetryingProvider{
		inner:       inner,
		maxAttempts: DefaultMaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute/6+1),
	}
}

func (p *RetryingProvider) GetDefaultModel() string {
	return p.inner.GetDefaultModel()
}

func (p *RetryingProvider) Chat(
	ctx context.Context,
	messages []Message,
	tools []ToolDefinition,
	model string,
	opts Options,
) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := p.inner.Chat(ctx, messages, tools, model, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		decision := utils.IsRetryableError(err)
		if !decision.Retryable || attempt == p.maxAttempts {
			break
		}

		backoff := retryBaseDelay << (attempt - 1)
		logger.WarnCF("provider", "LLM call failed, retrying", map[string]any{
			"attempt": attempt,
			"backoff": backoff.String(),
			"reason":  string(decision.Reason),
			"error":   err.Error(),
		})
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("LLM call failed after retries: %w", lastErr)
}
