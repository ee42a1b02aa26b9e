package agent

import (
	"context"
	"sync"

	"github.com/sipeed/picocode/pkg/providers"
)

// mockProvider returns scripted responses in sequence. When the script
// runs out, the last response repeats.
type mockProvider struct {
	mu        sync.Mutex
	callCount int
	index     int
	responses []providers.Response
	err       error

	// onChat, when set, runs inside each call (for cancellation tests).
	onChat func(ctx context.Context)
}

func (m *mockProvider) Chat(
	ctx context.Context,
	messages []providers.Message,
	tools []providers.ToolDefinition,
	model string,
	opts providers.Options,
) (*providers.Response, error) {
	m.mu.Lock()
	m.callCount++
	onChat := m.onChat
	err := m.err
	var resp providers.Response
	if len(m.responses) > 0 {
		if m.index >= len(m.responses) {
			m.index = len(m.responses) - 1
		}
		resp = m.responses[m.index]
		m.index++
	} else {
		resp = providers.Response{Content: "Mock response", FinishReason: providers.FinishStop}
	}
	m.mu.Unlock()

	if onChat != nil {
		onChat(ctx)
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &resp, nil
}

func (m *mockProvider) GetDefaultModel() string {
	return "mock-model"
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
