package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sipeed/picocode/pkg/logger"
)

const anthropicDefaultBaseURL = "https://api.anthropic.com"

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	client *anthropic.Client
}

func NewAnthropicProvider(apiKey, apiBase string) *AnthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(normalizeAnthropicBaseURL(apiBase)),
	)
	return &AnthropicProvider{client: &client}
}

func (p *AnthropicProvider) GetDefaultModel() string {
	return "claude-sonnet-4-5"
}

func (p *AnthropicProvider) Chat(
	ctx context.Context,
	messages []Message,
	tools []ToolDefinition,
	model string,
	opts Options,
) (*Response, error) {
	params := buildAnthropicParams(messages, tools, model, opts)

	if opts.OnDelta != nil {
		return p.chatStream(ctx, params, opts.OnDelta)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}
	return parseAnthropicResponse(resp), nil
}

// chatStream accumulates a streaming response, delivering text deltas to
// onDelta as they arrive. The returned Response is identical to what the
// non-streaming path would produce.
func (p *AnthropicProvider) chatStream(
	ctx context.Context,
	params anthropic.MessageNewParams,
	onDelta func(string),
) (*Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	var accumulated anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := accumulated.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulating stream event: %w", err)
		}
		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if td := e.Delta.AsTextDelta(); td.Text != "" {
				onDelta(td.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic streaming API call: %w", err)
	}
	return parseAnthropicResponse(&accumulated), nil
}

func buildAnthropicParams(
	messages []Message,
	tools []ToolDefinition,
	model string,
	opts Options,
) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam

	// The Anthropic API requires all tool_result blocks answering one
	// assistant tool_use turn to appear in a single user message directly
	// after it, so consecutive tool messages are merged.
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var blocks []anthropic.ContentBlockParamUnion
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					var args map[string]any
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil || args == nil {
						args = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
				}
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			} else {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case "tool":
			var toolBlocks []anthropic.ContentBlockParamUnion
			for i < len(messages) && messages[i].Role == "tool" {
				toolBlocks = append(toolBlocks,
					anthropic.NewToolResultBlock(messages[i].ToolCallID, messages[i].Content, false))
				i++
			}
			i-- // outer loop will increment
			out = append(out, anthropic.NewUserMessage(toolBlocks...))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(normalizeAnthropicModelID(model)),
		Messages:  out,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = translateAnthropicTools(tools)
	}
	return params
}

func translateAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Parameters["properties"],
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		switch req := t.Parameters["required"].(type) {
		case []string:
			tool.InputSchema.Required = req
		case []any:
			required := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
			tool.InputSchema.Required = required
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return result
}

func parseAnthropicResponse(resp *anthropic.Message) *Response {
	var content, reasoning string
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "thinking":
			reasoning += block.AsThinking().Thinking
		case "tool_use":
			tu := block.AsToolUse()
			args := string(tu.Input)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			})
		default:
			logger.DebugCF("provider", "Ignoring content block", map[string]any{"type": block.Type})
		}
	}

	finishReason := FinishStop
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		finishReason = FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		finishReason = FinishLength
	}

	usage := Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	if hit := int(resp.Usage.CacheReadInputTokens); hit > 0 {
		usage.CacheHitTokens = hit
		usage.CacheMissTokens = usage.InputTokens
	}

	return &Response{
		Content:          content,
		ReasoningContent: reasoning,
		ToolCalls:        toolCalls,
		FinishReason:     finishReason,
		Usage:            usage,
	}
}

func normalizeAnthropicModelID(model string) string {
	trimmed := strings.TrimSpace(model)
	if strings.HasPrefix(strings.ToLower(trimmed), "anthropic/") {
		return trimmed[len("anthropic/"):]
	}
	return trimmed
}

func normalizeAnthropicBaseURL(apiBase string) string {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		return anthropicDefaultBaseURL
	}
	return strings.TrimSuffix(base, "/v1")
}
