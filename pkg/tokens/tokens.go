// Package tokens provides a cheap character-based token estimate.
// Precision is not required: callers compare the estimate against soft
// percentage thresholds of a model's context window.
package tokens

import "github.com/sipeed/picocode/pkg/providers"

// CharsPerToken is the assumed average characters per token.
const CharsPerToken = 4

// Estimate returns ceil(len(text)/4). Deterministic and pure.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessages sums the estimate over every textual field of the
// messages: content (including tool result content), reasoning content, and
// each tool call's name and argument JSON all count against the context
// window.
func EstimateMessages(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
		total += Estimate(m.ReasoningContent)
		for _, tc := range m.ToolCalls {
			total += Estimate(tc.Name)
			total += Estimate(tc.Arguments)
		}
	}
	return total
}
