package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/tokens"
	"github.com/sipeed/picocode/pkg/utils"
)

const (
	summarizeTimeout     = 120 * time.Second
	summarizeMaxTokens   = 1024
	summarizeTemperature = 0.3

	// summaryShrinkFactor bounds summariser output to this fraction of its
	// input; longer output is truncated head-plus-tail to fit.
	summaryShrinkFactor = 4
)

// SecondaryModel is the lower-tier LLM capability used for compression and
// tool output summarisation.
type SecondaryModel struct {
	Provider providers.LLMProvider
	Model    string
}

func (sm SecondaryModel) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := sm.Provider.Chat(ctx,
		[]providers.Message{{Role: "user", Content: prompt}},
		nil,
		sm.Model,
		providers.Options{MaxTokens: summarizeMaxTokens, Temperature: summarizeTemperature},
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// clampSummary enforces the output budget: at most input/summaryShrinkFactor
// tokens, with a floor of 64 tokens for small inputs.
func clampSummary(summary string, inputTokens int) string {
	budget := inputTokens / summaryShrinkFactor
	if budget < 64 {
		budget = 64
	}
	if tokens.Estimate(summary) <= budget {
		return summary
	}
	return utils.TruncateMiddle(summary, budget*tokens.CharsPerToken)
}

// HistoryCompressor replaces older history with a single summary message.
// Failures never abort the main loop: compression is best-effort.
type HistoryCompressor struct {
	secondary SecondaryModel
}

func NewHistoryCompressor(secondary SecondaryModel) *HistoryCompressor {
	return &HistoryCompressor{secondary: secondary}
}

// MaybeCompress checks the trigger threshold and, when crossed, rewrites
// history through the secondary model. Emits compression events with
// before/after counts.
func (hc *HistoryCompressor) MaybeCompress(ctx context.Context, cm *ContextManager, stream *ExecutionStream) {
	usage := cm.HistoryUsageFraction()
	if usage < CompressionTrigger {
		return
	}
	if usage >= OverflowWarning {
		logger.WarnCF("compress", "Context usage near overflow", map[string]any{
			"usage": fmt.Sprintf("%.2f", usage),
		})
	}

	toSummarize, keep, ok := cm.compressionPlan()
	if !ok {
		return
	}

	before := CompressionEventData{
		BeforeMessages: len(toSummarize) + len(keep),
		BeforeTokens:   tokens.EstimateMessages(toSummarize) + tokens.EstimateMessages(keep),
	}
	stream.CompressionStart(before)

	summary, err := hc.summarize(ctx, toSummarize)
	if err != nil {
		// Leave history untouched; the loop goes on with what it has.
		logger.ErrorCF("compress", "History compression failed", map[string]any{"error": err.Error()})
		stream.CompressionComplete(CompressionEventData{
			BeforeMessages: before.BeforeMessages,
			AfterMessages:  before.BeforeMessages,
			BeforeTokens:   before.BeforeTokens,
			AfterTokens:    before.BeforeTokens,
		})
		return
	}

	if !cm.applyCompression(summary, keep) {
		logger.WarnCF("compress", "History changed during compression, result discarded", nil)
		return
	}

	after := CompressionEventData{
		BeforeMessages: before.BeforeMessages,
		AfterMessages:  len(cm.History()),
		BeforeTokens:   before.BeforeTokens,
		AfterTokens:    tokens.EstimateMessages(cm.History()),
	}
	stream.CompressionComplete(after)

	logger.InfoCF("compress", "History compressed", map[string]any{
		"messages_before": after.BeforeMessages,
		"messages_after":  after.AfterMessages,
		"tokens_before":   after.BeforeTokens,
		"tokens_after":    after.AfterTokens,
	})
}

func (hc *HistoryCompressor) summarize(ctx context.Context, batch []providers.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Summarize this conversation segment for future continuity.\n")
	sb.WriteString("Use concise markdown with sections: Intent, Decisions, Tool Results, Pending Actions, Constraints.\n")
	sb.WriteString("\nCONVERSATION:\n")
	inputTokens := 0
	for _, m := range batch {
		content := m.Content
		if m.Role == "tool" && len(content) > 1200 {
			content = content[:700] + "\n...\n[tool result condensed]\n...\n" + content[len(content)-300:]
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, content)
		inputTokens += tokens.Estimate(content)
	}

	summary, err := hc.secondary.complete(ctx, sb.String())
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return clampSummary(summary, inputTokens), nil
}

// ToolOutputSummarizer shrinks oversized tool output before it enters the
// conversation. On any failure the original body is returned unchanged.
type ToolOutputSummarizer struct {
	secondary SecondaryModel
}

func NewToolOutputSummarizer(secondary SecondaryModel) *ToolOutputSummarizer {
	return &ToolOutputSummarizer{secondary: secondary}
}

// Summarize condenses body, preserving the details a coding agent needs to
// keep acting on the result (paths, errors, counts, identifiers).
func (ts *ToolOutputSummarizer) Summarize(ctx context.Context, toolName, body string) string {
	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"The %s tool produced the output below. Summarize it for an AI coding agent, "+
			"preserving file paths, error messages, line numbers and counts exactly. "+
			"Be dense, not narrative.\n\nOUTPUT:\n%s",
		toolName, body,
	)

	summary, err := ts.secondary.complete(ctx, prompt)
	if err != nil || summary == "" {
		if err != nil {
			logger.ErrorCF("compress", "Tool output summarisation failed", map[string]any{
				"tool":  toolName,
				"error": err.Error(),
			})
		}
		return body
	}
	return clampSummary(summary, tokens.Estimate(body))
}
