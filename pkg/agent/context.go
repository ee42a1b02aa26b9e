package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/tokens"
)

// Compression thresholds as fractions of the model's context window.
const (
	// CompressionTrigger is the history usage fraction that triggers
	// compression after a completed loop iteration.
	CompressionTrigger = 0.70
	// CompressionPreserve is the fraction of recent history kept verbatim.
	CompressionPreserve = 0.30
	// OverflowWarning is the usage fraction above which a warning is logged
	// even when compression already ran.
	OverflowWarning = 0.95
)

// ContextManager owns the three sub-contexts of one agent: the system
// prompt fragments, the archived history of completed turns, and the
// in-flight current turn. Only the manager mutates them; everyone else
// sees copies.
type ContextManager struct {
	mu sync.Mutex

	systemFragments []string
	history         []providers.Message
	currentTurn     []providers.Message

	modelLimit int

	// lastReportedInput is the most recent API-reported input token count,
	// preferred over the estimate when available.
	lastReportedInput int
}

func NewContextManager(modelLimit int) *ContextManager {
	if modelLimit <= 0 {
		modelLimit = 128000
	}
	return &ContextManager{modelLimit: modelLimit}
}

// AddSystemFragment appends one prompt fragment. Fragments are joined
// with blank lines when formatting.
func (cm *ContextManager) AddSystemFragment(fragment string) {
	if strings.TrimSpace(fragment) == "" {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.systemFragments = append(cm.systemFragments, fragment)
}

func (cm *ContextManager) systemPromptLocked() string {
	return strings.Join(cm.systemFragments, "\n\n")
}

// AddUser starts the turn with the user's message.
func (cm *ContextManager) AddUser(text string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.currentTurn = append(cm.currentTurn, providers.Message{Role: "user", Content: text})
}

// AddAssistant appends an assistant message with optional tool calls and
// an opaque reasoning echo.
func (cm *ContextManager) AddAssistant(content string, toolCalls []providers.ToolCall, reasoning string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.currentTurn = append(cm.currentTurn, providers.Message{
		Role:             "assistant",
		Content:          content,
		ToolCalls:        append([]providers.ToolCall(nil), toolCalls...),
		ReasoningContent: reasoning,
	})
}

// AddTool appends a tool reply for one call.
func (cm *ContextManager) AddTool(toolCallID, name, content string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.currentTurn = append(cm.currentTurn, providers.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: toolCallID,
		Name:       name,
	})
}

// FormatForLLM concatenates system prompt, history and current turn. The
// sequence invariant is validated first: rather than send a malformed
// body, the manager refuses with an invariant error.
func (cm *ContextManager) FormatForLLM() ([]providers.Message, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conversation := make([]providers.Message, 0, len(cm.history)+len(cm.currentTurn)+1)
	conversation = append(conversation, cm.history...)
	conversation = append(conversation, cm.currentTurn...)

	if err := validateSequence(conversation); err != nil {
		return nil, newError(ErrorKindInvariant, "message sequence validation failed", err)
	}

	out := make([]providers.Message, 0, len(conversation)+1)
	if prompt := cm.systemPromptLocked(); prompt != "" {
		out = append(out, providers.Message{Role: "system", Content: prompt})
	}
	out = append(out, conversation...)
	return out, nil
}

// validateSequence enforces: every assistant message with N tool calls is
// followed by exactly N tool messages whose ids match in order, and no
// tool message appears anywhere else.
func validateSequence(messages []providers.Message) error {
	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role == "tool" {
			return fmt.Errorf("tool message at index %d has no preceding assistant tool_call", i)
		}
		if msg.Role != "assistant" || len(msg.ToolCalls) == 0 {
			continue
		}

		for j, tc := range msg.ToolCalls {
			replyIdx := i + 1 + j
			if replyIdx >= len(messages) || messages[replyIdx].Role != "tool" {
				return fmt.Errorf("assistant tool_call %q at index %d is missing its tool reply", tc.ID, i)
			}
			if messages[replyIdx].ToolCallID != tc.ID {
				return fmt.Errorf("tool reply at index %d answers %q, expected %q",
					replyIdx, messages[replyIdx].ToolCallID, tc.ID)
			}
		}
		i += len(msg.ToolCalls)
	}
	return nil
}

// ArchiveTurn moves the entire current turn into history atomically and
// empties the turn.
func (cm *ContextManager) ArchiveTurn() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.history = append(cm.history, cm.currentTurn...)
	cm.currentTurn = nil
}

// SanitizeTurn drops a trailing assistant message whose tool calls have no
// matching replies. Used on cancellation so the abandoned turn never
// produces a malformed request. Idempotent.
func (cm *ContextManager) SanitizeTurn() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for len(cm.currentTurn) > 0 {
		last := cm.currentTurn[len(cm.currentTurn)-1]
		if last.Role != "assistant" || len(last.ToolCalls) == 0 {
			return
		}
		// An assistant-with-tool_calls is only legal when all replies
		// follow it; as the last message it is dangling by definition.
		cm.currentTurn = cm.currentTurn[:len(cm.currentTurn)-1]
		logger.DebugCF("context", "Dropped dangling assistant tool_calls on sanitize",
			map[string]any{"tool_calls": len(last.ToolCalls)})
	}
}

// History returns a copy of the archived history.
func (cm *ContextManager) History() []providers.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return append([]providers.Message(nil), cm.history...)
}

// CurrentTurn returns a copy of the in-flight turn.
func (cm *ContextManager) CurrentTurn() []providers.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return append([]providers.Message(nil), cm.currentTurn...)
}

// SetHistory replaces the archived history (checkpoint restore).
func (cm *ContextManager) SetHistory(messages []providers.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.history = append([]providers.Message(nil), messages...)
	cm.currentTurn = nil
}

// NoteReportedUsage records the API-reported input token count.
func (cm *ContextManager) NoteReportedUsage(inputTokens int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if inputTokens > 0 {
		cm.lastReportedInput = inputTokens
	}
}

// TokenUsage returns the used token count (API-reported if available,
// estimated otherwise) and the model limit.
func (cm *ContextManager) TokenUsage() (used, limit int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.lastReportedInput > 0 {
		return cm.lastReportedInput, cm.modelLimit
	}
	used = tokens.Estimate(cm.systemPromptLocked()) +
		tokens.EstimateMessages(cm.history) +
		tokens.EstimateMessages(cm.currentTurn)
	return used, cm.modelLimit
}

// ModelLimit returns the context window size in tokens.
func (cm *ContextManager) ModelLimit() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.modelLimit
}

// HistoryUsageFraction is the compression pressure signal: estimated
// history tokens over the model limit.
func (cm *ContextManager) HistoryUsageFraction() float64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return float64(tokens.EstimateMessages(cm.history)) / float64(cm.modelLimit)
}

// compressionPlan splits history into the oldest portion to summarise and
// the newest portion to preserve verbatim. Returns ok=false when history
// is too small to compress meaningfully.
func (cm *ContextManager) compressionPlan() (toSummarize, keep []providers.Message, ok bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	n := len(cm.history)
	if n < 4 {
		return nil, nil, false
	}

	keepCount := (n*3 + 9) / 10 // ceil(n × CompressionPreserve)
	if keepCount >= n {
		return nil, nil, false
	}
	cut := n - keepCount

	toSummarize = append([]providers.Message(nil), cm.history[:cut]...)
	keep = append([]providers.Message(nil), cm.history[cut:]...)
	return toSummarize, keep, true
}

// applyCompression replaces the summarised prefix with a single system
// message and keeps the preserved suffix untouched. keep must still be the
// history tail; if the history changed since the plan was made, the result
// is discarded.
func (cm *ContextManager) applyCompression(summary string, keep []providers.Message) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if len(keep) > len(cm.history) {
		return false
	}
	tail := cm.history[len(cm.history)-len(keep):]
	for i := range keep {
		if tail[i].Role != keep[i].Role || tail[i].Content != keep[i].Content {
			return false
		}
	}

	compressed := make([]providers.Message, 0, len(keep)+1)
	compressed = append(compressed, providers.Message{
		Role:    "system",
		Content: "[conversation summary] " + summary,
	})
	compressed = append(compressed, keep...)
	cm.history = sanitizeHistoryPairs(compressed)
	// The next API call re-reports input tokens; until then estimates rule.
	cm.lastReportedInput = 0
	return true
}

// sanitizeHistoryPairs removes orphaned halves of assistant/tool pairs
// that a compression cut may have split.
func sanitizeHistoryPairs(messages []providers.Message) []providers.Message {
	callIDs := make(map[string]bool)
	replyIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role == "assistant" {
			for _, tc := range m.ToolCalls {
				callIDs[tc.ID] = true
			}
		}
		if m.Role == "tool" {
			replyIDs[m.ToolCallID] = true
		}
	}

	out := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == "tool":
			if callIDs[m.ToolCallID] {
				out = append(out, m)
			}
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			complete := true
			for _, tc := range m.ToolCalls {
				if !replyIDs[tc.ID] {
					complete = false
					break
				}
			}
			if complete {
				out = append(out, m)
			} else if m.Content != "" {
				out = append(out, providers.Message{Role: "assistant", Content: m.Content})
			}
		default:
			out = append(out, m)
		}
	}
	return out
}
