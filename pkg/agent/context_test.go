package agent

import (
	"testing"

	"github.com/sipeed/picocode/pkg/providers"
)

func TestFormatForLLMSequenceLegality(t *testing.T) {
	cm := NewContextManager(1000)
	cm.AddSystemFragment("You are a test agent.")
	cm.AddSystemFragment("Second fragment.")

	cm.AddUser("do two things")
	cm.AddAssistant("on it", []providers.ToolCall{
		{ID: "a", Name: "read_file", Arguments: `{"file_path":"x"}`},
		{ID: "b", Name: "read_file", Arguments: `{"file_path":"y"}`},
	}, "")
	cm.AddTool("a", "read_file", "contents of x")
	cm.AddTool("b", "read_file", "contents of y")
	cm.AddAssistant("done", nil, "")

	messages, err := cm.FormatForLLM()
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	if messages[0].Role != "system" {
		t.Fatalf("first message role = %s, want system", messages[0].Role)
	}
	if messages[0].Content != "You are a test agent.\n\nSecond fragment." {
		t.Errorf("system prompt joins fragments with blank lines, got %q", messages[0].Content)
	}

	// assistant with N tool calls is followed by exactly N matching tool
	// messages, in call order.
	if messages[2].Role != "assistant" || len(messages[2].ToolCalls) != 2 {
		t.Fatalf("unexpected message shape at index 2: %+v", messages[2])
	}
	if messages[3].ToolCallID != "a" || messages[4].ToolCallID != "b" {
		t.Errorf("tool replies out of order: %s, %s", messages[3].ToolCallID, messages[4].ToolCallID)
	}
}

func TestFormatForLLMRefusesMalformedSequence(t *testing.T) {
	cm := NewContextManager(1000)
	cm.AddUser("hi")
	// Tool message with no preceding assistant tool_call.
	cm.AddTool("ghost", "read_file", "orphan")

	if _, err := cm.FormatForLLM(); err == nil {
		t.Fatal("expected invariant violation")
	} else if KindOf(err) != ErrorKindInvariant {
		t.Errorf("error kind = %s, want invariant", KindOf(err))
	}
}

func TestFormatForLLMRefusesMissingReply(t *testing.T) {
	cm := NewContextManager(1000)
	cm.AddUser("hi")
	cm.AddAssistant("", []providers.ToolCall{{ID: "a", Name: "grep", Arguments: `{}`}}, "")

	if _, err := cm.FormatForLLM(); err == nil {
		t.Fatal("expected invariant violation for dangling tool_call")
	}
}

func TestArchiveTurnAtomicity(t *testing.T) {
	cm := NewContextManager(1000)
	cm.AddUser("q")
	cm.AddAssistant("a", nil, "")

	before := len(cm.CurrentTurn())
	cm.ArchiveTurn()

	if got := len(cm.History()); got != before {
		t.Errorf("history grew by %d, want %d", got, before)
	}
	if len(cm.CurrentTurn()) != 0 {
		t.Error("current turn must be empty after archive")
	}
}

func TestSanitizeTurnIdempotent(t *testing.T) {
	cm := NewContextManager(1000)
	cm.AddUser("q")
	cm.AddAssistant("calling", []providers.ToolCall{{ID: "a", Name: "grep", Arguments: `{}`}}, "")

	cm.SanitizeTurn()
	once := cm.CurrentTurn()

	cm.SanitizeTurn()
	twice := cm.CurrentTurn()

	if len(once) != 1 || once[0].Role != "user" {
		t.Fatalf("sanitize once = %+v, want only the user message", once)
	}
	if len(twice) != len(once) {
		t.Errorf("sanitize is not idempotent: %d vs %d", len(twice), len(once))
	}
}

func TestSanitizeTurnKeepsCompletePairs(t *testing.T) {
	cm := NewContextManager(1000)
	cm.AddUser("q")
	cm.AddAssistant("", []providers.ToolCall{{ID: "a", Name: "grep", Arguments: `{}`}}, "")
	cm.AddTool("a", "grep", "result")

	cm.SanitizeTurn()
	if got := len(cm.CurrentTurn()); got != 3 {
		t.Errorf("complete pairs must survive sanitize, got %d messages", got)
	}
}

func TestTokenUsagePrefersReported(t *testing.T) {
	cm := NewContextManager(500)
	cm.AddUser("some message content here")

	used, limit := cm.TokenUsage()
	if limit != 500 {
		t.Errorf("limit = %d, want 500", limit)
	}
	if used == 0 {
		t.Error("estimate should be non-zero")
	}

	cm.NoteReportedUsage(321)
	used, _ = cm.TokenUsage()
	if used != 321 {
		t.Errorf("used = %d, want API-reported 321", used)
	}
}
