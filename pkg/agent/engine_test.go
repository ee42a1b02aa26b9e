package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/tools"
)

// eventRecorder captures the event stream for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (er *eventRecorder) record(event Event) {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.events = append(er.events, event)
}

func (er *eventRecorder) types() []EventType {
	er.mu.Lock()
	defer er.mu.Unlock()
	out := make([]EventType, len(er.events))
	for i, e := range er.events {
		out[i] = e.Type
	}
	return out
}

func (er *eventRecorder) count(t EventType) int {
	n := 0
	for _, et := range er.types() {
		if et == t {
			n++
		}
	}
	return n
}

type testEngineOptions struct {
	maxLoops    int
	toolTimeout time.Duration
	confirm     ConfirmFunc
	mode        config.ApprovalMode
	extraTools  []*tools.Spec
	workspace   string
}

func newTestEngine(t *testing.T, provider providers.LLMProvider, opts testEngineOptions) (*Engine, *eventRecorder) {
	t.Helper()

	if opts.maxLoops == 0 {
		opts.maxLoops = 10
	}
	if opts.workspace == "" {
		opts.workspace = t.TempDir()
	}

	recorder := &eventRecorder{}
	stream := NewExecutionStream()
	stream.On(recorder.record)

	registry := tools.NewRegistry()
	for _, spec := range opts.extraTools {
		if err := registry.Register(spec); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}

	cfg := config.DefaultConfig()
	scheduler := NewToolScheduler(stream, SchedulerOptions{
		ApprovalMode: opts.mode,
		Confirm:      opts.confirm,
		ToolTimeout:  opts.toolTimeout,
	})

	ctxMgr := NewContextManager(100000)
	engine := NewEngine(
		provider,
		registry,
		scheduler,
		ctxMgr,
		NewStatsManager(cfg),
		stream,
		NewHistoryCompressor(SecondaryModel{Provider: provider, Model: "mock-model"}),
		tools.ExecContext{Workspace: opts.workspace, Cwd: opts.workspace},
		EngineOptions{Model: "mock-model", MaxLoops: opts.maxLoops},
	)
	return engine, recorder
}

// readFileSpec is a minimal read_file used by the loop scenarios.
func readFileSpec(workspace string) *tools.Spec {
	return &tools.Spec{
		Name:        "read_file",
		Category:    tools.CategoryRead,
		Description: "Read a file",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
			},
			"required": []string{"file_path"},
		},
		ReadOnly: true,
		Run: func(ctx context.Context, args json.RawMessage, ec tools.ExecContext) tools.Result {
			var p struct {
				FilePath string `json:"file_path"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return tools.Errorf("bad args: %v", err)
			}
			data, err := os.ReadFile(filepath.Join(workspace, p.FilePath))
			if err != nil {
				return tools.Errorf("%v", err)
			}
			return tools.Ok(string(data))
		},
	}
}

func TestRunReadThenSummarise(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "README.md"), []byte("picocode is a coding agent."), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	provider := &mockProvider{
		responses: []providers.Response{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "call_1", Name: "read_file", Arguments: `{"file_path":"README.md"}`},
				},
				FinishReason: providers.FinishToolCalls,
				Usage:        providers.Usage{InputTokens: 100, OutputTokens: 20},
			},
			{
				Content:      "README says picocode is a coding agent.",
				FinishReason: providers.FinishStop,
				Usage:        providers.Usage{InputTokens: 150, OutputTokens: 15},
			},
		},
	}

	engine, recorder := newTestEngine(t, provider, testEngineOptions{
		workspace:  workspace,
		extraTools: []*tools.Spec{readFileSpec(workspace)},
	})

	result := engine.Run(context.Background(), "summarise README.md in one sentence")

	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}
	if result.LoopCount != 2 {
		t.Errorf("expected 2 loops, got %d", result.LoopCount)
	}
	if result.FinalText == "" {
		t.Error("expected non-empty final text")
	}

	history := engine.Context().History()
	if len(history) != 4 {
		t.Fatalf("expected 4 history messages, got %d", len(history))
	}
	wantRoles := []string{"user", "assistant", "tool", "assistant"}
	for i, role := range wantRoles {
		if history[i].Role != role {
			t.Errorf("history[%d] role = %s, want %s", i, history[i].Role, role)
		}
	}
	if len(history[1].ToolCalls) != 1 {
		t.Errorf("expected assistant message with 1 tool call, got %d", len(history[1].ToolCalls))
	}
	if history[2].ToolCallID != "call_1" {
		t.Errorf("tool message answers %q, want call_1", history[2].ToolCallID)
	}

	if got := engine.Stream().Snapshot().Stats.ToolCallCount; got != 1 {
		t.Errorf("tool_call_count = %d, want 1", got)
	}
	if len(engine.Context().CurrentTurn()) != 0 {
		t.Error("current turn should be empty after archive")
	}
	if recorder.count(EventExecutionComplete) != 1 {
		t.Error("expected one execution:complete event")
	}
}

func TestRunToolErrorDoesNotAbortLoop(t *testing.T) {
	provider := &mockProvider{
		responses: []providers.Response{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "call_1", Name: "read_file", Arguments: `{"file_path":"missing.txt"}`},
				},
				FinishReason: providers.FinishToolCalls,
			},
			{Content: "The file does not exist.", FinishReason: providers.FinishStop},
		},
	}

	workspace := t.TempDir()
	engine, _ := newTestEngine(t, provider, testEngineOptions{
		workspace:  workspace,
		extraTools: []*tools.Spec{readFileSpec(workspace)},
	})

	result := engine.Run(context.Background(), "read missing.txt")
	if !result.Success {
		t.Fatalf("loop should continue past tool errors: %v", result.Err)
	}

	history := engine.Context().History()
	if len(history) != 4 {
		t.Fatalf("expected 4 history messages, got %d", len(history))
	}
	if history[2].Role != "tool" || history[2].Content == "" {
		t.Error("tool error text should become the tool message")
	}
}

func TestRunUnknownToolBecomesToolMessage(t *testing.T) {
	provider := &mockProvider{
		responses: []providers.Response{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "call_1", Name: "no_such_tool", Arguments: `{}`},
				},
				FinishReason: providers.FinishToolCalls,
			},
			{Content: "ok", FinishReason: providers.FinishStop},
		},
	}

	engine, recorder := newTestEngine(t, provider, testEngineOptions{})
	result := engine.Run(context.Background(), "call something odd")
	if !result.Success {
		t.Fatalf("run failed: %v", result.Err)
	}

	history := engine.Context().History()
	if history[2].Role != "tool" {
		t.Fatalf("expected tool message, got %s", history[2].Role)
	}
	if want := "Error: Unknown tool: no_such_tool"; history[2].Content != want {
		t.Errorf("tool message = %q, want %q", history[2].Content, want)
	}
	if recorder.count(EventToolError) != 1 {
		t.Error("expected one tool:error event")
	}
}

func TestRunBudgetSafety(t *testing.T) {
	// The provider always asks for another tool call; the loop cap must
	// terminate the run.
	provider := &mockProvider{
		responses: []providers.Response{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "call_x", Name: "no_such_tool", Arguments: `{}`},
				},
				FinishReason: providers.FinishToolCalls,
			},
		},
	}

	engine, recorder := newTestEngine(t, provider, testEngineOptions{maxLoops: 3})
	result := engine.Run(context.Background(), "loop forever")

	if result.Success {
		t.Fatal("expected failure at loop cap")
	}
	if KindOf(result.Err) != ErrorKindCapability {
		t.Errorf("error kind = %s, want capability", KindOf(result.Err))
	}
	if got := recorder.count(EventExecutionLoop); got != 3 {
		t.Errorf("expected 3 execution:loop events, got %d", got)
	}
	if recorder.count(EventExecutionError) != 1 {
		t.Error("expected one execution:error event")
	}
	if recorder.count(EventExecutionComplete) != 0 {
		t.Error("no execution:complete after loop cap")
	}
}

func TestRunCancellationMidTool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blocking := &tools.Spec{
		Name:        "block",
		Description: "Blocks until cancelled",
		Parameters:  map[string]any{"type": "object"},
		Run: func(ctx context.Context, args json.RawMessage, ec tools.ExecContext) tools.Result {
			<-ctx.Done()
			return tools.Errorf("interrupted")
		},
	}

	provider := &mockProvider{
		responses: []providers.Response{
			{
				ToolCalls: []providers.ToolCall{
					{ID: "call_1", Name: "block", Arguments: `{}`},
				},
				FinishReason: providers.FinishToolCalls,
			},
		},
	}

	engine, recorder := newTestEngine(t, provider, testEngineOptions{extraTools: []*tools.Spec{blocking}})

	// Cancel as soon as the tool starts executing.
	engine.Stream().On(func(event Event) {
		if event.Type == EventToolExecuting {
			cancel()
		}
	})

	result := engine.Run(ctx, "find all calls to foo")

	if result.Success {
		t.Fatal("cancelled run must not succeed")
	}
	if KindOf(result.Err) != ErrorKindCancelled {
		t.Fatalf("error kind = %s, want cancelled", KindOf(result.Err))
	}

	if recorder.count(EventToolCancelled) == 0 {
		t.Error("expected tool:cancelled event")
	}
	if recorder.count(EventExecutionCancel) != 1 {
		t.Error("expected execution:cancel event")
	}

	// The dangling assistant-with-tool_calls is sanitised away: only the
	// user message remains, and history is untouched.
	turn := engine.Context().CurrentTurn()
	if len(turn) != 1 || turn[0].Role != "user" {
		t.Fatalf("current turn = %+v, want only the user message", turn)
	}
	if len(engine.Context().History()) != 0 {
		t.Error("history must be unchanged on cancellation")
	}
}

func TestRunLLMFailureLeavesTurnIntact(t *testing.T) {
	provider := &mockProvider{err: fmt.Errorf("boom (Status: 401)")}

	engine, recorder := newTestEngine(t, provider, testEngineOptions{})
	result := engine.Run(context.Background(), "hello")

	if result.Success {
		t.Fatal("expected failure")
	}
	if KindOf(result.Err) != ErrorKindCapability {
		t.Errorf("error kind = %s, want capability", KindOf(result.Err))
	}
	// CurrentTurn stays available for inspection.
	turn := engine.Context().CurrentTurn()
	if len(turn) != 1 || turn[0].Role != "user" {
		t.Fatalf("current turn = %+v, want the user message", turn)
	}
	if recorder.count(EventExecutionError) != 1 {
		t.Error("expected execution:error event")
	}
}
