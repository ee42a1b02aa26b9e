package agent

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/providers"
)

// State is the execution stream's state machine position.
type State string

const (
	StateIdle           State = "idle"
	StateThinking       State = "thinking"
	StateToolExecuting  State = "tool_executing"
	StateStreaming      State = "streaming"
	StateWaitingConfirm State = "waiting_confirm"
	StateCompleted      State = "completed"
	StateError          State = "error"
	StateCancelled      State = "cancelled"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// ExecStats are the counters accumulated over one Run.
type ExecStats struct {
	StartTime       time.Time     `json:"start_time"`
	Elapsed         time.Duration `json:"elapsed"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	TotalTokens     int           `json:"total_tokens"`
	CacheHitTokens  int           `json:"cache_hit_tokens,omitempty"`
	CacheMissTokens int           `json:"cache_miss_tokens,omitempty"`
	ToolCallCount   int           `json:"tool_call_count"`
	LoopCount       int           `json:"loop_count"`
}

// ToolCallInfo records one tool call for the snapshot history.
type ToolCallInfo struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Status   string `json:"status"`
}

// Snapshot is an immutable view of the stream. Observers may hold it but
// never mutate the stream through it.
type Snapshot struct {
	State            State          `json:"state"`
	StatusPhrase     string         `json:"status_phrase"`
	Stats            ExecStats      `json:"stats"`
	CurrentToolCall  *ToolCallInfo  `json:"current_tool_call,omitempty"`
	ToolCallHistory  []ToolCallInfo `json:"tool_call_history"`
	Thinking         string         `json:"thinking,omitempty"`
	StreamingContent string         `json:"streaming_content"`
	Error            string         `json:"error,omitempty"`
}

var statusPhrases = []string{
	"Thinking...",
	"Reading the problem...",
	"Working through it...",
	"Connecting the dots...",
	"Checking the details...",
	"Almost there...",
}

type subscription struct {
	id uint64
	fn Subscriber
}

// ExecutionStream is the event bus and state machine the engine publishes
// through. All transitions and emits happen under one mutex so subscribers
// observe events in a consistent order; the phrase ticker goes through the
// same lock.
type ExecutionStream struct {
	mu          sync.Mutex
	state       State
	snapshot    Snapshot
	subscribers []*subscription
	nextSubID   uint64

	tickerStop chan struct{}
}

func NewExecutionStream() *ExecutionStream {
	return &ExecutionStream{
		state:    StateIdle,
		snapshot: Snapshot{State: StateIdle},
	}
}

// On registers a subscriber and returns its removal handle.
func (es *ExecutionStream) On(fn Subscriber) func() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.nextSubID++
	sub := &subscription{id: es.nextSubID, fn: fn}
	es.subscribers = append(es.subscribers, sub)

	id := sub.id
	return func() {
		es.mu.Lock()
		defer es.mu.Unlock()
		for i, s := range es.subscribers {
			if s.id == id {
				es.subscribers = append(es.subscribers[:i], es.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (es *ExecutionStream) Snapshot() Snapshot {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.copySnapshotLocked()
}

func (es *ExecutionStream) copySnapshotLocked() Snapshot {
	snap := es.snapshot
	snap.ToolCallHistory = append([]ToolCallInfo(nil), es.snapshot.ToolCallHistory...)
	if es.snapshot.CurrentToolCall != nil {
		cur := *es.snapshot.CurrentToolCall
		snap.CurrentToolCall = &cur
	}
	if !snap.Stats.StartTime.IsZero() {
		snap.Stats.Elapsed = time.Since(snap.Stats.StartTime)
	}
	return snap
}

// emitLocked invokes subscribers synchronously in registration order.
// Caller holds es.mu; subscriber panics are contained.
func (es *ExecutionStream) emitLocked(event Event) {
	for _, sub := range es.subscribers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorCF("stream", "Event subscriber panicked", map[string]any{
						"event": string(event.Type),
						"panic": fmt.Sprintf("%v", rec),
					})
				}
			}()
			sub.fn(event)
		}()
	}
}

func (es *ExecutionStream) setStateLocked(state State) {
	es.state = state
	es.snapshot.State = state
	if state.terminal() {
		es.stopTickerLocked()
	}
}

// Start transitions idle → thinking-ready and begins stat collection.
func (es *ExecutionStream) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot = Snapshot{State: StateIdle, Stats: ExecStats{StartTime: time.Now()}}
	es.setStateLocked(StateIdle)
	es.emitLocked(Event{Type: EventExecutionStart})
}

func (es *ExecutionStream) IncrementLoop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.Stats.LoopCount++
	es.emitLocked(Event{Type: EventExecutionLoop, Data: StatsEventData{Stats: es.snapshot.Stats}})
}

func (es *ExecutionStream) StartThinking() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.setStateLocked(StateThinking)
	es.snapshot.Thinking = ""
	es.startTickerLocked()
	es.emitLocked(Event{Type: EventThinkingStart})
}

func (es *ExecutionStream) ThinkingDelta(text string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.Thinking += text
	es.emitLocked(Event{Type: EventThinkingDelta, Data: TextEventData{Text: text}})
}

func (es *ExecutionStream) CompleteThinking(reasoning string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if reasoning != "" {
		es.snapshot.Thinking = reasoning
	}
	es.emitLocked(Event{Type: EventThinkingComplete, Data: TextEventData{Text: es.snapshot.Thinking}})
}

func (es *ExecutionStream) ToolValidating(callID, toolName string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.CurrentToolCall = &ToolCallInfo{CallID: callID, ToolName: toolName, Status: "validating"}
	es.emitLocked(Event{Type: EventToolValidating, Data: ToolEventData{CallID: callID, ToolName: toolName}})
}

func (es *ExecutionStream) ToolAwaitingApproval(callID, toolName string, confirm any) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.setStateLocked(StateWaitingConfirm)
	if es.snapshot.CurrentToolCall != nil {
		es.snapshot.CurrentToolCall.Status = "awaiting_approval"
	}
	es.emitLocked(Event{Type: EventToolAwaitingApproval, Data: ToolEventData{
		CallID:   callID,
		ToolName: toolName,
		Confirm:  confirm,
	}})
}

func (es *ExecutionStream) ToolExecuting(callID, toolName string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.setStateLocked(StateToolExecuting)
	es.snapshot.CurrentToolCall = &ToolCallInfo{CallID: callID, ToolName: toolName, Status: "executing"}
	es.startTickerLocked()
	es.emitLocked(Event{Type: EventToolExecuting, Data: ToolEventData{CallID: callID, ToolName: toolName}})
}

func (es *ExecutionStream) ToolOutput(callID, toolName, delta string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.emitLocked(Event{Type: EventToolOutput, Data: ToolEventData{CallID: callID, ToolName: toolName, Delta: delta}})
}

func (es *ExecutionStream) ToolComplete(callID, toolName, summary string) {
	es.finishTool(callID, toolName, "complete", EventToolComplete, summary)
}

func (es *ExecutionStream) ToolError(callID, toolName, errMsg string) {
	es.finishTool(callID, toolName, "error", EventToolError, errMsg)
}

func (es *ExecutionStream) ToolCancelled(callID, toolName string) {
	es.finishTool(callID, toolName, "cancelled", EventToolCancelled, "")
}

func (es *ExecutionStream) finishTool(callID, toolName, status string, eventType EventType, summary string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.ToolCallHistory = append(es.snapshot.ToolCallHistory, ToolCallInfo{
		CallID:   callID,
		ToolName: toolName,
		Status:   status,
	})
	es.snapshot.CurrentToolCall = nil
	es.snapshot.Stats.ToolCallCount++
	es.emitLocked(Event{Type: eventType, Data: ToolEventData{CallID: callID, ToolName: toolName, Summary: summary}})
}

func (es *ExecutionStream) ContentDelta(text string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.setStateLocked(StateStreaming)
	es.snapshot.StreamingContent += text
	es.emitLocked(Event{Type: EventContentDelta, Data: TextEventData{Text: text}})
}

func (es *ExecutionStream) ContentComplete(content string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.StreamingContent = content
	es.emitLocked(Event{Type: EventContentComplete, Data: TextEventData{Text: content}})
}

func (es *ExecutionStream) UpdateStats(usage providers.Usage) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.Stats.InputTokens += usage.InputTokens
	es.snapshot.Stats.OutputTokens += usage.OutputTokens
	es.snapshot.Stats.TotalTokens += usage.InputTokens + usage.OutputTokens
	es.snapshot.Stats.CacheHitTokens += usage.CacheHitTokens
	es.snapshot.Stats.CacheMissTokens += usage.CacheMissTokens
	es.emitLocked(Event{Type: EventStatsUpdate, Data: StatsEventData{Stats: es.snapshot.Stats}})
}

func (es *ExecutionStream) CompressionStart(data CompressionEventData) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.emitLocked(Event{Type: EventCompressionStart, Data: data})
}

func (es *ExecutionStream) CompressionComplete(data CompressionEventData) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.emitLocked(Event{Type: EventCompressionComplete, Data: data})
}

func (es *ExecutionStream) Complete() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.setStateLocked(StateCompleted)
	es.emitLocked(Event{Type: EventExecutionComplete, Data: StatsEventData{Stats: es.snapshot.Stats}})
}

func (es *ExecutionStream) Error(kind ErrorKind, message string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.snapshot.Error = message
	es.setStateLocked(StateError)
	es.emitLocked(Event{Type: EventExecutionError, Data: ErrorEventData{Kind: kind, Message: message}})
}

func (es *ExecutionStream) Cancel() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.setStateLocked(StateCancelled)
	es.emitLocked(Event{Type: EventExecutionCancel})
}

// State returns the current state machine position.
func (es *ExecutionStream) State() State {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.state
}

// startTickerLocked begins status phrase rotation if it is not running.
// Phrases change every 3-5 seconds while thinking or executing a tool.
func (es *ExecutionStream) startTickerLocked() {
	if es.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	es.tickerStop = stop
	es.snapshot.StatusPhrase = statusPhrases[0]

	go func() {
		for {
			delay := time.Duration(3000+rand.Intn(2000)) * time.Millisecond
			select {
			case <-stop:
				return
			case <-time.After(delay):
			}

			es.mu.Lock()
			if es.tickerStop != stop {
				es.mu.Unlock()
				return
			}
			if es.state == StateThinking || es.state == StateToolExecuting {
				phrase := statusPhrases[rand.Intn(len(statusPhrases))]
				es.snapshot.StatusPhrase = phrase
				es.emitLocked(Event{Type: EventStatusPhrase, Data: TextEventData{Text: phrase}})
			}
			es.mu.Unlock()
		}
	}()
}

func (es *ExecutionStream) stopTickerLocked() {
	if es.tickerStop != nil {
		close(es.tickerStop)
		es.tickerStop = nil
	}
	es.snapshot.StatusPhrase = ""
}
