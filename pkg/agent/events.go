// PicoCode - terminal coding agent
// License: MIT
//
// Copyright (c) 2026 PicoCode contributors

package agent

// EventType identifies one lifecycle event published by the execution
// stream. The namespace prefix groups related events.
type EventType string

const (
	EventExecutionStart    EventType = "execution:start"
	EventExecutionLoop     EventType = "execution:loop"
	EventExecutionComplete EventType = "execution:complete"
	EventExecutionError    EventType = "execution:error"
	EventExecutionCancel   EventType = "execution:cancel"

	EventThinkingStart    EventType = "thinking:start"
	EventThinkingDelta    EventType = "thinking:delta"
	EventThinkingComplete EventType = "thinking:complete"

	EventToolValidating       EventType = "tool:validating"
	EventToolAwaitingApproval EventType = "tool:awaiting_approval"
	EventToolExecuting        EventType = "tool:executing"
	EventToolOutput           EventType = "tool:output"
	EventToolComplete         EventType = "tool:complete"
	EventToolError            EventType = "tool:error"
	EventToolCancelled        EventType = "tool:cancelled"

	EventContentDelta    EventType = "content:delta"
	EventContentComplete EventType = "content:complete"

	EventStatsUpdate EventType = "stats:update"

	EventCompressionStart    EventType = "compression:start"
	EventCompressionComplete EventType = "compression:complete"

	EventStatusPhrase EventType = "status:phrase"
)

// Event is one published lifecycle event. Data holds the payload type for
// the event's namespace, or nil.
type Event struct {
	Type EventType
	Data any
}

// ToolEventData accompanies every tool:* event.
type ToolEventData struct {
	CallID   string
	ToolName string
	// Summary carries the rendered result on tool:complete and the error
	// text on tool:error.
	Summary string
	// Delta carries incremental output on tool:output.
	Delta string
	// Confirm carries the approval preview on tool:awaiting_approval.
	Confirm any
}

// TextEventData accompanies thinking:*, content:* and status:phrase events.
type TextEventData struct {
	Text string
}

// ErrorEventData accompanies execution:error.
type ErrorEventData struct {
	Kind    ErrorKind
	Message string
}

// CompressionEventData accompanies compression:start and
// compression:complete.
type CompressionEventData struct {
	BeforeMessages int
	AfterMessages  int
	BeforeTokens   int
	AfterTokens    int
}

// StatsEventData accompanies stats:update with a snapshot of the counters.
type StatsEventData struct {
	Stats ExecStats
}

// Subscriber consumes events. Handlers run synchronously on the emitting
// goroutine in registration order; panics are recovered and logged and do
// not interrupt the emitter.
type Subscriber func(event Event)
