// PicoCode - terminal coding agent
// License: MIT
//
// Copyright (c) 2026 PicoCode contributors

package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the semantic classification of a failure, independent of
// its Go source type.
type ErrorKind string

const (
	// ErrorKindUserInput covers malformed tool arguments and unknown tool
	// names. Never retried; the LLM sees the text and self-corrects.
	ErrorKindUserInput ErrorKind = "user_input"
	// ErrorKindToolExecution is a tool executor failure. The loop continues.
	ErrorKindToolExecution ErrorKind = "tool_execution"
	// ErrorKindTimeout is a tool exceeding its deadline. Treated like a
	// tool failure, recorded distinctly for metrics.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindCancelled is an external abort. The loop terminates cleanly.
	ErrorKindCancelled ErrorKind = "cancelled"
	// ErrorKindCapability is an LLM or secondary-model failure after
	// retries. Propagates out of the engine.
	ErrorKindCapability ErrorKind = "capability"
	// ErrorKindInvariant is a message-sequence validation failure. Fatal:
	// it indicates a bug, and the engine refuses to send a malformed body.
	ErrorKindInvariant ErrorKind = "invariant"
	// ErrorKindConfig is a boot-time configuration problem.
	ErrorKindConfig ErrorKind = "config"
)

// AgentError attaches an ErrorKind to an underlying error.
type AgentError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, msg string, err error) *AgentError {
	return &AgentError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the semantic kind of err, defaulting to capability for
// unclassified errors (the only unclassified failures that can escape the
// engine are provider-side).
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindCapability
}
