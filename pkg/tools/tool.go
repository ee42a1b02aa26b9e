// PicoCode - terminal coding agent
// License: MIT
//
// Copyright (c) 2026 PicoCode contributors

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Category groups tools for approval policy decisions.
type Category string

const (
	CategoryRead   Category = "read"
	CategoryEdit   Category = "edit"
	CategoryShell  Category = "shell"
	CategorySearch Category = "search"
	CategoryTask   Category = "task"
	CategoryTodo   Category = "todo"
)

// ConfirmPolicy describes how a tool participates in the confirmation gate.
type ConfirmPolicy int

const (
	// ConfirmNone never asks: the tool is read-only or otherwise harmless.
	ConfirmNone ConfirmPolicy = iota
	// ConfirmRegular asks unless the approval mode or allowlist waives it.
	ConfirmRegular
	// ConfirmEdit asks like ConfirmRegular but is waived by auto_edit mode.
	ConfirmEdit
	// ConfirmShell asks like ConfirmRegular; forbidden command roots stay
	// gated even under yolo.
	ConfirmShell
)

// Result is the outcome of one tool execution. A failed execution carries
// Error; Warning is advisory (e.g. a degraded search strategy).
type Result struct {
	OK      bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func Ok(data any) Result {
	return Result{OK: true, Data: data}
}

func Errorf(format string, args ...any) Result {
	return Result{OK: false, Error: fmt.Sprintf(format, args...)}
}

// ExecContext carries per-call execution state into an executor.
type ExecContext struct {
	// Workspace is the root the agent operates in.
	Workspace string
	// Cwd is the directory relative paths resolve against.
	Cwd string
	// RestrictToWorkspace confines file access to the workspace.
	RestrictToWorkspace bool

	// OnOutput, when non-nil, receives incremental output from
	// long-running executors.
	OnOutput func(delta string)
}

// Executor runs a tool. args is the validated raw JSON argument object;
// executors unmarshal it into their own typed parameter record.
type Executor func(ctx context.Context, args json.RawMessage, ec ExecContext) Result

// Renderer converts a Result into the stable string placed in the next
// LLM turn (and shown in the UI).
type Renderer func(res Result) string

// ConfirmRequest carries what an approver needs to render a preview.
type ConfirmRequest struct {
	// Key identifies the operation in the allowlist. Defaults to the tool
	// name; the bash tool uses "bash:" followed by the command root.
	Key string `json:"key"`
	// Path, Preview and Command are optional display hints.
	Path    string `json:"path,omitempty"`
	Preview string `json:"preview,omitempty"`
	Command string `json:"command,omitempty"`
}

// Spec is the immutable registration record for one tool.
type Spec struct {
	Name        string
	Category    Category
	Description string

	// Parameters is a JSON-Schema-shaped object: type=object with typed
	// properties and required. Compiled and enforced by the registry.
	Parameters map[string]any

	ReadOnly bool
	Confirm  ConfirmPolicy

	Run    Executor
	Render Renderer

	// ConfirmDetails derives the approval preview from the raw arguments.
	// Nil means a bare request keyed by the tool name.
	ConfirmDetails func(args json.RawMessage) ConfirmRequest
}
