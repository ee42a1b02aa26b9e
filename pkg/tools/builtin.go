package tools

import (
	"github.com/sipeed/picocode/pkg/search"
)

// BuiltinOptions wires the shared collaborators of the built-in tool set.
type BuiltinOptions struct {
	Searcher *search.Searcher
	Globber  *search.Globber
	Todos    *TodoStore

	// Subagent is optional; the task tool is skipped when nil (sub-agents
	// do not get their own task tool).
	Subagent SubagentRunner
}

// RegisterBuiltins registers the standard tool catalogue.
func RegisterBuiltins(reg *Registry, opts BuiltinOptions) error {
	specs := []*Spec{
		NewReadFileTool(),
		NewWriteFileTool(),
		NewEditFileTool(),
		NewListFilesTool(),
		NewGrepTool(opts.Searcher),
		NewGlobTool(opts.Globber),
		NewBashTool(),
		NewTodoWriteTool(opts.Todos),
		NewTodoReadTool(opts.Todos),
	}
	if opts.Subagent != nil {
		specs = append(specs, NewTaskTool(opts.Subagent))
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}
