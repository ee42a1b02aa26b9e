package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// SubagentRunner runs a prompt in a fresh engine with its own context and
// scheduler. Progress lines stream back through onProgress. Provided by
// the application wiring so this package stays free of the agent package.
type SubagentRunner func(ctx context.Context, prompt string, onProgress func(line string)) (string, error)

type taskParams struct {
	Prompt string `json:"prompt"`
	Label  string `json:"label,omitempty"`
}

// NewTaskTool delegates a self-contained task to a sub-agent.
func NewTaskTool(run SubagentRunner) *Spec {
	return &Spec{
		Name:     "task",
		Category: CategoryTask,
		Description: "Delegate a self-contained task to a sub-agent with its own context window. " +
			"Use for work whose intermediate output would crowd this conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Complete instructions for the sub-agent",
				},
				"label": map[string]any{
					"type":        "string",
					"description": "Short label for progress display",
				},
			},
			"required": []string{"prompt"},
		},
		Confirm: ConfirmNone,
		Run: func(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
			var p taskParams
			if err := json.Unmarshal(args, &p); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if strings.TrimSpace(p.Prompt) == "" {
				return Errorf("prompt must not be empty")
			}

			result, err := run(ctx, p.Prompt, func(line string) {
				if ec.OnOutput != nil {
					ec.OnOutput(line)
				}
			})
			if err != nil {
				return Errorf("sub-agent failed: %v", err)
			}
			return Ok(result)
		},
	}
}
