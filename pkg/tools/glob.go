package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sipeed/picocode/pkg/search"
)

type globParams struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// NewGlobTool lists files matching a name pattern.
func NewGlobTool(globber *search.Globber) *Spec {
	return &Spec{
		Name:        "glob",
		Category:    CategorySearch,
		Description: "Find files by name pattern, e.g. \"**/*.go\". Returns paths sorted lexicographically.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern to match file paths against",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search in (defaults to the working directory)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of paths to return",
				},
			},
			"required": []string{"pattern"},
		},
		ReadOnly: true,
		Confirm:  ConfirmNone,
		Run: func(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
			return runGlob(ctx, globber, args, ec)
		},
		Render: renderGlob,
	}
}

func runGlob(ctx context.Context, globber *search.Globber, args json.RawMessage, ec ExecContext) Result {
	var p globParams
	if err := json.Unmarshal(args, &p); err != nil {
		return Errorf("invalid arguments: %v", err)
	}

	cwd := ec.Cwd
	if cwd == "" {
		cwd = ec.Workspace
	}
	if p.Path != "" {
		resolved, err := resolvePath(p.Path, ec)
		if err != nil {
			return Errorf("%v", err)
		}
		cwd = resolved
	}

	paths, strategy, err := globber.Glob(ctx, p.Pattern, cwd, p.Limit)
	if err != nil {
		return Errorf("glob failed: %v", err)
	}

	return Ok(map[string]any{
		"paths":    paths,
		"strategy": strategy,
	})
}

func renderGlob(res Result) string {
	data, ok := res.Data.(map[string]any)
	if !ok {
		return defaultRender(res)
	}
	paths, _ := data["paths"].([]string)
	if len(paths) == 0 {
		return "No files matched."
	}
	return strings.Join(paths, "\n")
}
