package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sipeed/picocode/pkg/search"
)

type grepParams struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// NewGrepTool searches file contents through the strategy pipeline.
func NewGrepTool(searcher *search.Searcher) *Spec {
	return &Spec{
		Name:        "grep",
		Category:    CategorySearch,
		Description: "Search file contents with a regular expression. Returns matching lines as path:line:text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Regular expression to search for",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search in (defaults to the working directory)",
				},
				"glob": map[string]any{
					"type":        "string",
					"description": "Restrict the searched files, e.g. \"*.go\"",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of matches to return",
				},
			},
			"required": []string{"pattern"},
		},
		ReadOnly: true,
		Confirm:  ConfirmNone,
		Run: func(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
			return runGrep(ctx, searcher, args, ec)
		},
		Render: renderGrep,
	}
}

func runGrep(ctx context.Context, searcher *search.Searcher, args json.RawMessage, ec ExecContext) Result {
	var p grepParams
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

	result, err := searcher.Search(ctx, p.Pattern, cwd, search.Options{
		Glob:       p.Glob,
		MaxMatches: p.Limit,
	})
	if err != nil {
		return Errorf("search failed: %v", err)
	}

	return Result{OK: true, Data: result, Warning: result.Warning}
}

func renderGrep(res Result) string {
	result, ok := res.Data.(*search.Result)
	if !ok {
		return defaultRender(res)
	}
	if len(result.Matches) == 0 {
		return "No matches found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d matches (strategy: %s)\n", len(result.Matches), result.Strategy)
	for _, m := range result.Matches {
		fmt.Fprintf(&sb, "%s:%d:%s\n", m.FilePath, m.LineNumber, m.LineText)
	}
	return sb.String()
}
