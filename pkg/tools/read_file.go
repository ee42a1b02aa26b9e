package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// MaxFileReadChars caps file content handed to the LLM before the
// scheduler's summarisation pass even sees it.
const MaxFileReadChars = 100000

type readFileParams struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func NewReadFileTool() *Spec {
	return &Spec{
		Name:        "read_file",
		Category:    CategoryRead,
		Description: "Read the contents of a file. Optionally pass a 1-based line offset and a line limit.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "Path to the file to read",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-based line to start reading from",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to read",
				},
			},
			"required": []string{"file_path"},
		},
		ReadOnly: true,
		Confirm:  ConfirmNone,
		Run:      runReadFile,
	}
}

func runReadFile(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var p readFileParams
	if err := json.Unmarshal(args, &p); err != nil {
		return Errorf("invalid arguments: %v", err)
	}

	path, err := resolvePath(p.FilePath, ec)
	if err != nil {
		return Errorf("%v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", p.FilePath, err)
	}

	content := string(data)
	if p.Offset > 0 || p.Limit > 0 {
		lines := strings.Split(content, "\n")
		start := p.Offset
		if start < 1 {
			start = 1
		}
		if start > len(lines) {
			return Errorf("offset %d beyond end of file (%d lines)", p.Offset, len(lines))
		}
		end := len(lines)
		if p.Limit > 0 && start-1+p.Limit < end {
			end = start - 1 + p.Limit
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	truncated := false
	if len(content) > MaxFileReadChars {
		content = content[:MaxFileReadChars]
		truncated = true
	}

	if truncated {
		content += fmt.Sprintf("\n\n[file truncated at %d characters]", MaxFileReadChars)
	}
	return Ok(content)
}
