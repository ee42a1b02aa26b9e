package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"
)

type listFilesParams struct {
	Path string `json:"path,omitempty"`
}

func NewListFilesTool() *Spec {
	return &Spec{
		Name:        "list_files",
		Category:    CategoryRead,
		Description: "List files and directories in a path. Defaults to the working directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to list",
				},
			},
		},
		ReadOnly: true,
		Confirm:  ConfirmNone,
		Run:      runListFiles,
	}
}

func runListFiles(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var p listFilesParams
	if err := json.Unmarshal(args, &p); err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	if p.Path == "" {
		p.Path = "."
	}

	path, err := resolvePath(p.Path, ec)
	if err != nil {
		return Errorf("%v", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("read directory %s: %v", p.Path, err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString("DIR:  " + entry.Name() + "\n")
		} else {
			sb.WriteString("FILE: " + entry.Name() + "\n")
		}
	}
	if sb.Len() == 0 {
		return Ok("(empty directory)")
	}
	return Ok(sb.String())
}
