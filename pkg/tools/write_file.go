package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sipeed/picocode/pkg/utils"
)

type writeFileParams struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func NewWriteFileTool() *Spec {
	return &Spec{
		Name:        "write_file",
		Category:    CategoryEdit,
		Description: "Write content to a file, creating parent directories as needed. Overwrites existing content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full content to write",
				},
			},
			"required": []string{"file_path", "content"},
		},
		Confirm: ConfirmEdit,
		Run:     runWriteFile,
		ConfirmDetails: func(args json.RawMessage) ConfirmRequest {
			var p writeFileParams
			_ = json.Unmarshal(args, &p)
			return ConfirmRequest{
				Key:     "write_file",
				Path:    p.FilePath,
				Preview: utils.Truncate(p.Content, 400),
			}
		},
	}
}

func runWriteFile(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var p writeFileParams
	if err := json.Unmarshal(args, &p); err != nil {
		return Errorf("invalid arguments: %v", err)
	}

	path, err := resolvePath(p.FilePath, ec)
	if err != nil {
		return Errorf("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Errorf("create parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		return Errorf("write %s: %v", p.FilePath, err)
	}

	return Ok(fmt.Sprintf("File written: %s (%d bytes)", p.FilePath, len(p.Content)))
}
