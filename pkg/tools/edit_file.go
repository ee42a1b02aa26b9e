package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sipeed/picocode/pkg/utils"
)

type editFileParams struct {
	FilePath string `json:"file_path"`
	OldText  string `json:"old_text"`
	NewText  string `json:"new_text"`
}

func NewEditFileTool() *Spec {
	return &Spec{
		Name:        "edit_file",
		Category:    CategoryEdit,
		Description: "Edit a file by replacing old_text with new_text. The old_text must occur exactly once in the file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The file path to edit",
				},
				"old_text": map[string]any{
					"type":        "string",
					"description": "The exact text to find and replace",
				},
				"new_text": map[string]any{
					"type":        "string",
					"description": "The text to replace it with",
				},
			},
			"required": []string{"file_path", "old_text", "new_text"},
		},
		Confirm: ConfirmEdit,
		Run:     runEditFile,
		ConfirmDetails: func(args json.RawMessage) ConfirmRequest {
			var p editFileParams
			_ = json.Unmarshal(args, &p)
			return ConfirmRequest{
				Key:     "edit_file",
				Path:    p.FilePath,
				Preview: utils.Truncate(fmt.Sprintf("- %s\n+ %s", p.OldText, p.NewText), 400),
			}
		},
	}
}

func runEditFile(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var p editFileParams
	if err := json.Unmarshal(args, &p); err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	if p.OldText == "" {
		return Errorf("old_text must not be empty")
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

	switch count := strings.Count(content, p.OldText); count {
	case 0:
		return Errorf("old_text not found in %s", p.FilePath)
	case 1:
		// unique, proceed
	default:
		return Errorf("old_text occurs %d times in %s; provide more context to make it unique", count, p.FilePath)
	}

	updated := strings.Replace(content, p.OldText, p.NewText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return Errorf("write %s: %v", p.FilePath, err)
	}

	return Ok(fmt.Sprintf("File edited: %s", p.FilePath))
}
