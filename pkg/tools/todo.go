package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// TodoItem is one ledger entry. Status is "pending", "in_progress" or
// "completed".
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// TodoStore is the session-scoped ledger shared by todo_write and
// todo_read. The whole list is replaced on every write, which keeps the
// tool contract trivial for the model.
type TodoStore struct {
	mu    sync.RWMutex
	items []TodoItem
}

func NewTodoStore() *TodoStore {
	return &TodoStore{}
}

func (s *TodoStore) Set(items []TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func (s *TodoStore) Items() []TodoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TodoItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *TodoStore) renderMarkdown() string {
	items := s.Items()
	if len(items) == 0 {
		return "No todos."
	}
	var sb strings.Builder
	for _, item := range items {
		mark := " "
		switch item.Status {
		case "completed":
			mark = "x"
		case "in_progress":
			mark = "~"
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", mark, item.Content)
	}
	return sb.String()
}

type todoWriteParams struct {
	Todos []TodoItem `json:"todos"`
}

func NewTodoWriteTool(store *TodoStore) *Spec {
	return &Spec{
		Name:        "todo_write",
		Category:    CategoryTodo,
		Description: "Replace the todo list for this session. Pass the complete list every time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"todos": map[string]any{
					"type":        "array",
					"description": "The full todo list",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"content": map[string]any{"type": "string"},
							"status": map[string]any{
								"type": "string",
								"enum": []string{"pending", "in_progress", "completed"},
							},
						},
						"required": []string{"content", "status"},
					},
				},
			},
			"required": []string{"todos"},
		},
		Confirm: ConfirmNone,
		Run: func(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
			var p todoWriteParams
			if err := json.Unmarshal(args, &p); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			store.Set(p.Todos)
			return Ok(fmt.Sprintf("Todo list updated (%d items)\n%s", len(p.Todos), store.renderMarkdown()))
		},
	}
}

func NewTodoReadTool(store *TodoStore) *Spec {
	return &Spec{
		Name:        "todo_read",
		Category:    CategoryTodo,
		Description: "Read the current todo list.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		ReadOnly: true,
		Confirm:  ConfirmNone,
		Run: func(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
			return Ok(store.renderMarkdown())
		},
	}
}
