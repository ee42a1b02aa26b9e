package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTodoWriteAndRead(t *testing.T) {
	store := NewTodoStore()
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewTodoWriteTool(store)))
	require.NoError(t, reg.Register(NewTodoReadTool(store)))

	res := reg.Execute(context.Background(), "todo_write",
		`{"todos":[{"content":"write tests","status":"in_progress"},{"content":"ship","status":"pending"}]}`,
		ExecContext{})
	require.True(t, res.OK, res.Error)

	res = reg.Execute(context.Background(), "todo_read", `{}`, ExecContext{})
	require.True(t, res.OK, res.Error)
	out := res.Data.(string)
	assert.Contains(t, out, "[~] write tests")
	assert.Contains(t, out, "[ ] ship")
}

func TestTodoWriteReplacesList(t *testing.T) {
	store := NewTodoStore()
	store.Set([]TodoItem{{Content: "old", Status: "pending"}})

	store.Set([]TodoItem{{Content: "new", Status: "completed"}})
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Content)
}

func TestTodoWriteRejectsBadStatus(t *testing.T) {
	store := NewTodoStore()
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewTodoWriteTool(store)))

	res := reg.Execute(context.Background(), "todo_write",
		`{"todos":[{"content":"x","status":"someday"}]}`, ExecContext{})
	assert.False(t, res.OK)
}

func TestTodoReadEmpty(t *testing.T) {
	store := NewTodoStore()
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewTodoReadTool(store)))

	res := reg.Execute(context.Background(), "todo_read", `{}`, ExecContext{})
	require.True(t, res.OK)
	assert.Equal(t, "No todos.", res.Data)
}
