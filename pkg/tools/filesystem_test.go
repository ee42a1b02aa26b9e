package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fsFixture(t *testing.T) (*Registry, ExecContext) {
	t.Helper()
	reg := NewRegistry()
	for _, spec := range []*Spec{NewReadFileTool(), NewWriteFileTool(), NewEditFileTool(), NewListFilesTool()} {
		require.NoError(t, reg.Register(spec))
	}
	workspace := t.TempDir()
	return reg, ExecContext{Workspace: workspace, Cwd: workspace}
}

func TestReadWriteRoundTrip(t *testing.T) {
	reg, ec := fsFixture(t)

	res := reg.Execute(context.Background(), "write_file",
		`{"file_path":"notes.txt","content":"hello\nworld\n"}`, ec)
	require.True(t, res.OK, res.Error)

	res = reg.Execute(context.Background(), "read_file", `{"file_path":"notes.txt"}`, ec)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, "hello\nworld\n", res.Data)
}

func TestReadFileOffsetAndLimit(t *testing.T) {
	reg, ec := fsFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(ec.Workspace, "lines.txt"),
		[]byte("one\ntwo\nthree\nfour\n"), 0o644))

	res := reg.Execute(context.Background(), "read_file",
		`{"file_path":"lines.txt","offset":2,"limit":2}`, ec)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, "two\nthree", res.Data)
}

func TestReadFileMissing(t *testing.T) {
	reg, ec := fsFixture(t)
	res := reg.Execute(context.Background(), "read_file", `{"file_path":"ghost.txt"}`, ec)
	assert.False(t, res.OK)
}

func TestWriteFileCreatesParents(t *testing.T) {
	reg, ec := fsFixture(t)
	res := reg.Execute(context.Background(), "write_file",
		`{"file_path":"deep/nested/file.txt","content":"x"}`, ec)
	require.True(t, res.OK, res.Error)

	_, err := os.Stat(filepath.Join(ec.Workspace, "deep", "nested", "file.txt"))
	assert.NoError(t, err)
}

func TestEditFileUniqueMatch(t *testing.T) {
	reg, ec := fsFixture(t)
	path := filepath.Join(ec.Workspace, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("func a() {}\nfunc b() {}\n"), 0o644))

	res := reg.Execute(context.Background(), "edit_file",
		`{"file_path":"code.go","old_text":"func a() {}","new_text":"func a() { return }"}`, ec)
	require.True(t, res.OK, res.Error)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "func a() { return }\nfunc b() {}\n", string(data))
}

func TestEditFileAmbiguousMatch(t *testing.T) {
	reg, ec := fsFixture(t)
	path := filepath.Join(ec.Workspace, "dup.txt")
	require.NoError(t, os.WriteFile(path, []byte("same\nsame\n"), 0o644))

	res := reg.Execute(context.Background(), "edit_file",
		`{"file_path":"dup.txt","old_text":"same","new_text":"different"}`, ec)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "2 times")
}

func TestEditFileNotFoundText(t *testing.T) {
	reg, ec := fsFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(ec.Workspace, "f.txt"), []byte("abc\n"), 0o644))

	res := reg.Execute(context.Background(), "edit_file",
		`{"file_path":"f.txt","old_text":"zzz","new_text":"yyy"}`, ec)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "not found")
}

func TestListFiles(t *testing.T) {
	reg, ec := fsFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(ec.Workspace, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(ec.Workspace, "sub"), 0o755))

	res := reg.Execute(context.Background(), "list_files", `{"path":"."}`, ec)
	require.True(t, res.OK, res.Error)
	listing := res.Data.(string)
	assert.Contains(t, listing, "FILE: a.txt")
	assert.Contains(t, listing, "DIR:  sub")
}

func TestWorkspaceRestriction(t *testing.T) {
	reg, ec := fsFixture(t)
	ec.RestrictToWorkspace = true

	res := reg.Execute(context.Background(), "read_file", `{"file_path":"../outside.txt"}`, ec)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "outside the workspace")

	res = reg.Execute(context.Background(), "write_file", `{"file_path":"/etc/hostile","content":"x"}`, ec)
	assert.False(t, res.OK)
}

func TestCommandRoot(t *testing.T) {
	assert.Equal(t, "rm", CommandRoot("rm -rf /"))
	assert.Equal(t, "rm", CommandRoot("/bin/rm -rf /"))
	assert.Equal(t, "echo", CommandRoot("  echo hi  "))
	assert.Equal(t, "", CommandRoot("   "))
}
