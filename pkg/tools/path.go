package tools

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolvePath resolves a tool-supplied path against the execution context
// and, when the context is restricted, refuses anything that escapes the
// workspace (including via symlinks).
func resolvePath(path string, ec ExecContext) (string, error) {
	base := ec.Cwd
	if base == "" {
		base = ec.Workspace
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		var err error
		absPath, err = filepath.Abs(filepath.Join(base, path))
		if err != nil {
			return "", fmt.Errorf("failed to resolve file path: %w", err)
		}
	}

	if !ec.RestrictToWorkspace || ec.Workspace == "" {
		return absPath, nil
	}

	absWorkspace, err := filepath.Abs(ec.Workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if !isWithin(absPath, absWorkspace) {
		return "", fmt.Errorf("access denied: path is outside the workspace")
	}

	workspaceReal := absWorkspace
	if resolved, err := filepath.EvalSymlinks(absWorkspace); err == nil {
		workspaceReal = resolved
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		if !isWithin(resolved, workspaceReal) {
			return "", fmt.Errorf("access denied: symlink resolves outside workspace")
		}
	} else if os.IsNotExist(err) {
		parentResolved, err := resolveExistingAncestor(filepath.Dir(absPath))
		if err == nil && !isWithin(parentResolved, workspaceReal) {
			return "", fmt.Errorf("access denied: symlink resolves outside workspace")
		}
	} else {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	return absPath, nil
}

func resolveExistingAncestor(path string) (string, error) {
	for current := filepath.Clean(path); ; current = filepath.Dir(current) {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(current) == current {
			return "", os.ErrNotExist
		}
	}
}

func isWithin(candidate, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(candidate))
	return err == nil && filepath.IsLocal(rel)
}
