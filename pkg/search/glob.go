package search

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"

	"github.com/sipeed/picocode/pkg/logger"
)

// Globber resolves file name patterns against a working tree, preferring
// ripgrep's file listing and degrading to a pure-Go walk. Results are
// always sorted lexicographically by path.
type Globber struct {
	caps Capabilities
}

func NewGlobber(caps Capabilities) *Globber {
	return &Globber{caps: caps}
}

// Glob returns relative slash-separated paths matching pattern under cwd.
// Patterns support "**" via the in-process walker; ripgrep handles them
// natively.
func (g *Globber) Glob(ctx context.Context, pattern, cwd string, maxResults int) ([]string, string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, "", fmt.Errorf("empty glob pattern")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxMatches
	}

	if g.caps.RipgrepAvailable && g.caps.RipgrepPath != "" {
		paths, err := g.ripgrepFiles(ctx, pattern, cwd, maxResults)
		if err == nil {
			return paths, "ripgrep", nil
		}
		if isCancellation(err) {
			return nil, "", err
		}
		logger.WarnCF("search", "ripgrep file listing failed, falling back", map[string]any{
			"error": err.Error(),
		})
	}

	paths, err := g.walkFiles(ctx, pattern, cwd, maxResults)
	if err != nil {
		return nil, "", err
	}
	return paths, "in-process", nil
}

func (g *Globber) ripgrepFiles(ctx context.Context, pattern, cwd string, maxResults int) ([]string, error) {
	args := []string{"--files", "--color", "never", "--glob", pattern}
	cmd := exec.CommandContext(ctx, g.caps.RipgrepPath, args...)
	cmd.Dir = cwd

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			// No files matched.
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, filepath.ToSlash(line))
	}
	sort.Strings(paths)
	if len(paths) > maxResults {
		paths = paths[:maxResults]
	}
	return paths, nil
}

func (g *Globber) walkFiles(ctx context.Context, pattern, cwd string, maxResults int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	absMatches, err := filepathx.Glob(filepath.Join(cwd, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob walk: %w", err)
	}

	var paths []string
	for _, p := range absMatches {
		if info, statErr := os.Stat(p); statErr != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(cwd, p)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if isInExcludedDir(rel) {
			continue
		}
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	if len(paths) > maxResults {
		paths = paths[:maxResults]
	}
	return paths, nil
}

func isInExcludedDir(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if isExcludedDir(part) {
			return true
		}
	}
	return false
}
