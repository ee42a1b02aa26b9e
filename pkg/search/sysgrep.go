package search

import (
	"context"
	"os/exec"
)

type systemGrepStrategy struct{}

func (s *systemGrepStrategy) Name() string { return "system-grep" }

func (s *systemGrepStrategy) Search(ctx context.Context, pattern, cwd string, opts Options) ([]Match, error) {
	args := []string{"-r", "-n", "-I", "-i", "-E"}
	for _, dir := range DefaultExcludedDirs {
		args = append(args, "--exclude-dir="+dir)
	}
	if opts.Glob != "" {
		args = append(args, "--include="+opts.Glob)
	}
	args = append(args, "--", pattern, ".")

	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = cwd
	return runGrepCommand(ctx, cmd, opts.maxMatches())
}
