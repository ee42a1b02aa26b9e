package search

import (
	"context"
	"os/exec"
)

type gitGrepStrategy struct{}

func (s *gitGrepStrategy) Name() string { return "git-grep" }

func (s *gitGrepStrategy) Search(ctx context.Context, pattern, cwd string, opts Options) ([]Match, error) {
	// -I skips binary files; --untracked extends coverage to files not yet
	// committed, which matches what the other strategies see.
	args := []string{"grep", "-I", "-n", "-i", "--untracked", "-E", "-e", pattern}
	if opts.Glob != "" {
		args = append(args, "--", opts.Glob)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	return runGrepCommand(ctx, cmd, opts.maxMatches())
}
