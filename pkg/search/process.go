package search

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sipeed/picocode/pkg/logger"
)

// runGrepCommand spawns a grep-like child process, streams its stdout line
// by line through parse, and honours the grep exit-code convention: 0 means
// matches, 1 means no matches (success), anything else is an error that
// triggers fallback. Stderr noise about unreadable paths is suppressed into
// the debug log instead of surfacing.
func runGrepCommand(ctx context.Context, cmd *exec.Cmd, maxMatches int) ([]Match, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	// Drain stderr concurrently so the child never blocks on a full pipe.
	stderrDone := make(chan string, 1)
	go func() {
		var kept []string
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if isSuppressedStderr(line) {
				logger.DebugCF("search", "Suppressed search stderr", map[string]any{"line": line})
				continue
			}
			kept = append(kept, line)
		}
		stderrDone <- strings.Join(kept, "\n")
	}()

	var matches []Match
	truncated := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(matches) >= maxMatches {
			truncated = true
			break
		}
		if m, ok := parseMatchLine(scanner.Text()); ok {
			matches = append(matches, m)
		}
	}

	if truncated {
		// Cap reached: stop consuming and end the child. Its death is
		// expected, so its exit error is not a failure.
		_ = cmd.Process.Kill()
		<-stderrDone
		_ = cmd.Wait()
		return matches, nil
	}

	stderrTail := <-stderrDone
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 {
			// grep convention: exit 1 just means nothing matched.
			return matches, nil
		}
		if stderrTail != "" {
			return nil, fmt.Errorf("%s exited: %w: %s", cmd.Path, waitErr, stderrTail)
		}
		return nil, fmt.Errorf("%s exited: %w", cmd.Path, waitErr)
	}

	return matches, nil
}

func isSuppressedStderr(line string) bool {
	return strings.Contains(line, "Permission denied") ||
		strings.Contains(line, "Is a directory")
}

// parseMatchLine accepts the "path:line:text" form and the
// "path|line|text" pipe form. Lines that fit neither are skipped.
func parseMatchLine(line string) (Match, bool) {
	if line == "" {
		return Match{}, false
	}

	sep := byte(':')
	if m, ok := splitMatchLine(line, sep); ok {
		return m, true
	}
	if m, ok := splitMatchLine(line, '|'); ok {
		return m, true
	}
	return Match{}, false
}

func splitMatchLine(line string, sep byte) (Match, bool) {
	first := strings.IndexByte(line, sep)
	if first <= 0 {
		return Match{}, false
	}
	second := strings.IndexByte(line[first+1:], sep)
	if second < 0 {
		return Match{}, false
	}
	second += first + 1

	lineNo, err := strconv.Atoi(line[first+1 : second])
	if err != nil || lineNo <= 0 {
		return Match{}, false
	}
	return Match{
		FilePath:   line[:first],
		LineNumber: lineNo,
		LineText:   truncateLine(line[second+1:]),
	}, true
}
