// Package search implements content search over a working tree with an
// ordered chain of strategies: ripgrep, git grep, system grep, and a
// pure-Go fallback. Higher strategies are probed once per process; a
// strategy that fails at runtime degrades to the next one in the chain.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sipeed/picocode/pkg/logger"
)

// DefaultExcludedDirs are skipped by the in-process strategies and passed
// as --exclude-dir to the system-grep strategy. The ripgrep and git-grep
// strategies are not given them.
var DefaultExcludedDirs = []string{
	"node_modules", ".git", "dist", "build", "coverage", ".next", ".nuxt",
}

const (
	// DefaultMaxMatches caps the overall result set.
	DefaultMaxMatches = 1000
	// MaxLineChars truncates individual match lines.
	MaxLineChars = 2000
)

type Match struct {
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	LineText   string `json:"line_text"`
}

type Options struct {
	// Glob restricts the searched files, e.g. "*.go" or "src/**/*.ts".
	Glob string
	// MaxMatches caps the result; 0 means DefaultMaxMatches.
	MaxMatches int
}

func (o Options) maxMatches() int {
	if o.MaxMatches <= 0 {
		return DefaultMaxMatches
	}
	return o.MaxMatches
}

type Result struct {
	Matches  []Match `json:"matches"`
	Strategy string  `json:"strategy_used"`
	Warning  string  `json:"warning,omitempty"`
}

type strategy interface {
	Name() string
	Search(ctx context.Context, pattern, cwd string, opts Options) ([]Match, error)
}

// Searcher holds the ordered strategy chain for this process.
type Searcher struct {
	strategies []strategy
}

// NewSearcher builds the chain from probed capabilities. The in-process
// strategy is always present, so the chain is never empty.
func NewSearcher(caps Capabilities) *Searcher {
	var chain []strategy
	if caps.RipgrepAvailable {
		chain = append(chain, &ripgrepStrategy{binPath: caps.RipgrepPath, autoDownload: caps.RipgrepAutoDownload})
	}
	if caps.GitGrepAvailable {
		chain = append(chain, &gitGrepStrategy{})
	}
	if caps.SystemGrepAvailable {
		chain = append(chain, &systemGrepStrategy{})
	}
	chain = append(chain, &inProcessStrategy{})
	return &Searcher{strategies: chain}
}

// Strategies lists the chain in order, for diagnostics.
func (s *Searcher) Strategies() []string {
	names := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		names[i] = st.Name()
	}
	return names
}

// Search runs the chain. An empty result set from a strategy is success;
// fallback happens only when a strategy returns an error. Cancellation
// aborts immediately without trying further strategies.
func (s *Searcher) Search(ctx context.Context, pattern, cwd string, opts Options) (*Result, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty search pattern")
	}

	var fallbacks []string
	for i, st := range s.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := st.Search(ctx, pattern, cwd, opts)
		if err == nil {
			return &Result{
				Matches:  matches,
				Strategy: st.Name(),
				Warning:  fallbackWarning(fallbacks),
			}, nil
		}

		if isCancellation(err) {
			return nil, err
		}

		if i+1 < len(s.strategies) {
			next := s.strategies[i+1].Name()
			logger.WarnCF("search", "Search strategy failed, falling back", map[string]any{
				"strategy": st.Name(),
				"next":     next,
				"error":    err.Error(),
			})
			fallbacks = append(fallbacks, fmt.Sprintf("%s failed (%s)", st.Name(), firstErrLine(err)))
			continue
		}

		return nil, fmt.Errorf("all search strategies failed: %w", err)
	}

	// Unreachable: the in-process strategy terminates the loop.
	return nil, fmt.Errorf("no search strategy available")
}

func fallbackWarning(fallbacks []string) string {
	if len(fallbacks) == 0 {
		return ""
	}
	return "search degraded: " + strings.Join(fallbacks, "; ")
}

func firstErrLine(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return msg
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// truncateLine enforces the per-line cap with an ellipsis suffix.
func truncateLine(line string) string {
	if len(line) <= MaxLineChars {
		return line
	}
	return line[:MaxLineChars] + "..."
}

func isExcludedDir(name string) bool {
	for _, ex := range DefaultExcludedDirs {
		if name == ex {
			return true
		}
	}
	return false
}
