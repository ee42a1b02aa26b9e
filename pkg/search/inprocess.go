package search

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sipeed/picocode/pkg/logger"
)

// inProcessStrategy is the terminal fallback: a pure-Go tree walk applying
// a case-insensitive regular expression. Always available.
type inProcessStrategy struct{}

const (
	inProcessConcurrency = 8
	// Files larger than this are skipped; they are almost never the text
	// the model is looking for and would dominate the walk.
	maxScannedFileSize = 8 * 1024 * 1024
)

func (s *inProcessStrategy) Name() string { return "in-process" }

func (s *inProcessStrategy) Search(ctx context.Context, pattern, cwd string, opts Options) ([]Match, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	files, err := collectFiles(ctx, cwd, opts.Glob)
	if err != nil {
		return nil, err
	}

	// Scan concurrently but assemble per-file results by walk index so the
	// output order is deterministic.
	perFile := make([][]Match, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inProcessConcurrency)

	var mu sync.Mutex
	total := 0
	maxMatches := opts.maxMatches()

	for i, path := range files {
		mu.Lock()
		reached := total >= maxMatches
		mu.Unlock()
		if reached {
			break
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			found, err := scanFile(path, cwd, re, maxMatches)
			if err != nil {
				// Unreadable files degrade to a debug entry, mirroring the
				// stderr suppression of the child-process strategies.
				logger.DebugCF("search", "Skipping unreadable file", map[string]any{
					"path":  path,
					"error": err.Error(),
				})
				return nil
			}
			perFile[i] = found
			mu.Lock()
			total += len(found)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, total)
	for _, found := range perFile {
		for _, m := range found {
			if len(matches) >= maxMatches {
				return matches, nil
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// collectFiles walks cwd in lexical order, honouring the default excludes
// and the user glob. The glob matches against the base name or the
// slash-separated relative path.
func collectFiles(ctx context.Context, cwd, glob string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(cwd, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != cwd && isExcludedDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if glob != "" && !globMatches(glob, path, cwd) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func globMatches(glob, path, cwd string) bool {
	base := filepath.Base(path)
	if ok, err := filepath.Match(glob, base); err == nil && ok {
		return true
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil {
		return false
	}
	ok, err := filepath.Match(glob, filepath.ToSlash(rel))
	return err == nil && ok
}

func scanFile(path, cwd string, re *regexp.Regexp, maxMatches int) ([]Match, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxScannedFileSize {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(cwd, path)
	if err != nil {
		rel = path
	}

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		matches = append(matches, Match{
			FilePath:   filepath.ToSlash(rel),
			LineNumber: lineNo,
			LineText:   truncateLine(line),
		})
		if len(matches) >= maxMatches {
			break
		}
	}
	// Binary files trip the scanner with over-long tokens; treat that the
	// same as no matches.
	if err := scanner.Err(); err != nil && err != bufio.ErrTooLong {
		return nil, err
	}
	return matches, nil
}
