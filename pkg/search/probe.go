package search

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-git/go-git/v5"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/logger"
)

// Capabilities records which search backends the host supports. Probed
// once per process and memoised; tests construct values directly.
type Capabilities struct {
	RipgrepAvailable    bool
	RipgrepPath         string
	RipgrepAutoDownload bool
	GitGrepAvailable    bool
	SystemGrepAvailable bool
}

var (
	probeOnce sync.Once
	probed    Capabilities
)

// Detect probes the host once and caches the result for the process
// lifetime. cwd only matters for git worktree detection on the first call.
func Detect(cwd string, ripgrepAutoDownload bool) Capabilities {
	probeOnce.Do(func() {
		probed = detect(cwd, ripgrepAutoDownload)
		logger.DebugCF("search", "Capability probe", map[string]any{
			"ripgrep":     probed.RipgrepAvailable,
			"rg_path":     probed.RipgrepPath,
			"git_grep":    probed.GitGrepAvailable,
			"system_grep": probed.SystemGrepAvailable,
		})
	})
	return probed
}

func detect(cwd string, ripgrepAutoDownload bool) Capabilities {
	caps := Capabilities{RipgrepAutoDownload: ripgrepAutoDownload}

	caps.RipgrepPath = resolveRipgrepPath()
	// Auto-download permission alone makes the strategy eligible: the
	// binary is fetched lazily on first use.
	caps.RipgrepAvailable = caps.RipgrepPath != "" || ripgrepAutoDownload

	caps.GitGrepAvailable = gitCallable() && insideGitWorktree(cwd)

	if _, err := exec.LookPath(grepBinary()); err == nil {
		caps.SystemGrepAvailable = true
	} else if runtime.GOOS == "windows" {
		// No findstr/grep on PATH: strategy is simply absent.
		caps.SystemGrepAvailable = false
	}

	return caps
}

// resolveRipgrepPath checks $PATH first, then the app bin directory.
func resolveRipgrepPath() string {
	if p, err := exec.LookPath("rg"); err == nil {
		return p
	}
	candidate := filepath.Join(config.BinDir(), rgBinaryName())
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

func rgBinaryName() string {
	if runtime.GOOS == "windows" {
		return "rg.exe"
	}
	return "rg"
}

func grepBinary() string {
	if runtime.GOOS == "windows" {
		return "findstr"
	}
	return "grep"
}

func gitCallable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// insideGitWorktree reports whether cwd sits inside a git working tree,
// walking up to find a .git directory the way git itself does.
func insideGitWorktree(cwd string) bool {
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return false
		}
	}
	_, err := git.PlainOpenWithOptions(cwd, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}
