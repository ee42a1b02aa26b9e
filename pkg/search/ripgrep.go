package search

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/utils"
)

const ripgrepVersion = "14.1.1"

type ripgrepStrategy struct {
	binPath      string
	autoDownload bool
}

func (s *ripgrepStrategy) Name() string { return "ripgrep" }

func (s *ripgrepStrategy) Search(ctx context.Context, pattern, cwd string, opts Options) ([]Match, error) {
	bin, err := s.resolveBinary(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{"--no-heading", "--line-number", "--color", "never", "--smart-case"}
	if opts.Glob != "" {
		args = append(args, "--glob", opts.Glob)
	}
	if opts.MaxMatches > 0 {
		args = append(args, "--max-count", strconv.Itoa(opts.MaxMatches))
	}
	args = append(args, "--", pattern, ".")

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = cwd
	return runGrepCommand(ctx, cmd, opts.maxMatches())
}

// resolveBinary finds rg on PATH or in the app bin dir, downloading it
// lazily when permitted. A concurrent download by another process wins:
// the binary is re-checked before fetching.
func (s *ripgrepStrategy) resolveBinary(ctx context.Context) (string, error) {
	if s.binPath != "" {
		return s.binPath, nil
	}
	if p, err := exec.LookPath("rg"); err == nil {
		s.binPath = p
		return p, nil
	}

	cached := filepath.Join(config.BinDir(), rgBinaryName())
	if info, err := os.Stat(cached); err == nil && !info.IsDir() {
		s.binPath = cached
		return cached, nil
	}

	if !s.autoDownload {
		return "", fmt.Errorf("ripgrep binary not found")
	}
	if err := downloadRipgrep(ctx, cached); err != nil {
		return "", fmt.Errorf("ripgrep auto-download: %w", err)
	}
	s.binPath = cached
	return cached, nil
}

func downloadRipgrep(ctx context.Context, dest string) error {
	target, archiveDir, err := ripgrepReleaseTarget()
	if err != nil {
		return err
	}

	binDir := filepath.Dir(dest)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("create bin dir: %w", err)
	}

	// Another process may have completed the download meanwhile.
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	url := fmt.Sprintf(
		"https://github.com/BurntSushi/ripgrep/releases/download/%s/ripgrep-%s-%s.tar.gz",
		ripgrepVersion, ripgrepVersion, target,
	)
	logger.InfoCF("search", "Downloading ripgrep", map[string]any{"url": url})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	stagingDir, err := os.MkdirTemp(binDir, "rg-download-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stagingDir)

	if err := utils.ExtractTarGz(resp.Body, stagingDir); err != nil {
		return err
	}

	extracted := filepath.Join(stagingDir, archiveDir, rgBinaryName())
	if _, err := os.Stat(extracted); err != nil {
		return fmt.Errorf("archive missing rg binary: %w", err)
	}
	if err := os.Chmod(extracted, 0o755); err != nil {
		return err
	}

	// Rename is atomic; losing the race to another process is fine.
	if err := os.Rename(extracted, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// ripgrepReleaseTarget maps GOOS/GOARCH to the upstream release artifact
// name and the directory inside the archive.
func ripgrepReleaseTarget() (target, archiveDir string, err error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		target = "x86_64-unknown-linux-musl"
	case "linux/arm64":
		target = "aarch64-unknown-linux-gnu"
	case "darwin/amd64":
		target = "x86_64-apple-darwin"
	case "darwin/arm64":
		target = "aarch64-apple-darwin"
	default:
		return "", "", fmt.Errorf("no ripgrep release for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	archiveDir = fmt.Sprintf("ripgrep-%s-%s", ripgrepVersion, target)
	return target, archiveDir, nil
}
