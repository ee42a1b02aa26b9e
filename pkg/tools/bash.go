package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sipeed/picocode/pkg/utils"
)

const maxBashOutputChars = 30000

type bashParams struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// NewBashTool runs a shell command. The scheduler owns the timeout; this
// executor just honours ctx.
func NewBashTool() *Spec {
	return &Spec{
		Name:        "bash",
		Category:    CategoryShell,
		Description: "Execute a shell command and return its combined output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to execute",
				},
				"working_dir": map[string]any{
					"type":        "string",
					"description": "Directory to run the command in",
				},
			},
			"required": []string{"command"},
		},
		Confirm: ConfirmShell,
		Run:     runBash,
		ConfirmDetails: func(args json.RawMessage) ConfirmRequest {
			var p bashParams
			_ = json.Unmarshal(args, &p)
			return ConfirmRequest{
				Key:     "bash:" + CommandRoot(p.Command),
				Command: p.Command,
			}
		},
	}
}

// CommandRoot extracts the first token of a shell command for allowlist
// keys and the forbidden-root gate.
func CommandRoot(command string) string {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return ""
	}
	root := fields[0]
	// Normalise "/usr/bin/rm" and "./rm" to "rm".
	if idx := strings.LastIndexByte(root, '/'); idx >= 0 {
		root = root[idx+1:]
	}
	return root
}

func runBash(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var p bashParams
	if err := json.Unmarshal(args, &p); err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	if strings.TrimSpace(p.Command) == "" {
		return Errorf("command must not be empty")
	}

	dir := ec.Cwd
	if dir == "" {
		dir = ec.Workspace
	}
	if p.WorkingDir != "" {
		resolved, err := resolvePath(p.WorkingDir, ec)
		if err != nil {
			return Errorf("%v", err)
		}
		dir = resolved
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", p.Command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", p.Command)
	}
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Errorf("stdout pipe: %v", err)
	}
	// StdoutPipe set cmd.Stdout to the pipe's write end; aliasing stderr to
	// it interleaves both streams in arrival order.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Errorf("start command: %v", err)
	}

	// Stream output so the scheduler can forward tool:output deltas while
	// the command runs.
	var sb strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if sb.Len() < maxBashOutputChars {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		if ec.OnOutput != nil {
			ec.OnOutput(line + "\n")
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return Errorf("command cancelled: %v", ctx.Err())
	}

	output := utils.TruncateMiddle(sb.String(), maxBashOutputChars)
	if waitErr != nil {
		if output == "" {
			return Errorf("command failed: %v", waitErr)
		}
		return Errorf("command failed: %v\n%s", waitErr, output)
	}
	if output == "" {
		output = "(no output)"
	}
	return Ok(output)
}
