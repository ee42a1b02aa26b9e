package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sipeed/picocode/pkg/agent"
	"github.com/sipeed/picocode/pkg/tools"
)

// terminalConfirm renders an approval prompt on the terminal and blocks
// for the user's decision.
func terminalConfirm(
	ctx context.Context,
	callID, toolName string,
	details tools.ConfirmRequest,
) (agent.ConfirmationDecision, error) {
	fmt.Fprintf(os.Stderr, "\n── approval required: %s ──\n", toolName)
	if details.Path != "" {
		fmt.Fprintf(os.Stderr, "  path: %s\n", details.Path)
	}
	if details.Command != "" {
		fmt.Fprintf(os.Stderr, "  command: %s\n", details.Command)
	}
	if details.Preview != "" {
		fmt.Fprintf(os.Stderr, "  preview:\n%s\n", indent(details.Preview, "    "))
	}
	fmt.Fprint(os.Stderr, "Allow? [y]es once / [a]lways / [n]o: ")

	answerCh := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answerCh <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		return agent.DecisionCancel, ctx.Err()
	case answer := <-answerCh:
		switch answer {
		case "y", "yes":
			return agent.DecisionOnce, nil
		case "a", "always":
			return agent.DecisionAlways, nil
		default:
			return agent.DecisionCancel, nil
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
