package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/tokens"
	"github.com/sipeed/picocode/pkg/tools"
	"github.com/sipeed/picocode/pkg/utils"
)

const (
	// DefaultToolTimeout is the per-tool execution deadline.
	DefaultToolTimeout = 60 * time.Second

	// MaxToolOutputChars is the hard cap before summarisation: longer
	// output is head/tail truncated first.
	MaxToolOutputChars = 100000
)

// ConfirmationDecision is the approver's answer for one gated call.
type ConfirmationDecision string

const (
	DecisionOnce   ConfirmationDecision = "once"
	DecisionAlways ConfirmationDecision = "always"
	DecisionCancel ConfirmationDecision = "cancel"
)

// ConfirmFunc asks the external approver about one tool call. It blocks
// until the user decides or ctx is cancelled.
type ConfirmFunc func(ctx context.Context, callID, toolName string, details tools.ConfirmRequest) (ConfirmationDecision, error)

// Allowlist is the process-scoped set of approvals granted via "always"
// decisions. Written only by the scheduler.
type Allowlist struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func NewAllowlist() *Allowlist {
	return &Allowlist{keys: make(map[string]struct{})}
}

func (a *Allowlist) Add(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = struct{}{}
}

func (a *Allowlist) Contains(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[key]
	return ok
}

func (a *Allowlist) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = make(map[string]struct{})
}

// SchedulerOptions configures a ToolScheduler.
type SchedulerOptions struct {
	ApprovalMode config.ApprovalMode
	Allowlist    *Allowlist
	Confirm      ConfirmFunc

	// Summarizer shrinks oversized rendered output; nil disables the pass.
	Summarizer         *ToolOutputSummarizer
	SummarizeThreshold int

	ToolTimeout time.Duration

	// ForbiddenCommandRoots stay gated even under yolo.
	ForbiddenCommandRoots []string
}

// ToolScheduler mediates approval, enforces the allowlist, runs calls
// under the per-tool deadline and streams lifecycle events. It is
// stateless over the registry passed into ExecuteBatch.
type ToolScheduler struct {
	mode           config.ApprovalMode
	allowlist      *Allowlist
	confirm        ConfirmFunc
	summarizer     *ToolOutputSummarizer
	summarizeAbove int
	toolTimeout    time.Duration
	forbiddenRoots map[string]bool
	stream         *ExecutionStream
}

// ToolOutcome is one executed (or refused) call, ready to become a tool
// message.
type ToolOutcome struct {
	CallID   string
	ToolName string
	// Rendered is the stable string for the tool message.
	Rendered string
	// ErrKind is empty on success.
	ErrKind ErrorKind
}

func NewToolScheduler(stream *ExecutionStream, opts SchedulerOptions) *ToolScheduler {
	if opts.Allowlist == nil {
		opts.Allowlist = NewAllowlist()
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if opts.SummarizeThreshold <= 0 {
		opts.SummarizeThreshold = 4000
	}
	forbidden := make(map[string]bool, len(opts.ForbiddenCommandRoots))
	for _, root := range opts.ForbiddenCommandRoots {
		forbidden[root] = true
	}
	return &ToolScheduler{
		mode:           opts.ApprovalMode,
		allowlist:      opts.Allowlist,
		confirm:        opts.Confirm,
		summarizer:     opts.Summarizer,
		summarizeAbove: opts.SummarizeThreshold,
		toolTimeout:    opts.ToolTimeout,
		forbiddenRoots: forbidden,
		stream:         stream,
	}
}

// ExecuteBatch runs one assistant turn's tool calls strictly in order.
// Tool arguments may reference each other implicitly through the
// filesystem, and ordering is what the LLM expects. Once ctx is cancelled,
// the remaining calls are not run: each gets a Cancelled outcome and a
// tool:cancelled event, so every call in the batch has an outcome.
func (ts *ToolScheduler) ExecuteBatch(
	ctx context.Context,
	reg *tools.Registry,
	calls []providers.ToolCall,
	ec tools.ExecContext,
) []ToolOutcome {
	outcomes := make([]ToolOutcome, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			ts.stream.ToolCancelled(call.ID, call.Name)
			outcomes = append(outcomes, ToolOutcome{
				CallID:   call.ID,
				ToolName: call.Name,
				Rendered: "Error: Cancelled",
				ErrKind:  ErrorKindCancelled,
			})
			continue
		}
		outcomes = append(outcomes, ts.executeOne(ctx, reg, call, ec))
	}
	return outcomes
}

func (ts *ToolScheduler) executeOne(
	ctx context.Context,
	reg *tools.Registry,
	call providers.ToolCall,
	ec tools.ExecContext,
) ToolOutcome {
	ts.stream.ToolValidating(call.ID, call.Name)

	spec, ok := reg.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("Unknown tool: %s", call.Name)
		ts.stream.ToolError(call.ID, call.Name, msg)
		return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: " + msg, ErrKind: ErrorKindUserInput}
	}

	if err := reg.Validate(call.Name, call.Arguments); err != nil {
		ts.stream.ToolError(call.ID, call.Name, err.Error())
		return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: " + err.Error(), ErrKind: ErrorKindUserInput}
	}

	if outcome, refused := ts.confirmationGate(ctx, spec, call); refused != nil {
		return *refused
	} else if outcome != "" {
		logger.DebugCF("scheduler", "Confirmation gate passed", map[string]any{
			"tool": call.Name,
			"via":  outcome,
		})
	}

	return ts.runGuarded(ctx, reg, spec, call, ec)
}

// confirmationGate returns how the call passed ("" plus a refusal outcome
// when it did not). An "always" decision persists in the allowlist for the
// rest of the process.
func (ts *ToolScheduler) confirmationGate(
	ctx context.Context,
	spec *tools.Spec,
	call providers.ToolCall,
) (via string, refused *ToolOutcome) {
	if spec.ReadOnly || spec.Confirm == tools.ConfirmNone {
		return "read_only", nil
	}

	details := tools.ConfirmRequest{Key: spec.Name}
	if spec.ConfirmDetails != nil {
		details = spec.ConfirmDetails(json.RawMessage(call.Arguments))
		if details.Key == "" {
			details.Key = spec.Name
		}
	}

	if ts.allowlist.Contains(details.Key) || ts.allowlist.Contains(spec.Name+":always") {
		return "allowlist", nil
	}

	switch ts.mode {
	case config.ApprovalYolo:
		if spec.Confirm != tools.ConfirmShell || !ts.isForbiddenCommand(call.Arguments) {
			return "yolo", nil
		}
	case config.ApprovalAutoEdit:
		if spec.Confirm == tools.ConfirmEdit {
			return "auto_edit", nil
		}
	}

	ts.stream.ToolAwaitingApproval(call.ID, call.Name, details)

	if ts.confirm == nil {
		msg := "Cancelled: no approver configured"
		ts.stream.ToolCancelled(call.ID, call.Name)
		return "", &ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: " + msg, ErrKind: ErrorKindCancelled}
	}

	decision, err := ts.confirm(ctx, call.ID, call.Name, details)
	if err != nil {
		decision = DecisionCancel
	}

	switch decision {
	case DecisionAlways:
		ts.allowlist.Add(details.Key)
		return "always", nil
	case DecisionOnce:
		return "once", nil
	default:
		ts.stream.ToolCancelled(call.ID, call.Name)
		return "", &ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: Cancelled", ErrKind: ErrorKindCancelled}
	}
}

func (ts *ToolScheduler) isForbiddenCommand(argsJSON string) bool {
	var p struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &p); err != nil {
		return true
	}
	return ts.forbiddenRoots[tools.CommandRoot(p.Command)]
}

// runGuarded executes the call under the per-tool deadline, forwarding
// output deltas and classifying timeout vs cancellation.
func (ts *ToolScheduler) runGuarded(
	ctx context.Context,
	reg *tools.Registry,
	spec *tools.Spec,
	call providers.ToolCall,
	ec tools.ExecContext,
) ToolOutcome {
	toolCtx, cancel := context.WithTimeout(ctx, ts.toolTimeout)
	defer cancel()

	ec.OnOutput = func(delta string) {
		ts.stream.ToolOutput(call.ID, call.Name, delta)
	}

	ts.stream.ToolExecuting(call.ID, call.Name)

	// The registry call is synchronous; run it aside so a stuck executor
	// cannot outlive its deadline.
	resultCh := make(chan tools.Result, 1)
	go func() {
		resultCh <- reg.Execute(toolCtx, call.Name, call.Arguments, ec)
	}()

	var res tools.Result
	select {
	case res = <-resultCh:
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			ts.stream.ToolCancelled(call.ID, call.Name)
			return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: Cancelled", ErrKind: ErrorKindCancelled}
		}
		msg := fmt.Sprintf("%s timed out (%ds)", call.Name, int(ts.toolTimeout.Seconds()))
		ts.stream.ToolError(call.ID, call.Name, msg)
		return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: " + msg, ErrKind: ErrorKindTimeout}
	}

	if ctx.Err() != nil {
		ts.stream.ToolCancelled(call.ID, call.Name)
		return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: "Error: Cancelled", ErrKind: ErrorKindCancelled}
	}

	rendered := reg.RenderForLLM(call.Name, res)
	rendered = ts.shrinkOutput(ctx, call.Name, rendered)

	if !res.OK {
		ts.stream.ToolError(call.ID, call.Name, res.Error)
		return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: rendered, ErrKind: ErrorKindToolExecution}
	}

	ts.stream.ToolComplete(call.ID, call.Name, utils.Truncate(rendered, 200))
	return ToolOutcome{CallID: call.ID, ToolName: call.Name, Rendered: rendered}
}

// shrinkOutput applies the post-processing pass: hard head/tail truncation
// above MaxToolOutputChars, then secondary-model summarisation above the
// token threshold, with a note that summarisation occurred.
func (ts *ToolScheduler) shrinkOutput(ctx context.Context, toolName, rendered string) string {
	if ts.summarizer == nil {
		return rendered
	}
	if tokens.Estimate(rendered) <= ts.summarizeAbove {
		return rendered
	}

	if len(rendered) > MaxToolOutputChars {
		rendered = utils.TruncateMiddle(rendered, MaxToolOutputChars)
	}

	summary := ts.summarizer.Summarize(ctx, toolName, rendered)
	if summary == rendered {
		return rendered
	}
	return fmt.Sprintf("[%s output summarised from %d chars]\n%s", toolName, len(rendered), strings.TrimSpace(summary))
}
