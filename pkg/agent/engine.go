package agent

import (
	"context"
	"fmt"

	"github.com/sipeed/picocode/pkg/logger"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/tools"
	"github.com/sipeed/picocode/pkg/utils"
)

// EngineOptions fixes one engine's model and loop bounds.
type EngineOptions struct {
	Model       string
	MaxLoops    int
	MaxTokens   int
	Temperature float64

	// Stream enables provider-side streaming when supported.
	Stream bool
}

// Engine is the outer tool loop: one LLM, one tool set, one context.
// All collaborators are constructor-injected; there is no ambient global
// state. Each engine (a main agent or one of its task sub-agents) has its
// own context, scheduler, registry, todo store and stream; the provider,
// search pipeline, allowlist and stats manager are lent to every engine by
// the Application and are shared between them.
type Engine struct {
	provider   providers.LLMProvider
	registry   *tools.Registry
	scheduler  *ToolScheduler
	ctxMgr     *ContextManager
	stats      *StatsManager
	stream     *ExecutionStream
	compressor *HistoryCompressor
	execCtx    tools.ExecContext
	opts       EngineOptions
}

// RunResult is the outcome of one Run.
type RunResult struct {
	Success   bool
	FinalText string
	LoopCount int
	Err       error
}

func NewEngine(
	provider providers.LLMProvider,
	registry *tools.Registry,
	scheduler *ToolScheduler,
	ctxMgr *ContextManager,
	stats *StatsManager,
	stream *ExecutionStream,
	compressor *HistoryCompressor,
	execCtx tools.ExecContext,
	opts EngineOptions,
) *Engine {
	if opts.MaxLoops <= 0 {
		opts.MaxLoops = 50
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	return &Engine{
		provider:   provider,
		registry:   registry,
		scheduler:  scheduler,
		ctxMgr:     ctxMgr,
		stats:      stats,
		stream:     stream,
		compressor: compressor,
		execCtx:    execCtx,
		opts:       opts,
	}
}

// Stream exposes the engine's execution stream for subscription.
func (e *Engine) Stream() *ExecutionStream {
	return e.stream
}

// Context exposes the engine's context manager (checkpointing, tests).
func (e *Engine) Context() *ContextManager {
	return e.ctxMgr
}

// Run drives the tool loop for one prompt until the LLM produces a
// terminal response, the loop cap is hit, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, prompt string) RunResult {
	e.ctxMgr.AddUser(prompt)
	e.stream.Start()

	for i := 1; i <= e.opts.MaxLoops; i++ {
		e.stream.IncrementLoop()

		if cancelled := e.checkCancel(ctx); cancelled != nil {
			return *cancelled
		}

		messages, err := e.ctxMgr.FormatForLLM()
		if err != nil {
			e.stream.Error(ErrorKindInvariant, err.Error())
			return RunResult{LoopCount: i, Err: err}
		}

		toolDefs := e.registry.Defs()

		logger.DebugCF("engine", "LLM request", map[string]any{
			"loop":     i,
			"max":      e.opts.MaxLoops,
			"model":    e.opts.Model,
			"messages": len(messages),
			"tools":    len(toolDefs),
		})

		e.stream.StartThinking()
		response, err := e.callLLM(ctx, messages, toolDefs)
		if err != nil {
			if cancelled := e.checkCancel(ctx); cancelled != nil {
				return *cancelled
			}
			kind := KindOf(err)
			e.stream.Error(kind, err.Error())
			// CurrentTurn stays intact for inspection.
			return RunResult{LoopCount: i, Err: newError(kind, "LLM call failed", err)}
		}
		e.stream.CompleteThinking(response.ReasoningContent)

		e.stats.Update(e.opts.Model, response.Usage)
		e.stream.UpdateStats(response.Usage)
		e.ctxMgr.NoteReportedUsage(response.Usage.InputTokens)

		if len(response.ToolCalls) > 0 {
			e.ctxMgr.AddAssistant(response.Content, response.ToolCalls, response.ReasoningContent)

			outcomes := e.scheduler.ExecuteBatch(ctx, e.registry, response.ToolCalls, e.execCtx)

			if cancelled := e.checkCancel(ctx); cancelled != nil {
				return *cancelled
			}

			for _, outcome := range outcomes {
				e.ctxMgr.AddTool(outcome.CallID, outcome.ToolName, outcome.Rendered)
			}

			e.compressor.MaybeCompress(ctx, e.ctxMgr, e.stream)
			if cancelled := e.checkCancel(ctx); cancelled != nil {
				return *cancelled
			}
			continue
		}

		// Terminal response.
		e.ctxMgr.AddAssistant(response.Content, nil, response.ReasoningContent)
		e.ctxMgr.ArchiveTurn()
		e.stream.ContentComplete(response.Content)
		e.stream.Complete()

		logger.InfoCF("engine", "Run complete", map[string]any{
			"loops":    i,
			"response": utils.Truncate(response.Content, 120),
		})
		return RunResult{Success: true, FinalText: response.Content, LoopCount: i}
	}

	err := fmt.Errorf("max iterations reached (%d)", e.opts.MaxLoops)
	e.stream.Error(ErrorKindCapability, err.Error())
	return RunResult{LoopCount: e.opts.MaxLoops, Err: newError(ErrorKindCapability, "loop cap exhausted", err)}
}

// callLLM is one completion, optionally streaming content deltas.
func (e *Engine) callLLM(
	ctx context.Context,
	messages []providers.Message,
	toolDefs []providers.ToolDefinition,
) (*providers.Response, error) {
	opts := providers.Options{
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	}
	if e.opts.Stream {
		opts.OnDelta = e.stream.ContentDelta
	}
	return e.provider.Chat(ctx, messages, toolDefs, e.opts.Model, opts)
}

// checkCancel handles external abort at a suspension point: the turn is
// sanitised (dangling assistant tool_calls removed, nothing archived) and
// execution:cancel is emitted.
func (e *Engine) checkCancel(ctx context.Context) *RunResult {
	if ctx.Err() == nil {
		return nil
	}
	e.ctxMgr.SanitizeTurn()
	e.stream.Cancel()
	snap := e.stream.Snapshot()
	return &RunResult{
		LoopCount: snap.Stats.LoopCount,
		Err:       newError(ErrorKindCancelled, "execution cancelled", ctx.Err()),
	}
}
