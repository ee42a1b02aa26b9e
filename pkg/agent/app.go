package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/providers"
	"github.com/sipeed/picocode/pkg/search"
	"github.com/sipeed/picocode/pkg/tools"
)

// Application is built once at startup and holds the process-scoped
// collaborators: the LLM capability, allowlist, stats manager, search
// pipeline and configuration. Engines borrow them by reference; each
// engine still gets its own registry, scheduler, context and stream.
type Application struct {
	Cfg       *config.Config
	SessionID string

	Provider  providers.LLMProvider
	Secondary SecondaryModel

	Allowlist *Allowlist
	Stats     *StatsManager
	Searcher  *search.Searcher
	Globber   *search.Globber

	Confirm     ConfirmFunc
	Subscribers []Subscriber

	mode config.ApprovalMode
}

// NewApplication resolves providers and probes search capabilities.
func NewApplication(cfg *config.Config, confirm ConfirmFunc, subscribers ...Subscriber) (*Application, error) {
	model := cfg.LLM.Model
	if model == "" {
		model = "anthropic/claude-sonnet-4-5"
	}
	base, err := providers.NewFromModelRef(model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return nil, err
	}
	provider := providers.NewRetryingProvider(base, cfg.LLM.RequestsPerMinute)

	secondaryModel := cfg.LLM.SummaryModel
	secondary := SecondaryModel{Provider: provider, Model: model}
	if secondaryModel != "" && secondaryModel != model {
		secondaryBase, err := providers.NewFromModelRef(secondaryModel, "", "")
		if err != nil {
			return nil, fmt.Errorf("summary model: %w", err)
		}
		secondary = SecondaryModel{
			Provider: providers.NewRetryingProvider(secondaryBase, cfg.LLM.RequestsPerMinute),
			Model:    secondaryModel,
		}
	}

	mode, err := config.ParseApprovalMode(cfg.Agent.ApprovalMode)
	if err != nil {
		return nil, newError(ErrorKindConfig, "approval mode", err)
	}

	caps := search.Detect(cfg.Agent.Workspace, cfg.Tools.RipgrepAutoDownload)

	return &Application{
		Cfg:         cfg,
		SessionID:   uuid.NewString(),
		Provider:    provider,
		Secondary:   secondary,
		Allowlist:   NewAllowlist(),
		Stats:       NewStatsManager(cfg),
		Searcher:    search.NewSearcher(caps),
		Globber:     search.NewGlobber(caps),
		Confirm:     confirm,
		Subscribers: subscribers,
		mode:        mode,
	}, nil
}

// Model returns the primary model reference.
func (app *Application) Model() string {
	if app.Cfg.LLM.Model != "" {
		return app.Cfg.LLM.Model
	}
	return "anthropic/claude-sonnet-4-5"
}

// NewEngine assembles a fresh engine+context+scheduler+stream quad for the
// main agent, with the full built-in tool catalogue including task.
func (app *Application) NewEngine() (*Engine, error) {
	return app.newEngine(app.Cfg.Agent.MaxLoops, true)
}

func (app *Application) newEngine(maxLoops int, withTask bool) (*Engine, error) {
	model := app.Model()
	info := app.Cfg.ModelInfoFor(model)

	stream := NewExecutionStream()
	for _, sub := range app.Subscribers {
		stream.On(sub)
	}

	ctxMgr := NewContextManager(info.ContextWindow)
	ctxMgr.AddSystemFragment(systemIdentity(app.Cfg.Agent.Workspace))

	registry := tools.NewRegistry()
	opts := tools.BuiltinOptions{
		Searcher: app.Searcher,
		Globber:  app.Globber,
		Todos:    tools.NewTodoStore(),
	}
	if withTask {
		opts.Subagent = app.subagentRunner()
	}
	if err := tools.RegisterBuiltins(registry, opts); err != nil {
		return nil, err
	}

	var summarizer *ToolOutputSummarizer
	if app.Cfg.Tools.SummarizeOutputs {
		summarizer = NewToolOutputSummarizer(app.Secondary)
	}

	scheduler := NewToolScheduler(stream, SchedulerOptions{
		ApprovalMode:          app.mode,
		Allowlist:             app.Allowlist,
		Confirm:               app.Confirm,
		Summarizer:            summarizer,
		SummarizeThreshold:    app.Cfg.Tools.SummarizeThresholdToks,
		ToolTimeout:           time.Duration(app.Cfg.Tools.ExecTimeoutSeconds) * time.Second,
		ForbiddenCommandRoots: app.Cfg.Tools.ForbiddenCommandRoots,
	})

	execCtx := tools.ExecContext{
		Workspace:           app.Cfg.Agent.Workspace,
		Cwd:                 app.Cfg.Agent.Workspace,
		RestrictToWorkspace: app.Cfg.Agent.RestrictToWorkspace,
	}

	engine := NewEngine(
		app.Provider,
		registry,
		scheduler,
		ctxMgr,
		app.Stats,
		stream,
		NewHistoryCompressor(app.Secondary),
		execCtx,
		EngineOptions{
			Model:       model,
			MaxLoops:    maxLoops,
			MaxTokens:   app.Cfg.Agent.MaxTokens,
			Temperature: app.Cfg.Agent.Temperature,
			Stream:      true,
		},
	)
	return engine, nil
}

// subagentRunner gives the task tool a way to run prompts in an isolated
// engine. Sub-agents get the reduced loop budget and no task tool of their
// own, which bounds delegation depth at one.
func (app *Application) subagentRunner() tools.SubagentRunner {
	return func(ctx context.Context, prompt string, onProgress func(string)) (string, error) {
		sub, err := app.newEngine(app.Cfg.Agent.SubagentMaxLoops, false)
		if err != nil {
			return "", err
		}

		if onProgress != nil {
			sub.Stream().On(func(event Event) {
				switch event.Type {
				case EventToolExecuting:
					if data, ok := event.Data.(ToolEventData); ok {
						onProgress(fmt.Sprintf("[subagent] %s...", data.ToolName))
					}
				case EventContentComplete:
					onProgress("[subagent] done")
				}
			})
		}

		result := sub.Run(ctx, prompt)
		if result.Err != nil {
			return "", result.Err
		}
		return result.FinalText, nil
	}
}

// systemIdentity is the fixed first prompt fragment.
func systemIdentity(workspace string) string {
	return fmt.Sprintf(`You are picocode, a terminal coding agent.

## Workspace
You operate in: %s

## Rules
1. Use tools to act. Never pretend to have run a command or edited a file.
2. Prefer grep/glob to locate code before reading whole files.
3. Keep answers short; the user is in a terminal.`, workspace)
}
