// PicoCode - terminal coding agent
// License: MIT
//
// Copyright (c) 2026 PicoCode contributors

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sipeed/picocode/pkg/agent"
	"github.com/sipeed/picocode/pkg/checkpoint"
	"github.com/sipeed/picocode/pkg/config"
	"github.com/sipeed/picocode/pkg/logger"
)

var (
	flagConfig   string
	flagYolo     bool
	flagAutoEdit bool
	flagSession  string
	flagNoStream bool
)

func main() {
	root := &cobra.Command{
		Use:   "picocode",
		Short: "Terminal coding agent",
		Long:  "picocode drives an LLM through iterative tool use against your working tree.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL()
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&flagYolo, "yolo", false, "auto-approve all tools except forbidden shell commands")
	root.PersistentFlags().BoolVar(&flagAutoEdit, "auto-edit", false, "auto-approve edit-class tools")
	root.PersistentFlags().StringVar(&flagSession, "session", "", "session id to resume or save under")
	root.PersistentFlags().BoolVar(&flagNoStream, "no-stream", false, "disable live output rendering")

	runCmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one prompt and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(strings.Join(args, " "))
		},
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions()
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Show the search strategy chain this host supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showProbe()
		},
	}

	root.AddCommand(runCmd, sessionsCmd, probeCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagYolo {
		cfg.Agent.ApprovalMode = string(config.ApprovalYolo)
	} else if flagAutoEdit {
		cfg.Agent.ApprovalMode = string(config.ApprovalAutoEdit)
	}
	if cfg.LogFile != "" {
		logger.EnableFileLogging(cfg.LogFile)
	}
	return cfg, nil
}

func newApplication(cfg *config.Config) (*agent.Application, *renderer, error) {
	r := newRenderer(os.Stdout, !flagNoStream)
	app, err := agent.NewApplication(cfg, terminalConfirm, r.OnEvent)
	if err != nil {
		return nil, nil, err
	}
	if flagSession != "" {
		app.SessionID = flagSession
	}
	return app, r, nil
}

// cancelableContext returns a context cancelled by the first SIGINT; a
// second SIGINT kills the process.
func cancelableContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Fprintln(os.Stderr, "\nCancelling... (^C again to force quit)")
		cancel()
		<-sigs
		os.Exit(130)
	}()
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func runOnce(prompt string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, r, err := newApplication(cfg)
	if err != nil {
		return err
	}

	engine, err := app.NewEngine()
	if err != nil {
		return err
	}

	store, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer store.Close()
	restoreSession(app, engine, store)

	ctx, cleanup := cancelableContext()
	defer cleanup()

	result := engine.Run(ctx, prompt)
	r.Flush()

	saveSession(app, engine, store)

	if result.Err != nil {
		return result.Err
	}
	if !flagNoStream {
		// Content already streamed.
		fmt.Println()
	} else {
		fmt.Println(result.FinalText)
	}
	return nil
}

func runREPL() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, r, err := newApplication(cfg)
	if err != nil {
		return err
	}

	store, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := app.NewEngine()
	if err != nil {
		return err
	}
	restoreSession(app, engine, store)

	rl, err := readline.New("picocode> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("picocode (model %s, session %s). Ctrl-D to exit.\n", app.Model(), app.SessionID)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			break // io.EOF
		}
		prompt := strings.TrimSpace(line)
		if prompt == "" {
			continue
		}
		if prompt == "/usage" {
			printUsage(app)
			continue
		}

		ctx, cleanup := cancelableContext()
		result := engine.Run(ctx, prompt)
		cleanup()
		r.Flush()

		if result.Err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\nTry again, or switch models in the config.\n", result.Err)
		} else {
			fmt.Println()
		}

		saveSession(app, engine, store)
	}
	return nil
}

func printUsage(app *agent.Application) {
	cost, tokensIn, tokensOut := app.Stats.Totals()
	fmt.Printf("Model: %s\nTokens in: %d\nTokens out: %d\nTotal cost: $%.4f\n",
		app.Model(), tokensIn, tokensOut, cost)
}

func openCheckpoints() (*checkpoint.Store, error) {
	dir := config.ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return checkpoint.Open(filepath.Join(dir, "checkpoints.db"))
}

func restoreSession(app *agent.Application, engine *agent.Engine, store *checkpoint.Store) {
	if flagSession == "" {
		return
	}
	cp, err := store.Load(flagSession)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.WarnCF("main", "Checkpoint load failed", map[string]any{"error": err.Error()})
		}
		return
	}
	engine.Context().SetHistory(cp.Messages)
	app.Stats.Restore(agent.StatsCheckpoint{TotalCost: cp.TotalCost})
	fmt.Printf("Resumed session %s (%d messages)\n", cp.SessionID, len(cp.Messages))
}

func saveSession(app *agent.Application, engine *agent.Engine, store *checkpoint.Store) {
	cp := checkpoint.Checkpoint{
		SessionID: app.SessionID,
		Model:     app.Model(),
		Messages:  engine.Context().History(),
		TotalCost: app.Stats.ToCheckpoint().TotalCost,
	}
	if err := store.Save(cp); err != nil {
		logger.WarnCF("main", "Checkpoint save failed", map[string]any{"error": err.Error()})
	}
}

func listSessions() error {
	store, err := openCheckpoints()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No saved sessions.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func showProbe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, _, err := newApplication(cfg)
	if err != nil {
		return err
	}
	fmt.Println("Search strategy chain:")
	for i, name := range app.Searcher.Strategies() {
		fmt.Printf("  %d. %s\n", i+1, name)
	}
	return nil
}
