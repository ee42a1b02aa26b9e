// PicoCode - terminal coding agent
// License: MIT
//
// Copyright (c) 2026 PicoCode contributors

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/sipeed/picocode/pkg/logger"
)

// ApprovalMode controls when the tool scheduler pauses for confirmation.
type ApprovalMode string

const (
	// ApprovalDefault requires confirmation for every non-read-only tool.
	ApprovalDefault ApprovalMode = "default"
	// ApprovalAutoEdit auto-approves edit-class tools (write_file, edit_file).
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	// ApprovalYolo auto-approves everything except shell commands whose
	// root is on the forbidden list.
	ApprovalYolo ApprovalMode = "yolo"
)

func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ApprovalDefault, nil
	case "auto_edit", "auto-edit", "autoedit":
		return ApprovalAutoEdit, nil
	case "yolo":
		return ApprovalYolo, nil
	default:
		return ApprovalDefault, fmt.Errorf("unknown approval mode: %q", s)
	}
}

// ModelPricing is expressed in USD per million tokens. USD is the canonical
// currency everywhere in the core; display conversion belongs to the UI.
type ModelPricing struct {
	InputPerMTok    float64 `json:"input_per_mtok"`
	OutputPerMTok   float64 `json:"output_per_mtok"`
	CacheHitPerMTok float64 `json:"cache_hit_per_mtok"`
}

// ModelInfo describes one known model.
type ModelInfo struct {
	// Ref is the "provider/model-id" reference.
	Ref           string       `json:"ref"`
	ContextWindow int          `json:"context_window"`
	Pricing       ModelPricing `json:"pricing"`
}

type LLMConfig struct {
	Model   string `json:"model" env:"PICOCODE_MODEL"`
	APIKey  string `json:"api_key" env:"PICOCODE_API_KEY"`
	BaseURL string `json:"base_url" env:"PICOCODE_BASE_URL"`

	// SummaryModel is the lower-tier model used for history compression and
	// tool output summarisation. Empty means reuse the primary model.
	SummaryModel string `json:"summary_model" env:"PICOCODE_SUMMARY_MODEL"`

	RequestsPerMinute int `json:"requests_per_minute" env:"PICOCODE_RPM"`
}

type AgentConfig struct {
	MaxLoops            int     `json:"max_loops"`
	SubagentMaxLoops    int     `json:"subagent_max_loops"`
	MaxTokens           int     `json:"max_tokens"`
	Temperature         float64 `json:"temperature"`
	Workspace           string  `json:"workspace" env:"PICOCODE_WORKSPACE"`
	RestrictToWorkspace bool    `json:"restrict_to_workspace"`
	ApprovalMode        string  `json:"approval_mode" env:"PICOCODE_APPROVAL_MODE"`
}

type ToolsConfig struct {
	ExecTimeoutSeconds int `json:"exec_timeout_seconds"`

	// ForbiddenCommandRoots stay confirmation-gated even under yolo.
	ForbiddenCommandRoots []string `json:"forbidden_command_roots"`

	// RipgrepAutoDownload permits lazily populating ~/.picocode/bin with a
	// ripgrep binary. Off by default.
	RipgrepAutoDownload bool `json:"ripgrep_auto_download" env:"PICOCODE_RG_AUTODOWNLOAD"`

	SummarizeOutputs       bool `json:"summarize_outputs"`
	SummarizeThresholdToks int  `json:"summarize_threshold_tokens"`
}

type Config struct {
	LLM    LLMConfig   `json:"llm"`
	Agent  AgentConfig `json:"agent"`
	Tools  ToolsConfig `json:"tools"`
	Models []ModelInfo `json:"models"`

	LogFile string `json:"log_file" env:"PICOCODE_LOG_FILE"`
}

// DefaultForbiddenCommandRoots are the shell command roots that remain
// gated under yolo. This is a policy knob, not a security boundary.
var DefaultForbiddenCommandRoots = []string{
	"rm", "rmdir", "dd", "mkfs", "shutdown", "reboot", "poweroff", "sudo",
	"chown", "pkill", "killall",
}

// defaultModels seeds the registry with the models the providers default
// to; config entries with the same ref override these.
var defaultModels = []ModelInfo{
	{
		Ref:           "anthropic/claude-sonnet-4-5",
		ContextWindow: 200000,
		Pricing:       ModelPricing{InputPerMTok: 3, OutputPerMTok: 15, CacheHitPerMTok: 0.3},
	},
	{
		Ref:           "openai/gpt-4o",
		ContextWindow: 128000,
		Pricing:       ModelPricing{InputPerMTok: 2.5, OutputPerMTok: 10, CacheHitPerMTok: 1.25},
	},
}

const (
	DefaultContextWindow = 128000
	DefaultMaxLoops      = 50
	DefaultSubagentLoops = 20
)

func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			RequestsPerMinute: 60,
		},
		Agent: AgentConfig{
			MaxLoops:         DefaultMaxLoops,
			SubagentMaxLoops: DefaultSubagentLoops,
			MaxTokens:        8192,
			Temperature:      0.7,
			ApprovalMode:     string(ApprovalDefault),
		},
		Tools: ToolsConfig{
			ExecTimeoutSeconds:     60,
			ForbiddenCommandRoots:  DefaultForbiddenCommandRoots,
			SummarizeOutputs:       true,
			SummarizeThresholdToks: 4000,
		},
		Models: defaultModels,
	}
}

// ConfigDir returns ~/.picocode, creating nothing.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".picocode"
	}
	return filepath.Join(home, ".picocode")
}

// BinDir is where an auto-downloaded ripgrep binary lives.
func BinDir() string {
	return filepath.Join(ConfigDir(), "bin")
}

// Load reads the config file (if present), overlays environment variables
// and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.json")
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Decode models into a fresh slice: decoding into the default slice
		// would overwrite the shared defaultModels array in place.
		// applyFallbacks re-adds the defaults the file does not name.
		cfg.Models = nil
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if os.Getenv("DEBUG_ENV") != "" {
			logger.DebugCF("config", "Loaded config file", map[string]any{"path": path})
		}
	case os.IsNotExist(err):
		if os.Getenv("DEBUG_ENV") != "" {
			logger.DebugCF("config", "No config file, using defaults", map[string]any{"path": path})
		}
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config environment: %w", err)
	}

	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if c.Agent.MaxLoops <= 0 {
		c.Agent.MaxLoops = DefaultMaxLoops
	}
	if c.Agent.SubagentMaxLoops <= 0 {
		c.Agent.SubagentMaxLoops = DefaultSubagentLoops
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 8192
	}
	if c.Tools.ExecTimeoutSeconds <= 0 {
		c.Tools.ExecTimeoutSeconds = 60
	}
	if c.Tools.SummarizeThresholdToks <= 0 {
		c.Tools.SummarizeThresholdToks = 4000
	}
	if len(c.Tools.ForbiddenCommandRoots) == 0 {
		c.Tools.ForbiddenCommandRoots = DefaultForbiddenCommandRoots
	}
	if c.LLM.RequestsPerMinute <= 0 {
		c.LLM.RequestsPerMinute = 60
	}
	if c.Agent.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Agent.Workspace = wd
		} else {
			c.Agent.Workspace = "."
		}
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		seen[m.Ref] = true
	}
	for _, m := range defaultModels {
		if !seen[m.Ref] {
			c.Models = append(c.Models, m)
		}
	}
}

// ModelInfoFor looks up a model by ref. Unknown models are non-fatal:
// conservative defaults apply and one warning is emitted.
func (c *Config) ModelInfoFor(ref string) ModelInfo {
	for _, m := range c.Models {
		if m.Ref == ref {
			return m
		}
	}
	logger.WarnCF("config", "Unknown model, applying default window and pricing",
		map[string]any{"model": ref})
	return ModelInfo{Ref: ref, ContextWindow: DefaultContextWindow}
}
