package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Agent.MaxLoops != DefaultMaxLoops {
		t.Errorf("MaxLoops = %d, want %d", cfg.Agent.MaxLoops, DefaultMaxLoops)
	}
	if cfg.Agent.SubagentMaxLoops != DefaultSubagentLoops {
		t.Errorf("SubagentMaxLoops = %d, want %d", cfg.Agent.SubagentMaxLoops, DefaultSubagentLoops)
	}
	if cfg.Tools.ExecTimeoutSeconds != 60 {
		t.Errorf("ExecTimeoutSeconds = %d, want 60", cfg.Tools.ExecTimeoutSeconds)
	}
	if len(cfg.Models) == 0 {
		t.Error("default model registry must not be empty")
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"llm": {"model": "openai/gpt-4o"},
		"agent": {"max_loops": 7}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PICOCODE_MODEL", "anthropic/claude-sonnet-4-5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Model != "anthropic/claude-sonnet-4-5" {
		t.Errorf("env must override file, got %s", cfg.LLM.Model)
	}
	if cfg.Agent.MaxLoops != 7 {
		t.Errorf("MaxLoops = %d, want 7 from file", cfg.Agent.MaxLoops)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config must error")
	}
}

func TestParseApprovalMode(t *testing.T) {
	cases := map[string]ApprovalMode{
		"":          ApprovalDefault,
		"default":   ApprovalDefault,
		"auto_edit": ApprovalAutoEdit,
		"auto-edit": ApprovalAutoEdit,
		"YOLO":      ApprovalYolo,
	}
	for input, want := range cases {
		got, err := ParseApprovalMode(input)
		if err != nil || got != want {
			t.Errorf("ParseApprovalMode(%q) = %s, %v; want %s", input, got, err, want)
		}
	}
	if _, err := ParseApprovalMode("chaotic"); err == nil {
		t.Error("unknown mode must error")
	}
}

func TestModelInfoForUnknownModelIsNonFatal(t *testing.T) {
	cfg := DefaultConfig()
	info := cfg.ModelInfoFor("mystery/model")
	if info.ContextWindow != DefaultContextWindow {
		t.Errorf("ContextWindow = %d, want default %d", info.ContextWindow, DefaultContextWindow)
	}
	if info.Pricing.InputPerMTok != 0 {
		t.Error("unknown model pricing must be zero")
	}
}

func TestConfigModelOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"models":[{"ref":"openai/gpt-4o","context_window":42,"pricing":{"input_per_mtok":1}}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	info := cfg.ModelInfoFor("openai/gpt-4o")
	if info.ContextWindow != 42 {
		t.Errorf("file entry must override default, got %d", info.ContextWindow)
	}
	// Other defaults still seeded.
	if cfg.ModelInfoFor("anthropic/claude-sonnet-4-5").ContextWindow != 200000 {
		t.Error("default models must still be present")
	}
}
