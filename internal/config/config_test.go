package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
store:
  path: /tmp/workflow.db
repo_path: /srv/turso
max_parallel_panics: 3
budgets:
  reproducer_ms: 1800000
  fixer_ms: 2700000
github:
  repo_slug: tursodatabase/turso
  pr_reviewer: maintainer
  pr_labels: ["bug", "auto fix"]
ipc_port: 8947
prompts:
  reproducer_path: prompts/reproducer.md
  fixer_path: prompts/fixer.md
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.MaxParallelPanics != 3 {
		t.Errorf("max_parallel_panics = %d, want 3", cfg.MaxParallelPanics)
	}
	if len(cfg.GitHub.PRLabels) != 2 || cfg.GitHub.PRLabels[1] != "auto fix" {
		t.Errorf("unexpected labels: %v", cfg.GitHub.PRLabels)
	}
	if cfg.SandboxCLI != "sandbox-cli" {
		t.Errorf("sandbox_cli default = %q", cfg.SandboxCLI)
	}
	if cfg.AgentCLI != "claude" {
		t.Errorf("agent_cli default = %q", cfg.AgentCLI)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default = %q", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMaxParallelDefault(t *testing.T) {
	body := `
store:
  path: /tmp/workflow.db
repo_path: /srv/turso
budgets:
  reproducer_ms: 1000
  fixer_ms: 1000
github:
  repo_slug: o/r
ipc_port: 8947
prompts:
  reproducer_path: a.md
  fixer_path: b.md
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxParallelPanics != 2 {
		t.Fatalf("default max_parallel_panics = %d, want 2", cfg.MaxParallelPanics)
	}
}

func TestValidateRejectsBadBudgets(t *testing.T) {
	tests := []struct {
		name         string
		reproducerMs int64
	}{
		{"zero", 0},
		{"negative", -5},
		{"over one hour", 3_600_001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			cfg.Budgets.ReproducerMs = tt.reproducerMs
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for reproducer budget %d", tt.reproducerMs)
			}
		})
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		cfg, err := Load(writeConfig(t, validConfig))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		cfg.IPCPort = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected validation error for port %d", port)
		}
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestSlackEnabled(t *testing.T) {
	cfg := &Config{}
	if cfg.SlackEnabled() {
		t.Fatal("slack should be disabled without tokens")
	}
	cfg.Slack.BotToken = "xoxb-test"
	if cfg.SlackEnabled() {
		t.Fatal("slack should require a channel")
	}
	cfg.Slack.Channel = "#panics"
	if !cfg.SlackEnabled() {
		t.Fatal("slack should be enabled")
	}
}
