// Package config loads and validates the workflow configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Budgets holds per-agent wall-clock budgets in milliseconds. The budget
// excludes time during which the simulator is running (see ipctimer).
type Budgets struct {
	ReproducerMs int64 `yaml:"reproducer_ms"`
	FixerMs      int64 `yaml:"fixer_ms"`
}

// GitHub holds PR creation settings.
type GitHub struct {
	// Token is the git host token, used by the gh CLI inside the sandbox
	// and by the API-side PR lookup.
	Token string `yaml:"token"`
	// RepoSlug is "owner/repo".
	RepoSlug string `yaml:"repo_slug"`
	// PRReviewer is the login requested as reviewer on draft PRs.
	PRReviewer string `yaml:"pr_reviewer"`
	// PRLabels are applied to each draft PR. Labels may contain spaces.
	PRLabels []string `yaml:"pr_labels"`
}

// Slack holds optional notification settings. Both fields must be set for
// notifications to be sent.
type Slack struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Prompts holds paths to the agent prompt files.
type Prompts struct {
	ReproducerPath string `yaml:"reproducer_path"`
	FixerPath      string `yaml:"fixer_path"`
}

// Store holds durable store settings.
type Store struct {
	// Path is the SQLite database file, or ":memory:" for tests.
	Path string `yaml:"path"`
}

// Config is the full configuration, loaded from a single YAML file at
// startup. Every option has an effect.
type Config struct {
	Store Store `yaml:"store"`

	// RepoPath is the base repository path, the default cwd for sandbox
	// operations.
	RepoPath string `yaml:"repo_path"`

	// SessionsRoot is where the sandbox product materializes per-session
	// copy-on-write working trees. The context document is read from
	// <sessions_root>/<session>/panic_context.json.
	SessionsRoot string `yaml:"sessions_root"`

	// MaxParallelPanics caps concurrently processed work-items (default 2).
	MaxParallelPanics int `yaml:"max_parallel_panics"`

	Budgets Budgets `yaml:"budgets"`
	GitHub  GitHub  `yaml:"github"`
	Slack   Slack   `yaml:"slack"`
	Prompts Prompts `yaml:"prompts"`

	// IPCPort is the port the IPC timer server listens on (1-65535).
	IPCPort int `yaml:"ipc_port"`

	// DryRun skips the PR tool invocation and retains sandbox sessions.
	DryRun bool `yaml:"dry_run"`

	// LogLevel is the minimum level persisted and printed
	// (debug|info|warn|error, default info).
	LogLevel string `yaml:"log_level"`

	// SandboxCLI is the sandbox executable (default "sandbox-cli").
	SandboxCLI string `yaml:"sandbox_cli"`

	// AgentCLI is the agent executable run inside sessions (default "claude").
	AgentCLI string `yaml:"agent_cli"`
}

// maxBudget is the upper bound on any single agent budget.
const maxBudget = 3600 * time.Second

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxParallelPanics == 0 {
		c.MaxParallelPanics = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SandboxCLI == "" {
		c.SandboxCLI = "sandbox-cli"
	}
	if c.AgentCLI == "" {
		c.AgentCLI = "claude"
	}
	if c.SessionsRoot == "" && c.RepoPath != "" {
		c.SessionsRoot = filepath.Join(filepath.Dir(c.RepoPath), "sessions")
	}
}

// Validate checks that required configuration is present and in range.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path is required")
	}
	if c.MaxParallelPanics < 1 {
		return fmt.Errorf("max_parallel_panics must be at least 1, got %d", c.MaxParallelPanics)
	}
	if c.IPCPort < 1 || c.IPCPort > 65535 {
		return fmt.Errorf("ipc_port must be in 1-65535, got %d", c.IPCPort)
	}
	if err := validateBudget("budgets.reproducer_ms", c.Budgets.ReproducerMs); err != nil {
		return err
	}
	if err := validateBudget("budgets.fixer_ms", c.Budgets.FixerMs); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug|info|warn|error, got %q", c.LogLevel)
	}
	if c.Prompts.ReproducerPath == "" {
		return fmt.Errorf("prompts.reproducer_path is required")
	}
	if c.Prompts.FixerPath == "" {
		return fmt.Errorf("prompts.fixer_path is required")
	}
	if c.GitHub.RepoSlug == "" {
		return fmt.Errorf("github.repo_slug is required")
	}
	return nil
}

func validateBudget(name string, ms int64) error {
	if ms <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, ms)
	}
	if time.Duration(ms)*time.Millisecond > maxBudget {
		return fmt.Errorf("%s exceeds maximum of %s", name, maxBudget)
	}
	return nil
}

// SlackEnabled reports whether Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.Slack.BotToken != "" && c.Slack.Channel != ""
}
