// panicfix automates the reproduction and repair of database-simulator
// panics. It polls a durable work queue, drives each panic through
// sandboxed coding agents, and opens a draft PR when a validated fix
// exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/agent"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/gitops"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/internal/config"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/ipctimer"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/logging"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/notify"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/sandbox"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/store/sqlite"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/workflow"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "panicfix",
	Short: "Automated panic reproduction and repair workflow",
	Long: `panicfix watches a queue of simulator-reported panics and, for each
one, runs sandboxed coding agents that reproduce the panic with a
deterministic seed, author a fix, and open a draft pull request.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "panicfix.yaml", "path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	logger, err := logging.New(os.Stderr, cfg.LogLevel, store)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	tracker := ipctimer.NewTracker()
	executor := sandbox.NewExecutor(cfg.SandboxCLI, cfg.RepoPath, cfg.SessionsRoot)

	ipcServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.IPCPort),
		Handler: ipctimer.NewServer(tracker, store).Router(),
	}
	go func() {
		if err := ipcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("", "", fmt.Sprintf("IPC server: %v", err), nil)
		}
	}()
	logger.Info("", "", fmt.Sprintf("IPC timer server listening on port %d", cfg.IPCPort), nil)

	deps := workflow.Deps{
		Store:   store,
		Logger:  logger,
		Sandbox: executor,
		Agents: &agent.Runner{
			Sandbox:  executor,
			Timer:    tracker,
			AgentCLI: cfg.AgentCLI,
			IPCPort:  cfg.IPCPort,
		},
		Git:       gitops.NewGit(executor, "main"),
		Notifier:  notify.NewNotifier(cfg.Slack.BotToken, cfg.Slack.Channel),
		ForceExit: func() { os.Exit(1) },
	}
	if cfg.GitHub.Token != "" && !cfg.DryRun {
		deps.PRCheck = gitops.NewGitHubClient(cfg.GitHub.Token)
	}

	orch := workflow.NewOrchestrator(cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			// First signal drains in-flight work; second forces exit.
			orch.RequestShutdown()
		}
	}()

	orch.Run(ctx)
	orch.WaitForInFlight(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ipcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("", "", fmt.Sprintf("IPC server shutdown: %v", err), nil)
	}

	logger.Info("", "", "clean shutdown", nil)
	return nil
}
