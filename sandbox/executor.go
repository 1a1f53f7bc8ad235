// Package sandbox runs shell commands inside named copy-on-write sessions
// via the sandbox CLI. Session creation is implicit on first run; each
// work-item owns exactly one session for its lifetime.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result holds the captured output of one sandbox command. Non-zero exit
// codes are reported here, not as errors; errors surface only for spawn
// failures.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunOptions configures a single Run call.
type RunOptions struct {
	// Timeout is advisory; zero means no command-level timeout.
	Timeout time.Duration
	// Cwd overrides the executor's default working directory.
	Cwd string
}

// Executor wraps the sandbox CLI. The zero value is not usable; construct
// with NewExecutor.
type Executor struct {
	cli          string
	defaultCwd   string
	sessionsRoot string
}

// NewExecutor creates an Executor. repoPath is the base repository path,
// bound as the default cwd for all commands. sessionsRoot is where the
// sandbox product materializes per-session working trees.
func NewExecutor(cli, repoPath, sessionsRoot string) *Executor {
	return &Executor{
		cli:          cli,
		defaultCwd:   repoPath,
		sessionsRoot: sessionsRoot,
	}
}

// Argv returns the full argument vector that executes command inside
// session. Quoting of command is the caller's responsibility.
func (e *Executor) Argv(session, command, cwd string) []string {
	if cwd == "" {
		cwd = e.defaultCwd
	}
	args := []string{e.cli, "run", "--session", session}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	return append(args, command)
}

// Run executes a single shell line inside the session, capturing stdout and
// stderr fully in memory.
func (e *Executor) Run(ctx context.Context, session, command string, opts RunOptions) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	argv := e.Argv(session, command, opts.Cwd)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("running sandbox command: %w", err)
	}
	return res, nil
}

// Delete removes a session. Deleting an absent session is a no-op.
func (e *Executor) Delete(ctx context.Context, session string) error {
	cmd := exec.CommandContext(ctx, e.cli, "delete", "--session", session)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := strings.ToLower(string(output))
		if strings.Contains(out, "not found") || strings.Contains(out, "no such session") {
			return nil
		}
		return fmt.Errorf("deleting session %q: %w\noutput: %s", session, err, output)
	}
	return nil
}

// Exists reports whether the session is present.
func (e *Executor) Exists(ctx context.Context, session string) (bool, error) {
	cmd := exec.CommandContext(ctx, e.cli, "exists", "--session", session)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("checking session %q: %w", session, err)
}

// SessionDir returns the host path of the session's materialized working
// tree. The context document is read and written through this path.
func (e *Executor) SessionDir(session string) string {
	return filepath.Join(e.sessionsRoot, session)
}
