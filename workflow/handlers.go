package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/agent"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/contextdoc"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/gitops"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/sandbox"
)

const (
	// buildTimeout bounds preflight make invocations.
	buildTimeout = 15 * time.Minute
	// commandTimeout bounds scripted git/file steps.
	commandTimeout = 2 * time.Minute

	// setupBindingsCommand installs the test-harness bindings agents need.
	// Idempotent; safe to re-run in an existing session.
	setupBindingsCommand = "make bindings"

	// stderrExcerpt caps how much stderr lands in workflow errors.
	stderrExcerpt = 200
)

// Preflight checks that the base repository builds and its tests pass
// before any agent touches it.
func Preflight(ctx context.Context, wc *Context) Result {
	wc.Logger.Info(wc.Item.PanicLocation, "preflight", "running build", wc.meta(nil))
	res, err := wc.Sandbox.Run(ctx, wc.Session, "make", sandbox.RunOptions{Timeout: buildTimeout})
	if err != nil {
		return failf("running build: %v", err)
	}
	if res.ExitCode != 0 {
		return failf("Build failed: %s", firstN(res.Stderr, stderrExcerpt))
	}

	wc.Logger.Info(wc.Item.PanicLocation, "preflight", "running tests", wc.meta(nil))
	res, err = wc.Sandbox.Run(ctx, wc.Session, "make test", sandbox.RunOptions{Timeout: buildTimeout})
	if err != nil {
		return failf("running tests: %v", err)
	}
	if res.ExitCode != 0 {
		return failf("Tests failed: %s", firstN(res.Stderr, stderrExcerpt))
	}

	return Result{NextStatus: model.StatusRepoSetup}
}

// RepoSetup creates the feature branch, writes the generated test file and
// the initial context document, and commits the scaffolding.
func RepoSetup(ctx context.Context, wc *Context) Result {
	loc := wc.Item.PanicLocation

	if err := wc.Git.CreateBranch(ctx, wc.Session, wc.Branch); err != nil {
		return failf("creating branch %s: %v", wc.Branch, err)
	}

	testFile := testFilePath(wc.Session)
	hostPath := filepath.Join(wc.Sandbox.SessionDir(wc.Session), testFile)
	if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
		return failf("creating test directory: %v", err)
	}
	if err := os.WriteFile(hostPath, []byte(buildTestFile(&wc.Item, testFile)), 0o644); err != nil {
		return failf("writing test file %s: %v", testFile, err)
	}

	doc := contextdoc.New(wc.Sandbox.SessionDir(wc.Session))
	initial := map[string]any{
		"panic_location": loc,
		"panic_message":  wc.Item.PanicMessage,
		"tcl_test_file":  testFile,
	}
	if err := doc.Write(initial); err != nil {
		return failf("writing context document: %v", err)
	}

	if err := wc.Git.CommitAll(ctx, wc.Session, "setup: "+loc); err != nil {
		// Even ErrNothingToCommit is fatal here: setup always adds files.
		return failf("committing setup: %v", err)
	}

	return Result{NextStatus: model.StatusReproducing}
}

// Reproducing installs tool bindings, then runs the reproducer agent until
// it records a deterministic failing seed in the context document.
func Reproducing(ctx context.Context, wc *Context) Result {
	loc := wc.Item.PanicLocation

	res, err := wc.Sandbox.Run(ctx, wc.Session, setupBindingsCommand, sandbox.RunOptions{Timeout: buildTimeout})
	if err != nil {
		return failf("installing tool bindings: %v", err)
	}
	if res.ExitCode != 0 {
		return failf("installing tool bindings: exit %d: %s", res.ExitCode, firstN(res.Stderr, stderrExcerpt))
	}

	if r := runAgent(ctx, wc, "reproducing", wc.Config.Prompts.ReproducerPath, wc.Config.Budgets.ReproducerMs); r.Err != nil {
		return r
	}

	if err := commitAgentWork(ctx, wc, "reproducing", "reproducer: "+loc); err != nil {
		return failf("committing reproducer work: %v", err)
	}

	return Result{NextStatus: model.StatusFixing}
}

// Fixing runs the fixer agent, then lint-fix and formatting as advisory
// cleanups before committing.
func Fixing(ctx context.Context, wc *Context) Result {
	loc := wc.Item.PanicLocation

	if r := runAgent(ctx, wc, "fixing", wc.Config.Prompts.FixerPath, wc.Config.Budgets.FixerMs); r.Err != nil {
		return r
	}

	// Lint and format failures are cosmetic; the reviewer sees them on the PR.
	for _, cleanup := range []string{"make lint-fix", "make format"} {
		res, err := wc.Sandbox.Run(ctx, wc.Session, cleanup, sandbox.RunOptions{Timeout: commandTimeout})
		if err != nil {
			wc.Logger.Warn(loc, "fixing", fmt.Sprintf("%s failed: %v", cleanup, err), wc.meta(nil))
			continue
		}
		if res.ExitCode != 0 {
			wc.Logger.Warn(loc, "fixing",
				fmt.Sprintf("%s exited %d: %s", cleanup, res.ExitCode, firstN(res.Stderr, stderrExcerpt)),
				wc.meta(nil))
		}
	}

	if err := commitAgentWork(ctx, wc, "fixing", "fix: "+loc); err != nil {
		return failf("committing fix: %v", err)
	}

	return Result{NextStatus: model.StatusShipping}
}

// Shipping validates the accumulated context, squashes the branch, pushes,
// and opens the draft PR.
func Shipping(ctx context.Context, wc *Context) Result {
	loc := wc.Item.PanicLocation

	doc := contextdoc.New(wc.Sandbox.SessionDir(wc.Session))
	data, err := doc.Read()
	if err != nil {
		return failf("reading context document: %v", err)
	}

	if v := contextdoc.Validate(data, contextdoc.PhaseShip); !v.Valid {
		return failf("context incomplete at ship: %s", strings.Join(v.Errors, "; "))
	}

	if err := doc.Delete(); err != nil {
		wc.Logger.Warn(loc, "shipping", fmt.Sprintf("deleting context file: %v", err), wc.meta(nil))
	}

	message := gitops.BuildCommitMessage(gitops.CommitInfoFromContext(data))
	if err := wc.Git.SquashBranch(ctx, wc.Session, message); err != nil {
		return failf("squashing branch: %v", err)
	}
	if err := wc.Git.Push(ctx, wc.Session, wc.Branch); err != nil {
		return failf("pushing branch: %v", err)
	}

	pr, err := wc.Git.CreateDraftPR(ctx, wc.Session, gitops.PROptions{
		Title:    "fix: " + wc.Item.PanicMessage,
		Body:     gitops.RenderPRBody(prBodyTemplate, data),
		Repo:     wc.Config.GitHub.RepoSlug,
		Reviewer: wc.Config.GitHub.PRReviewer,
		Labels:   wc.Config.GitHub.PRLabels,
		DryRun:   wc.Config.DryRun,
	})
	if err != nil {
		return failf("creating draft PR: %v", err)
	}
	if wc.Config.DryRun {
		wc.Logger.Info(loc, "shipping", "dry run: PR not created",
			wc.meta(map[string]string{"body_file": pr.BodyFile, "command_file": pr.CommandFile}))
	}

	confirmPR(ctx, wc, pr.URL)

	return Result{NextStatus: model.StatusPROpen, PRUrl: pr.URL, ContextData: data}
}

// runAgent spawns one budgeted agent and converts its outcome into a
// handler verdict. Stream events land in the debug log.
func runAgent(ctx context.Context, wc *Context, phase, promptPath string, budgetMs int64) Result {
	loc := wc.Item.PanicLocation
	wc.Logger.Info(loc, phase, "starting agent",
		wc.meta(map[string]string{"prompt": promptPath, "budget_ms": fmt.Sprintf("%d", budgetMs)}))

	res, err := wc.Agents.Run(ctx, agent.RunOptions{
		Session:       wc.Session,
		PanicLocation: loc,
		PromptPath:    promptPath,
		BudgetMs:      budgetMs,
		OnEvent: func(ev agent.Event) {
			wc.Logger.Debug(loc, phase, firstN(ev.Content, stderrExcerpt),
				wc.meta(map[string]string{"event": string(ev.Type)}))
		},
	})
	if err != nil {
		return failf("%s agent: %v", phase, err)
	}
	if res.TimedOut {
		return failf("%s agent timed out after %dms (net of simulator time)", phase, res.ElapsedMs)
	}
	if !res.Success {
		return failf("%s agent exited %d: %s", phase, res.ExitCode, firstN(res.Stderr, stderrExcerpt))
	}
	wc.Logger.Info(loc, phase, "agent finished",
		wc.meta(map[string]string{"elapsed_ms": fmt.Sprintf("%d", res.ElapsedMs)}))
	return Result{}
}

// commitAgentWork commits everything the agent changed. A clean tree is
// downgraded to a warning: some reproducer runs only adjust the context
// document, which shipping deletes anyway.
func commitAgentWork(ctx context.Context, wc *Context, phase, message string) error {
	err := wc.Git.CommitAll(ctx, wc.Session, message)
	if err == gitops.ErrNothingToCommit {
		wc.Logger.Warn(wc.Item.PanicLocation, phase, "nothing to commit", wc.meta(nil))
		return nil
	}
	return err
}

// confirmPR fetches the created PR through the GitHub API when configured.
// Advisory only.
func confirmPR(ctx context.Context, wc *Context, prURL string) {
	if wc.PRCheck == nil || wc.Config.DryRun {
		return
	}
	st, err := wc.PRCheck.LookupPR(ctx, prURL)
	if err != nil {
		wc.Logger.Warn(wc.Item.PanicLocation, "shipping", fmt.Sprintf("PR lookup failed: %v", err), wc.meta(nil))
		return
	}
	wc.Logger.Info(wc.Item.PanicLocation, "shipping", "PR confirmed",
		wc.meta(map[string]string{
			"pr_number": fmt.Sprintf("%d", st.Number),
			"draft":     fmt.Sprintf("%t", st.Draft),
		}))
}

// testFilePath derives the generated TCL test path from the session name.
func testFilePath(session string) string {
	slug := strings.TrimPrefix(session, "fix-panic-")
	return filepath.Join("testing", "panic-"+slug+".test")
}

// buildTestFile renders the reproduction test scaffold the reproducer agent
// extends.
func buildTestFile(item *model.PanicWorkItem, testFile string) string {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env tclsh\n")
	fmt.Fprintf(&b, "# Reproduction for panic at %s.\n", item.PanicLocation)
	fmt.Fprintf(&b, "# Panic: %s\n", item.PanicMessage)
	b.WriteString("\nsource $testdir/tester.tcl\n\n")
	fmt.Fprintf(&b, "do_execsql_test %s {\n", strings.TrimSuffix(filepath.Base(testFile), ".test"))
	for _, stmt := range strings.Split(item.SQLStatements, "\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		b.WriteString("  " + stmt + "\n")
	}
	b.WriteString("} {}\n")
	return b.String()
}

const prBodyTemplate = `## Summary

Automated fix for a panic at ` + "`{{panic_location}}`" + `.

**Panic:** {{panic_message}}

**Bug:** {{bug_description}}

**Fix:** {{fix_description}}

## Reproduction

Deterministic failing seed: ` + "`{{failing_seed}}`" + ` (test file ` + "`{{tcl_test_file}}`" + `).

{{why_simulator_missed}}

**Simulator changes:** {{simulator_changes}}
`
