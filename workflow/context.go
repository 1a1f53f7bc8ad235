// Package workflow drives panic work-items through their state machine:
// preflight, repo setup, reproducing, fixing, shipping. Handlers do the
// per-state work; the Orchestrator admits items, persists transitions, and
// owns shutdown.
package workflow

import (
	"context"
	"fmt"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/gitops"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/internal/config"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/logging"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/sandbox"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/store/sqlite"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/agent"
)

// Sandbox is the slice of the sandbox executor handlers use.
type Sandbox interface {
	Run(ctx context.Context, session, command string, opts sandbox.RunOptions) (*sandbox.Result, error)
	Delete(ctx context.Context, session string) error
	SessionDir(session string) string
}

// AgentRunner spawns one budgeted agent invocation. *agent.Runner satisfies
// this.
type AgentRunner interface {
	Run(ctx context.Context, opts agent.RunOptions) (*agent.RunResult, error)
}

// GitOps is the git/PR boundary used by handlers. *gitops.Git satisfies
// this.
type GitOps interface {
	CreateBranch(ctx context.Context, session, branch string) error
	CommitAll(ctx context.Context, session, message string) error
	SquashBranch(ctx context.Context, session, message string) error
	Push(ctx context.Context, session, branch string) error
	CreateDraftPR(ctx context.Context, session string, opts gitops.PROptions) (*gitops.PRResult, error)
}

// PRChecker confirms a created PR through the GitHub API.
// *gitops.GitHubClient satisfies this.
type PRChecker interface {
	LookupPR(ctx context.Context, prURL string) (*gitops.PRStatus, error)
}

// ItemStore is the slice of the durable store the orchestrator writes
// through. *sqlite.Store satisfies this.
type ItemStore interface {
	GetPending(limit int) ([]*model.PanicWorkItem, error)
	UpdateStatus(panicLocation string, status model.Status, upd sqlite.StatusUpdate) error
	MarkNeedsHumanReview(panicLocation string, werr *model.WorkflowError) error
	IncrementRetry(panicLocation string) error
	ResetRetry(panicLocation string) error
}

// Context is the immutable per-item view a handler receives. The orchestrator
// builds one per admission; handlers never write to the store themselves.
type Context struct {
	// Item is a snapshot taken at admission. Handlers treat it as read-only.
	Item    model.PanicWorkItem
	Session string
	Branch  string
	// RunID correlates log records across the phases of one admission.
	RunID string

	Config  *config.Config
	Logger  *logging.Logger
	Sandbox Sandbox
	Agents  AgentRunner
	Git     GitOps
	// PRCheck is optional; nil skips the post-ship PR confirmation.
	PRCheck PRChecker
}

// meta returns log metadata carrying the admission's run ID.
func (wc *Context) meta(extra map[string]string) map[string]string {
	md := map[string]string{"run_id": wc.RunID}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

// Result is a handler's verdict. Err set means the item moves to
// needs_human_review; otherwise NextStatus is the next live (or terminal)
// state. PRUrl and ContextData ride along on the shipping transition.
type Result struct {
	NextStatus  model.Status
	ContextData map[string]any
	PRUrl       string
	Err         error
}

// Handler processes one state of one work-item. Handlers report every
// failure through Result.Err and never panic on purpose; the orchestrator
// still guards invocations with recover.
type Handler func(ctx context.Context, wc *Context) Result

// Handlers returns the handler chain keyed by the status each one consumes.
func Handlers() map[model.Status]Handler {
	return map[model.Status]Handler{
		model.StatusPending:     Preflight,
		model.StatusRepoSetup:   RepoSetup,
		model.StatusReproducing: Reproducing,
		model.StatusFixing:      Fixing,
		model.StatusShipping:    Shipping,
	}
}

func failf(format string, args ...any) Result {
	return Result{Err: fmt.Errorf(format, args...)}
}

// firstN bounds error excerpts without splitting multibyte runes.
func firstN(s string, n int) string {
	return model.Truncate(s, n)
}
