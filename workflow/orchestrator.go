package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/internal/config"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/logging"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/notify"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/store/sqlite"
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store    ItemStore
	Logger   *logging.Logger
	Sandbox  Sandbox
	Agents   AgentRunner
	Git      GitOps
	PRCheck  PRChecker
	Notifier *notify.Notifier
	// ForceExit runs on the second shutdown request. The CLI installs
	// os.Exit here; tests install a recorder.
	ForceExit func()
}

// Orchestrator polls the store for pending work-items, admits up to
// max_parallel_panics concurrently, and drives each through its handler
// chain, persisting every transition.
type Orchestrator struct {
	cfg      *config.Config
	deps     Deps
	handlers map[model.Status]Handler

	mu       sync.Mutex
	inFlight map[string]struct{}

	shutdown atomic.Bool
	wg       sync.WaitGroup

	// Poll intervals, overridable in tests.
	busyInterval time.Duration
	idleInterval time.Duration
	newRunID     func() string
}

// NewOrchestrator builds an orchestrator with the standard handler chain.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		handlers:     Handlers(),
		inFlight:     make(map[string]struct{}),
		busyInterval: time.Second,
		idleInterval: 5 * time.Second,
		newRunID:     func() string { return uuid.NewString()[:8] },
	}
}

// Run is the admission loop. It returns once shutdown is requested or ctx
// is done; in-flight items keep running, see WaitForInFlight.
func (o *Orchestrator) Run(ctx context.Context) {
	o.deps.Logger.Info("", "", fmt.Sprintf("orchestrator started, max %d parallel panics", o.cfg.MaxParallelPanics), nil)

	for {
		if o.shutdown.Load() || ctx.Err() != nil {
			return
		}

		free := o.cfg.MaxParallelPanics - o.inFlightCount()
		if free <= 0 {
			o.pause(ctx, o.busyInterval)
			continue
		}

		items, err := o.deps.Store.GetPending(free)
		if err != nil {
			o.deps.Logger.Error("", "", fmt.Sprintf("polling pending items: %v", err), nil)
			o.pause(ctx, o.idleInterval)
			continue
		}

		admitted := 0
		for _, item := range items {
			if !o.admit(item.PanicLocation) {
				continue
			}
			admitted++
			o.wg.Add(1)
			go o.runItem(ctx, *item)
		}
		if admitted == 0 {
			o.pause(ctx, o.idleInterval)
		}
	}
}

// RequestShutdown stops admission. Idempotent on the flag; a second call
// forces exit through Deps.ForceExit.
func (o *Orchestrator) RequestShutdown() {
	if o.shutdown.CompareAndSwap(false, true) {
		o.deps.Logger.Info("", "", fmt.Sprintf("shutdown requested, %d items in flight", o.inFlightCount()), nil)
		return
	}
	o.deps.Logger.Warn("", "", "second shutdown request, forcing exit", nil)
	if o.deps.ForceExit != nil {
		o.deps.ForceExit()
	}
}

// WaitForInFlight blocks until every admitted item has finished or ctx is
// done.
func (o *Orchestrator) WaitForInFlight(ctx context.Context) {
	for o.inFlightCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// InFlight returns the number of items currently being processed.
func (o *Orchestrator) InFlight() int {
	return o.inFlightCount()
}

func (o *Orchestrator) inFlightCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

func (o *Orchestrator) admit(loc string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[loc]; ok {
		return false
	}
	o.inFlight[loc] = struct{}{}
	return true
}

func (o *Orchestrator) release(loc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, loc)
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// runItem drives one work-item through its state machine until it reaches a
// terminal state.
func (o *Orchestrator) runItem(ctx context.Context, item model.PanicWorkItem) {
	loc := item.PanicLocation
	defer o.wg.Done()
	defer o.release(loc)

	wc := &Context{
		Item:    item,
		Session: model.SessionName(loc),
		Branch:  model.BranchName(loc),
		RunID:   o.newRunID(),
		Config:  o.cfg,
		Logger:  o.deps.Logger,
		Sandbox: o.deps.Sandbox,
		Agents:  o.deps.Agents,
		Git:     o.deps.Git,
		PRCheck: o.deps.PRCheck,
	}

	status := item.Status
	for {
		handler, ok := o.handlers[status]
		if !ok {
			o.markNeedsHumanReview(wc, status, fmt.Errorf("no handler for status %q", status))
			return
		}

		res := o.invoke(ctx, handler, wc, status)
		if res.Err != nil {
			o.markNeedsHumanReview(wc, status, res.Err)
			return
		}

		upd := sqlite.StatusUpdate{PRUrl: res.PRUrl}
		if status == model.StatusRepoSetup {
			upd.BranchName = wc.Branch
		}
		if err := o.deps.Store.UpdateStatus(loc, res.NextStatus, upd); err != nil {
			o.deps.Logger.Error(loc, string(status), fmt.Sprintf("persisting transition to %s: %v", res.NextStatus, err), wc.meta(nil))
			return
		}
		o.deps.Logger.Info(loc, string(status), fmt.Sprintf("transitioned to %s", res.NextStatus), wc.meta(nil))

		if res.NextStatus == model.StatusPROpen {
			o.finishShipped(ctx, wc, res.PRUrl)
			return
		}
		if res.NextStatus.IsTerminal() {
			return
		}
		status = res.NextStatus
	}
}

// invoke runs a handler with a catch-all so a buggy handler cannot take
// down the orchestrator.
func (o *Orchestrator) invoke(ctx context.Context, handler Handler, wc *Context, status model.Status) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("handler panicked in %s: %v", status, r)}
		}
	}()
	return handler(ctx, wc)
}

func (o *Orchestrator) markNeedsHumanReview(wc *Context, status model.Status, cause error) {
	loc := wc.Item.PanicLocation
	phase := string(status)

	werr := &model.WorkflowError{
		Phase:     phase,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := o.deps.Store.MarkNeedsHumanReview(loc, werr); err != nil {
		o.deps.Logger.Error(loc, phase, fmt.Sprintf("marking needs_human_review: %v", err), wc.meta(nil))
	}
	if err := o.deps.Store.IncrementRetry(loc); err != nil {
		o.deps.Logger.Warn(loc, phase, fmt.Sprintf("incrementing retry count: %v", err), wc.meta(nil))
	}

	o.deps.Logger.Error(loc, phase,
		fmt.Sprintf("needs human review: %v (session %s retained)", cause, wc.Session),
		wc.meta(map[string]string{"session": wc.Session}))

	if err := o.deps.Notifier.NeedsHumanReview(loc, phase, cause.Error(), wc.Session); err != nil {
		o.deps.Logger.Warn(loc, phase, fmt.Sprintf("slack notification failed: %v", err), wc.meta(nil))
	}
}

// finishShipped handles session lifecycle and notifications after a
// successful ship.
func (o *Orchestrator) finishShipped(ctx context.Context, wc *Context, prURL string) {
	loc := wc.Item.PanicLocation

	if err := o.deps.Store.ResetRetry(loc); err != nil {
		o.deps.Logger.Warn(loc, "shipping", fmt.Sprintf("resetting retry count: %v", err), wc.meta(nil))
	}

	if err := o.deps.Notifier.PROpened(loc, prURL); err != nil {
		o.deps.Logger.Warn(loc, "shipping", fmt.Sprintf("slack notification failed: %v", err), wc.meta(nil))
	}

	if o.cfg.DryRun {
		o.deps.Logger.Info(loc, "shipping", fmt.Sprintf("dry run: session %s retained", wc.Session), wc.meta(nil))
		return
	}
	if err := o.deps.Sandbox.Delete(ctx, wc.Session); err != nil {
		o.deps.Logger.Warn(loc, "shipping", fmt.Sprintf("releasing session %s: %v", wc.Session, err), wc.meta(nil))
		return
	}
	o.deps.Logger.Info(loc, "shipping", fmt.Sprintf("session %s released", wc.Session), wc.meta(nil))
}
