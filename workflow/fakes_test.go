package workflow

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/agent"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/gitops"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/internal/config"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/logging"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/sandbox"
	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/store/sqlite"
)

// --- sandbox fake ---

type fakeSandbox struct {
	mu       sync.Mutex
	root     string
	commands []string
	results  map[string]*sandbox.Result
	deleted  []string
}

func newFakeSandbox(t *testing.T) *fakeSandbox {
	t.Helper()
	return &fakeSandbox{
		root:    t.TempDir(),
		results: make(map[string]*sandbox.Result),
	}
}

func (f *fakeSandbox) on(prefix string, res *sandbox.Result) {
	f.results[prefix] = res
}

func (f *fakeSandbox) Run(ctx context.Context, session, command string, opts sandbox.RunOptions) (*sandbox.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	for prefix, res := range f.results {
		if strings.HasPrefix(command, prefix) {
			return res, nil
		}
	}
	return &sandbox.Result{}, nil
}

func (f *fakeSandbox) Delete(ctx context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, session)
	return nil
}

func (f *fakeSandbox) SessionDir(session string) string {
	return filepath.Join(f.root, session)
}

func (f *fakeSandbox) deletedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// --- git fake ---

type fakeGit struct {
	mu              sync.Mutex
	calls           []string
	nothingToCommit bool
	prURL           string
	prErr           error
	lastPR          gitops.PROptions
	squashMessage   string
}

func (f *fakeGit) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGit) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeGit) CreateBranch(ctx context.Context, session, branch string) error {
	f.record("branch " + branch)
	return nil
}

func (f *fakeGit) CommitAll(ctx context.Context, session, message string) error {
	f.record("commit " + message)
	if f.nothingToCommit {
		return gitops.ErrNothingToCommit
	}
	return nil
}

func (f *fakeGit) SquashBranch(ctx context.Context, session, message string) error {
	f.record("squash")
	f.mu.Lock()
	f.squashMessage = message
	f.mu.Unlock()
	return nil
}

func (f *fakeGit) Push(ctx context.Context, session, branch string) error {
	f.record("push " + branch)
	return nil
}

func (f *fakeGit) CreateDraftPR(ctx context.Context, session string, opts gitops.PROptions) (*gitops.PRResult, error) {
	f.record("pr")
	f.mu.Lock()
	f.lastPR = opts
	f.mu.Unlock()
	if f.prErr != nil {
		return nil, f.prErr
	}
	if opts.DryRun {
		return &gitops.PRResult{URL: gitops.DryRunPRURL}, nil
	}
	return &gitops.PRResult{URL: f.prURL}, nil
}

// --- agent fake ---

type fakeAgent struct {
	mu     sync.Mutex
	result *agent.RunResult
	err    error
	runs   []agent.RunOptions
	// onRun simulates agent side effects, e.g. writing the context document.
	onRun func(opts agent.RunOptions)
}

func (f *fakeAgent) Run(ctx context.Context, opts agent.RunOptions) (*agent.RunResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, opts)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &agent.RunResult{Success: true, ElapsedMs: 100}, nil
}

// --- store fake ---

type fakeStore struct {
	mu         sync.Mutex
	items      map[string]*model.PanicWorkItem
	reviews    []*model.WorkflowError
	increments int
	resets     int
}

func newFakeStore(items ...*model.PanicWorkItem) *fakeStore {
	s := &fakeStore{items: make(map[string]*model.PanicWorkItem)}
	for _, it := range items {
		s.items[it.PanicLocation] = it
	}
	return s
}

func (s *fakeStore) GetPending(limit int) ([]*model.PanicWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PanicWorkItem
	for _, it := range s.items {
		if it.Status == model.StatusPending {
			snapshot := *it
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(loc string, status model.Status, upd sqlite.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[loc]
	it.Status = status
	if upd.BranchName != "" {
		it.BranchName = upd.BranchName
	}
	if upd.PRUrl != "" {
		it.PRUrl = upd.PRUrl
	}
	return nil
}

func (s *fakeStore) MarkNeedsHumanReview(loc string, werr *model.WorkflowError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[loc]
	it.Status = model.StatusNeedsHumanReview
	it.WorkflowError = werr
	s.reviews = append(s.reviews, werr)
	return nil
}

func (s *fakeStore) IncrementRetry(loc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments++
	s.items[loc].RetryCount++
	return nil
}

func (s *fakeStore) ResetRetry(loc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.items[loc].RetryCount = 0
	return nil
}

func (s *fakeStore) status(loc string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[loc].Status
}

func (s *fakeStore) item(loc string) model.PanicWorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[loc]
}

// --- helpers ---

func testConfig() *config.Config {
	return &config.Config{
		RepoPath:          "/repo",
		MaxParallelPanics: 2,
		IPCPort:           9876,
		LogLevel:          "debug",
		Budgets: config.Budgets{
			ReproducerMs: 60_000,
			FixerMs:      60_000,
		},
		Prompts: config.Prompts{
			ReproducerPath: "prompts/reproducer.md",
			FixerPath:      "prompts/fixer.md",
		},
		GitHub: config.GitHub{
			RepoSlug:   "acme/db",
			PRReviewer: "alice",
			PRLabels:   []string{"bug"},
		},
	}
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&bytes.Buffer{}, "debug", nil)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func testItem(loc string) model.PanicWorkItem {
	return model.PanicWorkItem{
		PanicLocation: loc,
		PanicMessage:  "assertion failed",
		SQLStatements: "SELECT 1;",
		Status:        model.StatusPending,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func testContext(t *testing.T, sb *fakeSandbox, g *fakeGit, ag *fakeAgent) *Context {
	t.Helper()
	item := testItem("src/vdbe.c:1234")
	return &Context{
		Item:    item,
		Session: model.SessionName(item.PanicLocation),
		Branch:  model.BranchName(item.PanicLocation),
		RunID:   "test0001",
		Config:  testConfig(),
		Logger:  testLogger(t),
		Sandbox: sb,
		Agents:  ag,
		Git:     g,
	}
}
