package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/sandbox"
)

// maxCapture caps the in-memory stdout/stderr capture. Oldest content is
// dropped at line boundaries when the cap is exceeded.
const maxCapture = 1 << 20

// CommandBuilder returns the argv that executes a shell line inside a
// sandbox session. *sandbox.Executor satisfies this.
type CommandBuilder interface {
	Argv(session, command, cwd string) []string
}

// Timer is the budget clock consulted by the runner. *ipctimer.Tracker
// satisfies this.
type Timer interface {
	StartTracking(loc string)
	StopTracking(loc string)
	ElapsedMs(loc string) int64
	HasTimedOut(loc string, budgetMs int64) bool
}

// Runner spawns agent processes. Fields are set once at construction time.
type Runner struct {
	Sandbox CommandBuilder
	Timer   Timer

	// AgentCLI is the agent executable inside the session (e.g. "claude").
	AgentCLI string
	// IPCPort is exported to the session as IPC_PORT so in-session helpers
	// can reach the timer's pause endpoints.
	IPCPort int

	// PollInterval is how often the budget is checked (default 1s).
	PollInterval time.Duration
	// GracePeriod is the SIGTERM-to-SIGKILL delay on timeout (default 5s).
	GracePeriod time.Duration

	initOnce sync.Once
}

func (r *Runner) initDefaults() {
	r.initOnce.Do(func() {
		if r.PollInterval == 0 {
			r.PollInterval = time.Second
		}
		if r.GracePeriod == 0 {
			r.GracePeriod = 5 * time.Second
		}
	})
}

// RunOptions configures one agent invocation.
type RunOptions struct {
	Session       string
	PanicLocation string
	// PromptPath is the file holding the prompt text.
	PromptPath string
	// BudgetMs is the wall-clock budget net of simulator pauses.
	BudgetMs int64
	// OnEvent, when set, receives parsed stream events. Delivery is
	// best-effort: a slow consumer loses events rather than stalling the
	// agent read loop.
	OnEvent func(Event)
}

// RunResult reports one finished agent invocation.
type RunResult struct {
	Success   bool
	TimedOut  bool
	ExitCode  int
	Stdout    string
	Stderr    string
	ElapsedMs int64
}

// Run spawns the agent and blocks until it exits or exceeds its budget.
// A prompt-file read error is surfaced before any spawn; a spawn failure
// is reported through the result with exit code 1.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	r.initDefaults()

	prompt, err := os.ReadFile(opts.PromptPath)
	if err != nil {
		return nil, fmt.Errorf("reading prompt file %s: %w", opts.PromptPath, err)
	}

	command := fmt.Sprintf("%s --dangerously-skip-permissions --output-format stream-json --prompt %s",
		r.AgentCLI, sandbox.ShellQuote(string(prompt)))
	argv := r.Sandbox.Argv(opts.Session, command, "")

	loc := opts.PanicLocation
	r.Timer.StartTracking(loc)
	defer r.Timer.StopTracking(loc)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"PANIC_LOCATION="+loc,
		"IPC_PORT="+strconv.Itoa(r.IPCPort),
	)
	// The agent runs under the sandbox CLI, so the process we spawn is only
	// the top of a tree. Start it as a process-group leader so timeout
	// signals reach every descendant; otherwise a grandchild holding the
	// stdout pipe would keep the readers (and Wait) blocked past the budget.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &RunResult{
			ExitCode:  1,
			Stderr:    fmt.Sprintf("spawning agent: %v", err),
			ElapsedMs: r.Timer.ElapsedMs(loc),
		}, nil
	}

	// Best-effort event delivery: the reader never blocks on the consumer.
	var eventCh chan Event
	var eventsDone chan struct{}
	if opts.OnEvent != nil {
		eventCh = make(chan Event, 256)
		eventsDone = make(chan struct{})
		go func() {
			defer close(eventsDone)
			for ev := range eventCh {
				opts.OnEvent(ev)
			}
		}()
	}

	stdout := newLineBuffer(maxCapture)
	stderr := newLineBuffer(maxCapture)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			stdout.append(line)
			if eventCh != nil {
				for _, ev := range parseStreamLine([]byte(line)) {
					select {
					case eventCh <- ev:
					default:
					}
				}
			}
		}
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			stderr.append(scanner.Text())
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	killGroup := func(sig syscall.Signal) {
		if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
			// Group already gone; fall back to the direct child.
			_ = cmd.Process.Signal(sig)
		}
	}

	timedOut := false
	var waitErr error

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case waitErr = <-waitCh:
			break poll
		case <-ticker.C:
			if r.Timer.HasTimedOut(loc, opts.BudgetMs) {
				timedOut = true
				killGroup(syscall.SIGTERM)
				select {
				case waitErr = <-waitCh:
				case <-time.After(r.GracePeriod):
					killGroup(syscall.SIGKILL)
					waitErr = <-waitCh
				}
				break poll
			}
		}
	}

	if eventCh != nil {
		close(eventCh)
		<-eventsDone
	}

	exitCode := 0
	if waitErr != nil {
		exitCode = cmd.ProcessState.ExitCode()
		if exitCode == 0 {
			exitCode = 1
		}
	}

	return &RunResult{
		Success:   exitCode == 0 && !timedOut,
		TimedOut:  timedOut,
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ElapsedMs: r.Timer.ElapsedMs(loc),
	}, nil
}

// lineBuffer accumulates lines up to a byte cap, dropping the oldest lines
// once the cap is exceeded.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
	size  int
	max   int
}

func newLineBuffer(max int) *lineBuffer {
	return &lineBuffer{max: max}
}

func (b *lineBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	b.size += len(line) + 1
	for b.size > b.max && len(b.lines) > 1 {
		b.size -= len(b.lines[0]) + 1
		b.lines = b.lines[1:]
	}
}

func (b *lineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
