package gitops

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/sandbox"
)

// DryRunPRURL is returned by CreateDraftPR when dry-run mode is on and no
// PR tool is invoked.
const DryRunPRURL = "https://dry-run.invalid/pull/0"

// CommandRunner executes one shell line inside a sandbox session.
// *sandbox.Executor satisfies this.
type CommandRunner interface {
	Run(ctx context.Context, session, command string, opts sandbox.RunOptions) (*sandbox.Result, error)
}

// Git performs repository operations inside a work-item's sandbox session.
type Git struct {
	sandbox       CommandRunner
	defaultBranch string
}

// NewGit creates a Git boundary. defaultBranch is the branch commits are
// squashed against (usually "main").
func NewGit(runner CommandRunner, defaultBranch string) *Git {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &Git{sandbox: runner, defaultBranch: defaultBranch}
}

// run executes a git command and converts a non-zero exit into an error
// carrying the command's stderr.
func (g *Git) run(ctx context.Context, session, command string) (*sandbox.Result, error) {
	res, err := g.sandbox.Run(ctx, session, command, sandbox.RunOptions{})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%q exited %d: %s", command, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// CreateBranch creates and checks out the feature branch.
func (g *Git) CreateBranch(ctx context.Context, session, branch string) error {
	_, err := g.run(ctx, session, "git checkout -b "+sandbox.ShellQuote(branch))
	return err
}

// CommitAll stages everything and commits. A clean tree is reported through
// ErrNothingToCommit so callers can downgrade it to a warning.
func (g *Git) CommitAll(ctx context.Context, session, message string) error {
	if _, err := g.run(ctx, session, "git add -A"); err != nil {
		return err
	}
	res, err := g.sandbox.Run(ctx, session, "git commit -m "+sandbox.ShellQuote(message), sandbox.RunOptions{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		combined := res.Stdout + res.Stderr
		if strings.Contains(combined, "nothing to commit") || strings.Contains(combined, "nothing added to commit") {
			return ErrNothingToCommit
		}
		return fmt.Errorf("git commit exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ErrNothingToCommit reports a commit attempt against a clean tree.
var ErrNothingToCommit = fmt.Errorf("nothing to commit")

// SquashBranch collapses all branch commits since the merge-base with the
// default branch into one commit with the given message.
func (g *Git) SquashBranch(ctx context.Context, session, message string) error {
	base, err := g.run(ctx, session, "git merge-base "+sandbox.ShellQuote(g.defaultBranch)+" HEAD")
	if err != nil {
		return fmt.Errorf("finding merge-base: %w", err)
	}
	sha := strings.TrimSpace(base.Stdout)
	if sha == "" {
		return fmt.Errorf("empty merge-base against %s", g.defaultBranch)
	}
	if _, err := g.run(ctx, session, "git reset --soft "+sha); err != nil {
		return fmt.Errorf("resetting to merge-base: %w", err)
	}
	if _, err := g.run(ctx, session, "git commit -m "+sandbox.ShellQuote(message)); err != nil {
		return fmt.Errorf("committing squashed change: %w", err)
	}
	return nil
}

// Push publishes the branch to origin with upstream tracking.
func (g *Git) Push(ctx context.Context, session, branch string) error {
	if _, err := g.run(ctx, session, "git push -u origin "+sandbox.ShellQuote(branch)); err != nil {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// PROptions configures one draft-PR creation.
type PROptions struct {
	Title string
	Body  string
	// Repo is the "owner/repo" slug the PR targets. Required: the sandbox
	// session's origin remote is not guaranteed to resolve it.
	Repo     string
	Reviewer string
	Labels   []string
	DryRun   bool
}

// PRResult reports a created (or dry-run) pull request.
type PRResult struct {
	URL string
	// BodyFile and CommandFile are set in dry-run mode only.
	BodyFile    string
	CommandFile string
}

// CreateDraftPR opens a draft pull request via the gh CLI inside the
// session. In dry-run mode the body and the would-be command are written to
// temp files and a sentinel URL is returned without invoking the tool.
func (g *Git) CreateDraftPR(ctx context.Context, session string, opts PROptions) (*PRResult, error) {
	command := buildPRCommand(opts)

	if opts.DryRun {
		bodyFile, err := writeTemp("pr-body-*.md", opts.Body)
		if err != nil {
			return nil, fmt.Errorf("writing dry-run body: %w", err)
		}
		commandFile, err := writeTemp("pr-command-*.sh", command+"\n")
		if err != nil {
			return nil, fmt.Errorf("writing dry-run command: %w", err)
		}
		return &PRResult{URL: DryRunPRURL, BodyFile: bodyFile, CommandFile: commandFile}, nil
	}

	res, err := g.sandbox.Run(ctx, session, command, sandbox.RunOptions{})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("gh pr create exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	url, ok := ExtractPRURL(res.Stdout)
	if !ok {
		return nil, fmt.Errorf("no pull request URL in gh output: %q", strings.TrimSpace(res.Stdout))
	}
	return &PRResult{URL: url}, nil
}

func buildPRCommand(opts PROptions) string {
	parts := []string{
		"gh pr create",
		"--title " + sandbox.ShellQuote(opts.Title),
		"--body " + sandbox.ShellQuote(opts.Body),
		"--draft",
	}
	if opts.Repo != "" {
		parts = append(parts, "--repo "+sandbox.ShellQuote(opts.Repo))
	}
	if opts.Reviewer != "" {
		parts = append(parts, "--reviewer "+sandbox.ShellQuote(opts.Reviewer))
	}
	for _, label := range opts.Labels {
		parts = append(parts, "--label "+sandbox.ShellQuote(label))
	}
	return strings.Join(parts, " ")
}

func writeTemp(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return f.Name(), nil
}

var prURLPattern = regexp.MustCompile(`https://\S+/pull/\d+`)

// ExtractPRURL finds the first https pull-request URL in the PR tool's
// stdout.
func ExtractPRURL(stdout string) (string, bool) {
	url := prURLPattern.FindString(stdout)
	return url, url != ""
}

// RenderPRBody substitutes {{field}} placeholders in template with values
// from the context document. Missing fields substitute the empty string.
func RenderPRBody(template string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := data[key]
		if !ok {
			return ""
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			if t == float64(int64(t)) {
				return fmt.Sprintf("%d", int64(t))
			}
			return fmt.Sprintf("%v", t)
		default:
			return fmt.Sprintf("%v", t)
		}
	})
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*[a-zA-Z0-9_]+\s*\}\}`)
