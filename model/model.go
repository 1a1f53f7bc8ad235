// Package model defines the core domain types shared across all packages.
// It has zero dependencies on other packages in this module.
package model

import (
	"strings"
	"time"
)

// Status represents the current state of a panic work-item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRepoSetup   Status = "repo_setup"
	StatusReproducing Status = "reproducing"
	StatusFixing      Status = "fixing"
	StatusShipping    Status = "shipping"
	// StatusPROpen means a draft PR was opened. Terminal.
	StatusPROpen Status = "pr_open"
	// StatusNeedsHumanReview means the workflow failed and the sandbox
	// session was retained for inspection. Terminal.
	StatusNeedsHumanReview Status = "needs_human_review"
)

// IsTerminal reports whether items in this status are never reprocessed.
func (s Status) IsTerminal() bool {
	return s == StatusPROpen || s == StatusNeedsHumanReview
}

// WorkflowError records where and why a work-item left the live states.
type WorkflowError struct {
	Phase     string    `json:"phase"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// PanicWorkItem represents one panic reported by the simulator, keyed by
// PanicLocation ("src/file.c:1234").
type PanicWorkItem struct {
	PanicLocation string         `json:"panic_location"`
	PanicMessage  string         `json:"panic_message"`
	SQLStatements string         `json:"sql_statements"`
	Status        Status         `json:"status"`
	BranchName    string         `json:"branch_name,omitempty"`
	PRUrl         string         `json:"pr_url,omitempty"`
	RetryCount    int            `json:"retry_count"`
	WorkflowError *WorkflowError `json:"workflow_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// LogRecord is one append-only structured log entry. PanicLocation is
// "system" for records not tied to a work-item.
type LogRecord struct {
	ID            int64             `json:"id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Level         string            `json:"level"`
	PanicLocation string            `json:"panic_location"`
	Phase         string            `json:"phase,omitempty"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// locationSlug substitutes the path characters in a panic location so the
// result is usable as a session or branch name. The substitution is
// reversible enough for a human to find the session on failure because the
// location alphabet is otherwise disjoint from '-'.
func locationSlug(panicLocation string) string {
	r := strings.NewReplacer("/", "-", ":", "-")
	return r.Replace(panicLocation)
}

// SessionName derives the sandbox session name for a panic location,
// e.g. "src/vdbe.c:1234" -> "fix-panic-src-vdbe.c-1234".
func SessionName(panicLocation string) string {
	return "fix-panic-" + locationSlug(panicLocation)
}

// BranchName derives the git branch name for a panic location,
// e.g. "src/vdbe.c:1234" -> "fix/panic-src-vdbe.c-1234".
func BranchName(panicLocation string) string {
	return "fix/panic-" + locationSlug(panicLocation)
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
