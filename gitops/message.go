// Package gitops drives the git and GitHub CLI boundary from inside sandbox
// sessions: squashing feature branches, pushing, and opening draft pull
// requests.
package gitops

import (
	"fmt"
	"strings"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
)

const (
	subjectLimit = 72
	bodyWidth    = 72
)

// CommitInfo carries the context-document fields that feed the squashed
// commit message.
type CommitInfo struct {
	PanicLocation      string
	PanicMessage       string
	BugDescription     string
	FixDescription     string
	FailingSeed        int64
	WhySimulatorMissed string
}

// CommitInfoFromContext extracts CommitInfo from a parsed context document.
// Missing fields come out empty; the caller validates completeness before
// shipping.
func CommitInfoFromContext(data map[string]any) CommitInfo {
	info := CommitInfo{
		PanicLocation:      stringField(data, "panic_location"),
		PanicMessage:       stringField(data, "panic_message"),
		BugDescription:     stringField(data, "bug_description"),
		FixDescription:     stringField(data, "fix_description"),
		WhySimulatorMissed: stringField(data, "why_simulator_missed"),
	}
	switch v := data["failing_seed"].(type) {
	case float64:
		info.FailingSeed = int64(v)
	case int:
		info.FailingSeed = int64(v)
	case int64:
		info.FailingSeed = v
	}
	return info
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// BuildCommitMessage renders the squashed commit message. The subject is
// capped at 72 characters with a "..." suffix; body lines wrap at 72 on
// word boundaries.
func BuildCommitMessage(info CommitInfo) string {
	subject := model.Truncate("fix: "+info.PanicMessage, subjectLimit)

	bodyLines := []string{
		"Location: " + info.PanicLocation,
		"Bug: " + info.BugDescription,
		"Fix: " + info.FixDescription,
		"",
		fmt.Sprintf("Failing seed: %d", info.FailingSeed),
		"Simulator: " + info.WhySimulatorMissed,
	}

	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	for i, line := range bodyLines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(wrapLine(line, bodyWidth))
	}
	return b.String()
}

// wrapLine breaks line at word boundaries so no output line exceeds width.
// Words longer than width are left intact on their own line.
func wrapLine(line string, width int) string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return ""
	}

	var out strings.Builder
	lineLen := 0
	for _, word := range words {
		if lineLen == 0 {
			out.WriteString(word)
			lineLen = len(word)
			continue
		}
		if lineLen+1+len(word) > width {
			out.WriteString("\n")
			out.WriteString(word)
			lineLen = len(word)
			continue
		}
		out.WriteString(" ")
		out.WriteString(word)
		lineLen += 1 + len(word)
	}
	return out.String()
}
