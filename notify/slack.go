// Package notify posts terminal work-item outcomes to Slack. Delivery is
// best-effort: a failed post is logged and never affects the workflow.
package notify

import (
	"fmt"

	"github.com/slack-go/slack"
)

// slackAPI is the slice of the Slack client the notifier uses.
type slackAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts work-item outcomes to a single Slack channel. A nil
// Notifier is valid and drops everything.
type Notifier struct {
	api     slackAPI
	channel string
}

// NewNotifier creates a Notifier from a bot token and channel ID. Returns
// nil when the token is empty, so callers can post unconditionally.
func NewNotifier(botToken, channel string) *Notifier {
	if botToken == "" || channel == "" {
		return nil
	}
	return &Notifier{api: slack.New(botToken), channel: channel}
}

// PROpened announces a successfully shipped draft PR.
func (n *Notifier) PROpened(panicLocation, prURL string) error {
	if n == nil {
		return nil
	}
	text := fmt.Sprintf(":white_check_mark: Draft PR opened for panic `%s`\n%s", panicLocation, prURL)
	return n.post(text)
}

// NeedsHumanReview announces a work-item that left the automated flow. The
// session name lets a human attach to the retained sandbox.
func (n *Notifier) NeedsHumanReview(panicLocation, phase, reason, session string) error {
	if n == nil {
		return nil
	}
	text := fmt.Sprintf(":warning: Panic `%s` needs human review\n*Phase:* %s\n*Reason:* %s\n*Session:* `%s`",
		panicLocation, phase, reason, session)
	return n.post(text)
}

func (n *Notifier) post(text string) error {
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", n.channel, err)
	}
	return nil
}
