package gitops

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v68/github"
)

// PRStatus summarizes a pull request fetched from the GitHub API.
type PRStatus struct {
	Number int
	State  string
	Title  string
	Draft  bool
}

// GitHubClient fetches pull-request metadata through the GitHub API. Used
// after shipping to confirm the draft PR is visible; failures are advisory.
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a client. token may be empty for anonymous access
// to public repositories.
func NewGitHubClient(token string) *GitHubClient {
	c := github.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return &GitHubClient{client: c}
}

// LookupPR fetches the pull request behind a PR URL of the form
// https://<host>/<owner>/<repo>/pull/<number>.
func (g *GitHubClient) LookupPR(ctx context.Context, prURL string) (*PRStatus, error) {
	owner, repo, number, err := parsePRURL(prURL)
	if err != nil {
		return nil, err
	}
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching PR %s/%s#%d: %w", owner, repo, number, err)
	}
	return &PRStatus{
		Number: pr.GetNumber(),
		State:  pr.GetState(),
		Title:  pr.GetTitle(),
		Draft:  pr.GetDraft(),
	}, nil
}

func parsePRURL(prURL string) (owner, repo string, number int, err error) {
	u, err := url.Parse(prURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("parsing PR URL %q: %w", prURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[2] != "pull" {
		return "", "", 0, fmt.Errorf("unexpected PR URL path %q", u.Path)
	}
	number, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("unexpected PR number in %q", prURL)
	}
	return parts[0], parts[1], number, nil
}
