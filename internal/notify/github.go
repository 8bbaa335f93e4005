// Package notify reports failed verification runs to external trackers.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/pkg/report"
)

// IssueTitle is the title of issues opened for a backend that is not ready.
// An open issue with this title is commented on instead of duplicated.
const IssueTitle = "Backend verification failing"

// Notifier publishes a report somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, r report.Report) (Notice, error)
}

// Notice describes what a Notifier did.
type Notice struct {
	Skipped bool   `json:"skipped,omitempty"`
	Number  int    `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
	Comment bool   `json:"comment,omitempty"` // appended to an existing issue
}

// Option configures a GitHubNotifier.
type Option func(*GitHubNotifier) error

// WithBaseURL points the notifier at a different API root, such as GitHub
// Enterprise or a test server.
func WithBaseURL(raw string) Option {
	return func(n *GitHubNotifier) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse github base url: %w", err)
		}
		n.client.BaseURL = u
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *GitHubNotifier) error {
		if l != nil {
			n.logger = l
		}
		return nil
	}
}

// GitHubNotifier opens (or updates) an issue when a run is not ready.
type GitHubNotifier struct {
	client *gh.Client
	owner  string
	repo   string
	labels []string
	logger *zap.Logger
}

// NewGitHubNotifier creates a notifier for owner/repo authenticated with token.
func NewGitHubNotifier(token, owner, repo string, labels []string, opts ...Option) (*GitHubNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github repository is required")
	}

	httpClient := &http.Client{
		Transport: &tokenTransport{token: token},
	}
	n := &GitHubNotifier{
		client: gh.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
		labels: append([]string(nil), labels...),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Notify does nothing for a ready report. Otherwise it comments on the open
// verification issue if there is one, or opens a new one.
func (n *GitHubNotifier) Notify(ctx context.Context, r report.Report) (Notice, error) {
	if r.Ready() {
		return Notice{Skipped: true}, nil
	}
	body := report.Markdown(r)

	existing, err := n.findOpenIssue(ctx)
	if err != nil {
		return Notice{}, err
	}
	if existing != nil {
		comment, _, err := n.client.Issues.CreateComment(ctx, n.owner, n.repo, existing.GetNumber(), &gh.IssueComment{Body: &body})
		if err != nil {
			return Notice{}, fmt.Errorf("comment on issue #%d: %w", existing.GetNumber(), err)
		}
		n.logger.Info("updated verification issue",
			zap.Int("number", existing.GetNumber()),
			zap.String("run_id", r.RunID),
		)
		return Notice{Number: existing.GetNumber(), URL: comment.GetHTMLURL(), Comment: true}, nil
	}

	title := IssueTitle
	req := &gh.IssueRequest{
		Title: &title,
		Body:  &body,
	}
	if len(n.labels) > 0 {
		labels := append([]string(nil), n.labels...)
		req.Labels = &labels
	}

	issue, _, err := n.client.Issues.Create(ctx, n.owner, n.repo, req)
	if err != nil {
		return Notice{}, fmt.Errorf("create issue: %w", err)
	}
	n.logger.Info("opened verification issue",
		zap.Int("number", issue.GetNumber()),
		zap.String("url", issue.GetHTMLURL()),
		zap.String("run_id", r.RunID),
	)
	return Notice{Number: issue.GetNumber(), URL: issue.GetHTMLURL()}, nil
}

func (n *GitHubNotifier) findOpenIssue(ctx context.Context) (*gh.Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      n.labels,
		ListOptions: gh.ListOptions{PerPage: 50},
	}
	issues, _, err := n.client.Issues.ListByRepo(ctx, n.owner, n.repo, opts)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		if issue.GetTitle() == IssueTitle {
			return issue, nil
		}
	}
	return nil, nil
}

// tokenTransport adds Bearer token auth to HTTP requests.
type tokenTransport struct {
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}
