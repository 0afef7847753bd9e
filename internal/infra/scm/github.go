package scm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v62/github"

	"github.com/openctemio/scangate/pkg/domain/event"
)

const (
	githubSignatureHeader = "X-Hub-Signature-256"
	githubEventHeader     = "X-GitHub-Event"
)

// githubForeignKeys mark other deliveries that also carry action "created"
// (issue_comment, label, check_run, release, project_card, milestone, deploy_key, ...).
var githubForeignKeys = []string{
	"issue", "comment", "label", "check_run", "check_suite", "release", "project_card",
	"project", "milestone", "key", "deployment", "discussion", "package", "hook",
}

// GitHub implements Provider for github.com and GitHub Enterprise.
type GitHub struct {
	httpClient *http.Client
}

// NewGitHub creates the GitHub provider.
func NewGitHub(httpClient *http.Client) *GitHub {
	return &GitHub{httpClient: httpClient}
}

func (g *GitHub) Kind() event.Provider { return event.ProviderGitHub }

// ClassifyAction uses the payload shape: pull_request_<action>, or push when commits are present.
func (g *GitHub) ClassifyAction(p *Payload, _ http.Header) (string, event.Action, bool) {
	var raw string
	switch {
	case p.Has("commits"):
		raw = "push"
	case p.Has("pull_request"):
		raw = "pull_request"
		if a := p.String("action"); a != "" {
			raw += "_" + a
		}
	default:
		return "", "", false
	}
	action, ok := event.ClassifyRaw(event.ProviderGitHub, raw)
	return raw, action, ok
}

// ExtractEvent normalizes a pull_request, push or repository delivery.
func (g *GitHub) ExtractEvent(p *Payload, h http.Header) (*event.CanonicalEvent, error) {
	domain, ok := DomainOf(p)
	if !ok && isRepositoryCreated(p, h) {
		domain, ok = event.DomainRepoCreate, true
	}
	if !ok {
		return nil, event.ErrUnsupportedEvent
	}
	raw, action, _ := g.ClassifyAction(p, h)

	var (
		ev  *event.CanonicalEvent
		err error
	)
	switch domain {
	case event.DomainPR:
		ev, err = g.extractPR(p)
	case event.DomainPush:
		ev, err = g.extractPush(p)
	default:
		ev, err = g.extractRepo(p)
	}
	if err != nil {
		return nil, err
	}
	ev.Provider = event.ProviderGitHub
	ev.Domain = domain
	ev.RawEvent = raw
	ev.Action = action
	return ev, nil
}

func (g *GitHub) extractPR(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderGitHub, "pull_request", "repository", "sender"); err != nil {
		return nil, err
	}
	var pe github.PullRequestEvent
	if err := p.Decode(event.ProviderGitHub, &pe); err != nil {
		return nil, err
	}
	pr := pe.GetPullRequest()
	repo := pe.GetRepo()
	if err := missing(event.ProviderGitHub, map[string]string{
		"pull_request.head.ref": pr.GetHead().GetRef(),
		"pull_request.head.sha": pr.GetHead().GetSHA(),
		"pull_request.base.ref": pr.GetBase().GetRef(),
		"pull_request.html_url": pr.GetHTMLURL(),
		"repository.name":       repo.GetName(),
		"repository.full_name":  repo.GetFullName(),
		"repository.clone_url":  repo.GetCloneURL(),
	}); err != nil {
		return nil, err
	}
	if pr.GetNumber() == 0 {
		return nil, event.MissingKey(event.ProviderGitHub, "pull_request.number")
	}

	statusURL := ""
	if s := pr.GetHead().GetRepo().GetStatusesURL(); s != "" {
		statusURL = strings.TrimSuffix(s, "{sha}") + pr.GetHead().GetSHA()
	}
	return &event.CanonicalEvent{
		RepoName:     repo.GetName(),
		RepoFullName: repo.GetFullName(),
		CloneURL:     repo.GetCloneURL(),
		Branch:       pr.GetHead().GetRef(),
		PR: &event.PRMeta{
			Number:            pr.GetNumber(),
			ProviderID:        pr.GetID(),
			HTMLURL:           pr.GetHTMLURL(),
			SourceBranch:      pr.GetHead().GetRef(),
			DestinationBranch: pr.GetBase().GetRef(),
			HeadSHA:           pr.GetHead().GetSHA(),
		},
		Author:    pe.GetSender().GetLogin(),
		Email:     pr.GetUser().GetEmail(),
		StatusURL: statusURL,
		Details:   p.Fields["repository"],
	}, nil
}

func (g *GitHub) extractPush(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderGitHub, "repository", "ref", "commits", "sender"); err != nil {
		return nil, err
	}
	var pe github.PushEvent
	if err := p.Decode(event.ProviderGitHub, &pe); err != nil {
		return nil, err
	}
	repo := pe.GetRepo()
	if err := missing(event.ProviderGitHub, map[string]string{
		"repository.name":      repo.GetName(),
		"repository.full_name": repo.GetFullName(),
		"repository.clone_url": repo.GetCloneURL(),
	}); err != nil {
		return nil, err
	}

	commits := make([]event.Commit, 0, len(pe.Commits))
	for _, c := range pe.Commits {
		if c.GetID() == "" {
			return nil, event.MissingKey(event.ProviderGitHub, "commits.id")
		}
		commits = append(commits, event.Commit{
			ID:      c.GetID(),
			URL:     c.GetURL(),
			Author:  c.GetAuthor().GetName(),
			Email:   c.GetAuthor().GetEmail(),
			Message: c.GetMessage(),
		})
	}
	email := ""
	if len(commits) > 0 {
		email = commits[0].Email
	}
	return &event.CanonicalEvent{
		RepoName:     repo.GetName(),
		RepoFullName: repo.GetFullName(),
		CloneURL:     repo.GetCloneURL(),
		Branch:       branchFromRef(pe.GetRef()),
		Commits:      commits,
		Author:       pe.GetSender().GetLogin(),
		Email:        email,
		Details:      p.Fields["repository"],
	}, nil
}

// isRepositoryCreated trusts X-GitHub-Event when present. Without it the payload
// must look like a repository event: no foreign event keys and a clone URL.
func isRepositoryCreated(p *Payload, h http.Header) bool {
	if p.String("action") != "created" {
		return false
	}
	if kind := h.Get(githubEventHeader); kind != "" {
		return kind == "repository"
	}
	for _, k := range githubForeignKeys {
		if p.Has(k) {
			return false
		}
	}
	var repo struct {
		CloneURL string `json:"clone_url"`
	}
	if err := json.Unmarshal(p.Fields["repository"], &repo); err != nil {
		return false
	}
	return repo.CloneURL != ""
}

func (g *GitHub) extractRepo(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderGitHub, "repository", "sender"); err != nil {
		return nil, err
	}
	var re github.RepositoryEvent
	if err := p.Decode(event.ProviderGitHub, &re); err != nil {
		return nil, err
	}
	repo := re.GetRepo()
	if err := missing(event.ProviderGitHub, map[string]string{
		"repository.name":      repo.GetName(),
		"repository.clone_url": repo.GetCloneURL(),
	}); err != nil {
		return nil, err
	}
	return &event.CanonicalEvent{
		RawEvent:     "repository_created",
		RepoName:     repo.GetName(),
		RepoFullName: repo.GetFullName(),
		CloneURL:     repo.GetCloneURL(),
		Branch:       repo.GetDefaultBranch(),
		Author:       re.GetSender().GetLogin(),
		Email:        repo.GetOwner().GetEmail(),
		Details:      p.Fields["repository"],
	}, nil
}

func (g *GitHub) BuildHeaders(c Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.Token)
	h.Set("Accept", "application/vnd.github.v3+json")
	h.Set("User-Agent", defaultUserAgent)
	return h
}

// VerifySignature checks X-Hub-Signature-256.
func (g *GitHub) VerifySignature(body []byte, h http.Header, secret string) error {
	sig := h.Get(githubSignatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing %s", event.ErrInvalidSignature, githubSignatureHeader)
	}
	if err := github.ValidateSignature(sig, body, []byte(secret)); err != nil {
		return fmt.Errorf("%w: %v", event.ErrInvalidSignature, err)
	}
	return nil
}

func (g *GitHub) client(c Credentials) (*github.Client, error) {
	client := github.NewClient(g.httpClient).WithAuthToken(c.Token)
	if c.BaseURL != "" && strings.TrimSuffix(c.BaseURL, "/") != defaultGitHubWebURL {
		return client.WithEnterpriseURLs(c.BaseURL, c.BaseURL)
	}
	return client, nil
}

// PublishStatus sets a commit status on the PR head.
func (g *GitHub) PublishStatus(ctx context.Context, t Target, s Status) error {
	owner, repo := splitFullName(t.RepoFullName)
	if owner == "" || repo == "" || t.HeadSHA == "" {
		return ErrMissingTarget
	}
	client, err := g.client(t.Credentials)
	if err != nil {
		return ErrProviderAPI.Wrap(err)
	}
	status := &github.RepoStatus{
		State:       github.String(string(s.State)),
		Description: github.String(s.Description),
		Context:     github.String(s.Context),
	}
	if s.TargetURL != "" {
		status.TargetURL = github.String(s.TargetURL)
	}
	if _, _, err := client.Repositories.CreateStatus(ctx, owner, repo, t.HeadSHA, status); err != nil {
		return githubError(err)
	}
	return nil
}

// PublishComment posts an issue comment on the PR.
func (g *GitHub) PublishComment(ctx context.Context, t Target, body string) error {
	owner, repo := splitFullName(t.RepoFullName)
	if owner == "" || repo == "" || t.Number == 0 {
		return ErrMissingTarget
	}
	client, err := g.client(t.Credentials)
	if err != nil {
		return ErrProviderAPI.Wrap(err)
	}
	if _, _, err := client.Issues.CreateComment(ctx, owner, repo, t.Number, &github.IssueComment{Body: github.String(body)}); err != nil {
		return githubError(err)
	}
	return nil
}

func (g *GitHub) CloneAuth(c Credentials) *githttp.BasicAuth {
	return &githttp.BasicAuth{Username: "x-access-token", Password: c.Token}
}
