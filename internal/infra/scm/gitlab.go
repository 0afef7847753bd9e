package scm

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/openctemio/scangate/pkg/domain/event"
)

// GitLab implements Provider for gitlab.com and self-managed instances.
type GitLab struct {
	httpClient *http.Client
}

// NewGitLab creates the GitLab provider.
func NewGitLab(httpClient *http.Client) *GitLab {
	return &GitLab{httpClient: httpClient}
}

func (g *GitLab) Kind() event.Provider { return event.ProviderGitLab }

type glProject struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	PathWithNamespace string      `json:"path_with_namespace"`
	GitHTTPURL        string      `json:"git_http_url"`
	WebURL            string      `json:"web_url"`
	DefaultBranch     string      `json:"default_branch"`
	OwnerEmail        string      `json:"owner_email"`
}

type glUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type glMergeRequestEvent struct {
	ObjectKind       string    `json:"object_kind"`
	User             glUser    `json:"user"`
	Project          glProject `json:"project"`
	ObjectAttributes struct {
		ID           int64  `json:"id"`
		IID          int    `json:"iid"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
		URL          string `json:"url"`
		State        string `json:"state"`
		Action       string `json:"action"`
		LastCommit   struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

type glPushEvent struct {
	Ref       string      `json:"ref"`
	UserName  string      `json:"user_name"`
	UserEmail string      `json:"user_email"`
	ProjectID json.Number `json:"project_id"`
	Project   glProject   `json:"project"`
	Commits   []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"commits"`
}

type glProjectCreateEvent struct {
	OwnerName string    `json:"owner_name"`
	Project   glProject `json:"project"`
}

// ClassifyAction maps merge requests to "Merge Request Hook:<state>" and pushes to "Push Hook".
// An MR update keeps state "opened", so the update action is reported as "updated".
func (g *GitLab) ClassifyAction(p *Payload, _ http.Header) (string, event.Action, bool) {
	var raw string
	switch p.String("object_kind") {
	case "merge_request":
		var attrs struct {
			State  string `json:"state"`
			Action string `json:"action"`
		}
		_ = json.Unmarshal(p.Fields["object_attributes"], &attrs)
		raw = "Merge Request Hook"
		switch {
		case attrs.Action == "update":
			raw += ":updated"
		case attrs.State != "":
			raw += ":" + attrs.State
		}
	case "push":
		raw = "Push Hook"
	default:
		return "", "", false
	}
	action, ok := event.ClassifyRaw(event.ProviderGitLab, raw)
	return raw, action, ok
}

// ExtractEvent normalizes merge_request, push and project_create deliveries.
func (g *GitLab) ExtractEvent(p *Payload, h http.Header) (*event.CanonicalEvent, error) {
	domain, ok := DomainOf(p)
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
		ev, err = g.extractMR(p)
	case event.DomainPush:
		ev, err = g.extractPush(p)
	default:
		ev, err = g.extractProject(p)
		raw = "project_create"
	}
	if err != nil {
		return nil, err
	}
	ev.Provider = event.ProviderGitLab
	ev.Domain = domain
	ev.RawEvent = raw
	ev.Action = action
	return ev, nil
}

func (g *GitLab) extractMR(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderGitLab, "object_attributes", "project", "user", "object_kind"); err != nil {
		return nil, err
	}
	var mr glMergeRequestEvent
	if err := p.Decode(event.ProviderGitLab, &mr); err != nil {
		return nil, err
	}
	attrs := mr.ObjectAttributes
	if err := missing(event.ProviderGitLab, map[string]string{
		"object_attributes.source_branch":  attrs.SourceBranch,
		"object_attributes.target_branch":  attrs.TargetBranch,
		"object_attributes.url":            attrs.URL,
		"object_attributes.last_commit.id": attrs.LastCommit.ID,
		"project.id":                       mr.Project.ID.String(),
		"project.name":                     mr.Project.Name,
		"project.git_http_url":             mr.Project.GitHTTPURL,
	}); err != nil {
		return nil, err
	}
	if attrs.IID == 0 {
		return nil, event.MissingKey(event.ProviderGitLab, "object_attributes.iid")
	}

	projectID := mr.Project.ID.String()
	base := originOf(mr.Project.WebURL)
	if base == "" {
		base = defaultGitLabURL
	}
	return &event.CanonicalEvent{
		RepoName:     mr.Project.Name,
		RepoFullName: mr.Project.PathWithNamespace,
		CloneURL:     mr.Project.GitHTTPURL,
		Branch:       attrs.SourceBranch,
		PR: &event.PRMeta{
			Number:            attrs.IID,
			ProviderID:        attrs.ID,
			IID:               attrs.IID,
			ProjectID:         projectID,
			HTMLURL:           attrs.URL,
			SourceBranch:      attrs.SourceBranch,
			DestinationBranch: attrs.TargetBranch,
			HeadSHA:           attrs.LastCommit.ID,
		},
		Author:    mr.User.Username,
		Email:     mr.User.Email,
		StatusURL: fmt.Sprintf("%s/api/v4/projects/%s/statuses/%s", base, projectID, attrs.LastCommit.ID),
		ProjectID: projectID,
		Details:   p.Fields["project"],
	}, nil
}

func (g *GitLab) extractPush(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderGitLab, "project", "ref", "commits", "user_name"); err != nil {
		return nil, err
	}
	var pe glPushEvent
	if err := p.Decode(event.ProviderGitLab, &pe); err != nil {
		return nil, err
	}
	if err := missing(event.ProviderGitLab, map[string]string{
		"project.name":         pe.Project.Name,
		"project.git_http_url": pe.Project.GitHTTPURL,
	}); err != nil {
		return nil, err
	}

	commits := make([]event.Commit, 0, len(pe.Commits))
	for _, c := range pe.Commits {
		if c.ID == "" {
			return nil, event.MissingKey(event.ProviderGitLab, "commits.id")
		}
		commits = append(commits, event.Commit{
			ID:      c.ID,
			URL:     c.URL,
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			Message: c.Message,
		})
	}
	projectID := pe.ProjectID.String()
	if projectID == "" {
		projectID = pe.Project.ID.String()
	}
	email := pe.UserEmail
	if email == "" && len(commits) > 0 {
		email = commits[0].Email
	}
	return &event.CanonicalEvent{
		RepoName:     pe.Project.Name,
		RepoFullName: pe.Project.PathWithNamespace,
		CloneURL:     pe.Project.GitHTTPURL,
		Branch:       branchFromRef(pe.Ref),
		Commits:      commits,
		Author:       pe.UserName,
		Email:        email,
		ProjectID:    projectID,
		Details:      p.Fields["project"],
	}, nil
}

func (g *GitLab) extractProject(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderGitLab, "project", "owner_name"); err != nil {
		return nil, err
	}
	var pc glProjectCreateEvent
	if err := p.Decode(event.ProviderGitLab, &pc); err != nil {
		return nil, err
	}
	if err := missing(event.ProviderGitLab, map[string]string{
		"project.name":         pc.Project.Name,
		"project.git_http_url": pc.Project.GitHTTPURL,
	}); err != nil {
		return nil, err
	}
	return &event.CanonicalEvent{
		RepoName:     pc.Project.Name,
		RepoFullName: pc.Project.PathWithNamespace,
		CloneURL:     pc.Project.GitHTTPURL,
		Branch:       pc.Project.DefaultBranch,
		Author:       pc.OwnerName,
		Email:        pc.Project.OwnerEmail,
		ProjectID:    pc.Project.ID.String(),
		Details:      p.Fields["project"],
	}, nil
}

// BuildHeaders sends the token as a Bearer credential. PRIVATE-TOKEN carries the
// same value for instances that only read the legacy header.
func (g *GitLab) BuildHeaders(c Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.Token)
	h.Set("PRIVATE-TOKEN", c.Token)
	h.Set("Accept", "application/json")
	h.Set("User-Agent", defaultUserAgent)
	return h
}

// VerifySignature compares X-Gitlab-Token with the configured secret.
func (g *GitLab) VerifySignature(_ []byte, h http.Header, secret string) error {
	token := h.Get("X-Gitlab-Token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return fmt.Errorf("%w: X-Gitlab-Token mismatch", event.ErrInvalidSignature)
	}
	return nil
}

func (g *GitLab) client(c Credentials) (*gitlab.Client, error) {
	base := strings.TrimSuffix(c.BaseURL, "/")
	if base == "" {
		base = defaultGitLabURL
	}
	return gitlab.NewClient(c.Token, gitlab.WithBaseURL(base), gitlab.WithHTTPClient(g.httpClient))
}

func glState(s State) gitlab.BuildStateValue {
	switch s {
	case StatePending:
		return gitlab.Pending
	case StateSuccess:
		return gitlab.Success
	}
	return gitlab.Failed
}

// PublishStatus sets a commit status on the MR head.
func (g *GitLab) PublishStatus(ctx context.Context, t Target, s Status) error {
	if t.ProjectID == "" || t.HeadSHA == "" {
		return ErrMissingTarget
	}
	client, err := g.client(t.Credentials)
	if err != nil {
		return ErrProviderAPI.Wrap(err)
	}
	opt := &gitlab.SetCommitStatusOptions{
		State:       glState(s.State),
		Context:     gitlab.Ptr(s.Context),
		Description: gitlab.Ptr(s.Description),
	}
	if s.TargetURL != "" {
		opt.TargetURL = gitlab.Ptr(s.TargetURL)
	}
	_, resp, err := client.Commits.SetCommitStatus(projectRef(t.ProjectID), t.HeadSHA, opt, gitlab.WithContext(ctx))
	if err != nil {
		return gitlabError(resp, err)
	}
	return nil
}

// PublishComment adds a merge request note.
func (g *GitLab) PublishComment(ctx context.Context, t Target, body string) error {
	if t.ProjectID == "" || t.Number == 0 {
		return ErrMissingTarget
	}
	client, err := g.client(t.Credentials)
	if err != nil {
		return ErrProviderAPI.Wrap(err)
	}
	_, resp, err := client.Notes.CreateMergeRequestNote(projectRef(t.ProjectID), t.Number,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return gitlabError(resp, err)
	}
	return nil
}

func (g *GitLab) CloneAuth(c Credentials) *githttp.BasicAuth {
	return &githttp.BasicAuth{Username: "oauth2", Password: c.Token}
}

// projectRef passes numeric ids as int and paths as string, both accepted by the client.
func projectRef(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}
