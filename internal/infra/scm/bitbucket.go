package scm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/openctemio/scangate/pkg/domain/event"
)

// Bitbucket implements Provider for Bitbucket Cloud over its REST API.
type Bitbucket struct {
	httpClient *http.Client
}

// NewBitbucket creates the Bitbucket provider.
func NewBitbucket(httpClient *http.Client) *Bitbucket {
	return &Bitbucket{httpClient: httpClient}
}

func (b *Bitbucket) Kind() event.Provider { return event.ProviderBitbucket }

type bbLink struct {
	Href string `json:"href"`
}

type bbRepository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Links    struct {
		HTML  bbLink `json:"html"`
		Self  bbLink `json:"self"`
		Clone []struct {
			Name string `json:"name"`
			Href string `json:"href"`
		} `json:"clone"`
	} `json:"links"`
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Owner struct {
		UUID     string `json:"uuid"`
		Nickname string `json:"nickname"`
	} `json:"owner"`
}

// cloneURL prefers the https clone link and falls back to the web URL.
func (r bbRepository) cloneURL() string {
	for _, c := range r.Links.Clone {
		if c.Name == "https" && c.Href != "" {
			return c.Href
		}
	}
	return r.Links.HTML.Href
}

type bbActor struct {
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
}

type bbPullRequestEvent struct {
	Actor       bbActor      `json:"actor"`
	Repository  bbRepository `json:"repository"`
	PullRequest struct {
		ID     int `json:"id"`
		Source struct {
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
			Commit struct {
				Hash string `json:"hash"`
			} `json:"commit"`
		} `json:"source"`
		Destination struct {
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
		} `json:"destination"`
		Links struct {
			HTML     bbLink `json:"html"`
			Statuses bbLink `json:"statuses"`
		} `json:"links"`
	} `json:"pullrequest"`
}

type bbCommit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Links   struct {
		HTML bbLink `json:"html"`
	} `json:"links"`
	Author struct {
		Raw  string  `json:"raw"`
		User bbActor `json:"user"`
	} `json:"author"`
}

type bbPushEvent struct {
	Actor      bbActor      `json:"actor"`
	Repository bbRepository `json:"repository"`
	Push       struct {
		Changes []struct {
			New *struct {
				Name   string   `json:"name"`
				Target bbCommit `json:"target"`
			} `json:"new"`
			Commits []bbCommit `json:"commits"`
		} `json:"changes"`
	} `json:"push"`
}

// ClassifyAction uses the X-Event-Key header (pullrequest:created, repo:push, ...).
func (b *Bitbucket) ClassifyAction(_ *Payload, h http.Header) (string, event.Action, bool) {
	raw := h.Get("X-Event-Key")
	if raw == "" {
		return "", "", false
	}
	action, ok := event.ClassifyRaw(event.ProviderBitbucket, raw)
	return raw, action, ok
}

// ExtractEvent normalizes pullrequest:*, repo:push and repo:created deliveries.
func (b *Bitbucket) ExtractEvent(p *Payload, h http.Header) (*event.CanonicalEvent, error) {
	domain, ok := DomainOf(p)
	if !ok && h.Get("X-Event-Key") == "repo:created" {
		domain, ok = event.DomainRepoCreate, true
	}
	if !ok {
		return nil, event.ErrUnsupportedEvent
	}
	raw, action, _ := b.ClassifyAction(p, h)

	var (
		ev  *event.CanonicalEvent
		err error
	)
	switch domain {
	case event.DomainPR:
		ev, err = b.extractPR(p)
	case event.DomainPush:
		ev, err = b.extractPush(p)
	default:
		ev, err = b.extractRepo(p)
	}
	if err != nil {
		return nil, err
	}
	ev.Provider = event.ProviderBitbucket
	ev.Domain = domain
	ev.RawEvent = raw
	ev.Action = action
	return ev, nil
}

func (b *Bitbucket) extractPR(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderBitbucket, "pullrequest", "repository", "actor"); err != nil {
		return nil, err
	}
	var pe bbPullRequestEvent
	if err := p.Decode(event.ProviderBitbucket, &pe); err != nil {
		return nil, err
	}
	pr := pe.PullRequest
	if err := missing(event.ProviderBitbucket, map[string]string{
		"pullrequest.source.branch.name":      pr.Source.Branch.Name,
		"pullrequest.destination.branch.name": pr.Destination.Branch.Name,
		"pullrequest.links.html.href":         pr.Links.HTML.Href,
		"repository.name":                     pe.Repository.Name,
		"repository.full_name":                pe.Repository.FullName,
		"repository.links.html.href":          pe.Repository.cloneURL(),
	}); err != nil {
		return nil, err
	}
	if pr.ID == 0 {
		return nil, event.MissingKey(event.ProviderBitbucket, "pullrequest.id")
	}
	return &event.CanonicalEvent{
		RepoName:     pe.Repository.Name,
		RepoFullName: pe.Repository.FullName,
		CloneURL:     pe.Repository.cloneURL(),
		Branch:       pr.Source.Branch.Name,
		PR: &event.PRMeta{
			Number:            pr.ID,
			ProviderID:        int64(pr.ID),
			HTMLURL:           pr.Links.HTML.Href,
			SourceBranch:      pr.Source.Branch.Name,
			DestinationBranch: pr.Destination.Branch.Name,
			HeadSHA:           pr.Source.Commit.Hash,
		},
		Author:    pe.Actor.Nickname,
		StatusURL: pr.Links.Statuses.Href,
		Details:   p.Fields["repository"],
	}, nil
}

func (b *Bitbucket) extractPush(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderBitbucket, "repository", "push"); err != nil {
		return nil, err
	}
	var pe bbPushEvent
	if err := p.Decode(event.ProviderBitbucket, &pe); err != nil {
		return nil, err
	}
	changes := pe.Push.Changes
	if len(changes) == 0 || changes[0].New == nil {
		return nil, event.MissingKey(event.ProviderBitbucket, "push.changes")
	}
	if changes[0].Commits == nil {
		return nil, event.MissingKey(event.ProviderBitbucket, "push.changes.commits")
	}

	commits := make([]event.Commit, 0, len(changes[0].Commits))
	for _, c := range changes[0].Commits {
		if c.Hash == "" {
			return nil, event.MissingKey(event.ProviderBitbucket, "push.changes.commits.hash")
		}
		name, email := splitAuthor(c.Author.Raw)
		if c.Author.User.DisplayName != "" {
			name = c.Author.User.DisplayName
		}
		commits = append(commits, event.Commit{
			ID:      c.Hash,
			URL:     c.Links.HTML.Href,
			Author:  name,
			Email:   email,
			Message: c.Message,
		})
	}

	head := changes[0].New
	author, email := splitAuthor(head.Target.Author.Raw)
	if head.Target.Author.User.DisplayName != "" {
		author = head.Target.Author.User.DisplayName
	}
	return &event.CanonicalEvent{
		RepoName:     pe.Repository.Name,
		RepoFullName: pe.Repository.FullName,
		CloneURL:     pe.Repository.cloneURL(),
		Branch:       head.Name,
		Commits:      commits,
		Author:       author,
		Email:        email,
		ProjectID:    pe.Repository.Owner.UUID,
		Details:      p.Fields["repository"],
	}, nil
}

func (b *Bitbucket) extractRepo(p *Payload) (*event.CanonicalEvent, error) {
	if err := p.Require(event.ProviderBitbucket, "repository"); err != nil {
		return nil, err
	}
	var re struct {
		Repository bbRepository `json:"repository"`
	}
	if err := p.Decode(event.ProviderBitbucket, &re); err != nil {
		return nil, err
	}
	if err := missing(event.ProviderBitbucket, map[string]string{
		"repository.name":            re.Repository.Name,
		"repository.links.html.href": re.Repository.cloneURL(),
	}); err != nil {
		return nil, err
	}
	return &event.CanonicalEvent{
		RepoName:     re.Repository.Name,
		RepoFullName: re.Repository.FullName,
		CloneURL:     re.Repository.cloneURL(),
		Branch:       re.Repository.MainBranch.Name,
		Author:       re.Repository.Owner.Nickname,
		Details:      p.Fields["repository"],
	}, nil
}

func (b *Bitbucket) BuildHeaders(c Credentials) http.Header {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(c.Username, c.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	return req.Header
}

// VerifySignature checks the X-Hub-Signature HMAC-SHA256 ("sha256=<hex>").
func (b *Bitbucket) VerifySignature(body []byte, h http.Header, secret string) error {
	got := h.Get("X-Hub-Signature")
	if got == "" {
		return fmt.Errorf("%w: missing X-Hub-Signature", event.ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: X-Hub-Signature mismatch", event.ErrInvalidSignature)
	}
	return nil
}

func (b *Bitbucket) apiURL(c Credentials) string {
	if c.BaseURL == "" {
		return defaultBitbucketAPIURL
	}
	return strings.TrimSuffix(c.BaseURL, "/")
}

func (b *Bitbucket) doRequest(ctx context.Context, c Credentials, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.apiURL(c)+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = b.BuildHeaders(c)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return ErrProviderAPI.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(resp.StatusCode, fmt.Errorf("bitbucket %s %s: %d %s", method, path, resp.StatusCode, msg))
	}
	return nil
}

func (b *Bitbucket) prPath(t Target) string {
	return fmt.Sprintf("/repositories/%s/pullrequests/%d", escapeFullName(t.RepoFullName), t.Number)
}

// PublishStatus approves the PR on success and withdraws the approval otherwise.
// A build status is also set on the head commit when it is known.
func (b *Bitbucket) PublishStatus(ctx context.Context, t Target, s Status) error {
	if t.RepoFullName == "" || t.Number == 0 {
		return ErrMissingTarget
	}
	method := http.MethodDelete
	if s.State == StateSuccess {
		method = http.MethodPost
	}
	err := b.doRequest(ctx, t.Credentials, method, b.prPath(t)+"/approve", nil)
	// Unapproving a PR that was never approved answers 404.
	if err != nil && !(method == http.MethodDelete && errors.Is(err, ErrNotFound)) {
		return err
	}

	if t.HeadSHA == "" {
		return nil
	}
	build := map[string]string{
		"key":         "the-firewall",
		"name":        s.Context,
		"state":       bbState(s.State),
		"description": s.Description,
	}
	if s.TargetURL != "" {
		build["url"] = s.TargetURL
	}
	path := fmt.Sprintf("/repositories/%s/commit/%s/statuses/build", escapeFullName(t.RepoFullName), url.PathEscape(t.HeadSHA))
	return b.doRequest(ctx, t.Credentials, http.MethodPost, path, build)
}

// PublishComment posts a PR comment.
func (b *Bitbucket) PublishComment(ctx context.Context, t Target, body string) error {
	if t.RepoFullName == "" || t.Number == 0 {
		return ErrMissingTarget
	}
	payload := map[string]any{"content": map[string]string{"raw": body}}
	return b.doRequest(ctx, t.Credentials, http.MethodPost, b.prPath(t)+"/comments", payload)
}

func (b *Bitbucket) CloneAuth(c Credentials) *githttp.BasicAuth {
	return &githttp.BasicAuth{Username: c.Username, Password: c.Token}
}

func bbState(s State) string {
	switch s {
	case StatePending:
		return "INPROGRESS"
	case StateSuccess:
		return "SUCCESSFUL"
	}
	return "FAILED"
}

func escapeFullName(full string) string {
	owner, repo := splitFullName(full)
	return url.PathEscape(owner) + "/" + url.PathEscape(repo)
}
