// Package scm normalizes provider webhooks and talks back to GitHub, GitLab and Bitbucket.
package scm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/openctemio/scangate/pkg/domain/event"
)

// Credentials authenticate outbound calls for one VC.
type Credentials struct {
	BaseURL  string // empty means the provider's public cloud
	Username string
	Token    string
}

// Target identifies the pull request or commit a status or comment is published to.
type Target struct {
	Credentials
	RepoFullName string
	ProjectID    string // GitLab project id
	Number       int    // GitHub number, GitLab iid, Bitbucket id
	HeadSHA      string
}

// State is a provider-neutral commit status.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// Status is what gets published on the PR head.
type Status struct {
	State       State
	Description string
	Context     string
	TargetURL   string
}

// Provider is one SCM implementation, selected by event.Provider.
type Provider interface {
	Kind() event.Provider

	// ClassifyAction returns the raw event name and its canonical action.
	// ok is false when the raw event is not in the allow-list.
	ClassifyAction(p *Payload, h http.Header) (raw string, action event.Action, ok bool)

	// ExtractEvent normalizes the payload. Missing required keys yield *event.ValidationError.
	ExtractEvent(p *Payload, h http.Header) (*event.CanonicalEvent, error)

	BuildHeaders(c Credentials) http.Header
	VerifySignature(body []byte, h http.Header, secret string) error

	PublishStatus(ctx context.Context, t Target, s Status) error
	PublishComment(ctx context.Context, t Target, body string) error

	// CloneAuth is the HTTP basic auth go-git uses to clone over https.
	CloneAuth(c Credentials) *githttp.BasicAuth
}

// Registry looks providers up by kind.
type Registry struct {
	providers map[event.Provider]Provider
}

// NewRegistry builds the registry with all supported providers.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	return NewRegistryWith(
		NewGitHub(httpClient),
		NewGitLab(httpClient),
		NewBitbucket(httpClient),
	)
}

// NewRegistryWith builds a registry from explicit providers.
func NewRegistryWith(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[event.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider for kind.
func (r *Registry) Get(kind event.Provider) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, ErrUnsupportedProvider.Wrap(fmt.Errorf("%q", kind))
	}
	return p, nil
}
