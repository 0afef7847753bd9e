// Package event defines the provider-neutral representation of a webhook delivery.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Provider is the version-control system that sent a webhook.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// AllProviders lists supported providers.
func AllProviders() []Provider {
	return []Provider{ProviderGitHub, ProviderGitLab, ProviderBitbucket}
}

// IsValid checks if the provider is supported.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
		return true
	}
	return false
}

// ParseProvider parses a provider name case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unsupported provider %q", s)
	}
	return p, nil
}

// Domain is the kind of change a delivery describes.
type Domain string

const (
	DomainPR         Domain = "pr"
	DomainPush       Domain = "push"
	DomainRepoCreate Domain = "repo_create"
)

// Commit is one pushed commit.
type Commit struct {
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
	Author  string `json:"author,omitempty"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// PRMeta carries pull/merge request identifiers. Number is the per-repository number
// (GitHub number, GitLab iid, Bitbucket id); ProviderID is the provider's global id.
type PRMeta struct {
	Number            int    `json:"number"`
	ProviderID        int64  `json:"provider_id,omitempty"`
	IID               int    `json:"iid,omitempty"`
	ProjectID         string `json:"project_id,omitempty"`
	HTMLURL           string `json:"html_url"`
	SourceBranch      string `json:"source_branch"`
	DestinationBranch string `json:"destination_branch"`
	HeadSHA           string `json:"head_sha,omitempty"`
}

// CanonicalEvent is a normalized webhook delivery. It is produced per call and never persisted.
type CanonicalEvent struct {
	Provider     Provider        `json:"provider"`
	Domain       Domain          `json:"domain"`
	Action       Action          `json:"action,omitempty"`
	RawEvent     string          `json:"raw_event,omitempty"`
	RepoName     string          `json:"repo_name"`
	RepoFullName string          `json:"repo_full_name"`
	CloneURL     string          `json:"clone_url"`
	Branch       string          `json:"branch,omitempty"`
	Commits      []Commit        `json:"commits,omitempty"`
	PR           *PRMeta         `json:"pr,omitempty"`
	Author       string          `json:"author,omitempty"`
	Email        string          `json:"email,omitempty"`
	StatusURL    string          `json:"status_url,omitempty"`
	ProjectID    string          `json:"project_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
}

// Owner returns the first path segment of the full repository name.
func (e *CanonicalEvent) Owner() string {
	owner, _, _ := strings.Cut(e.RepoFullName, "/")
	return owner
}

// Slug returns everything after the owner in the full repository name.
func (e *CanonicalEvent) Slug() string {
	if _, slug, ok := strings.Cut(e.RepoFullName, "/"); ok {
		return slug
	}
	return e.RepoName
}
