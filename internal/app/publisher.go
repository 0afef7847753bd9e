package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/openctemio/scangate/internal/infra/scm"
	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/vcs"
	"github.com/openctemio/scangate/pkg/logger"
)

// Status descriptions shown on the pull request.
const (
	descPending   = "Processing the PR. Please wait..."
	descSuccess   = "No issues detected in the PR."
	descUnblocked = "PR unblocked because of whitelisting."
	descFailed    = "Security scan failed."

	defaultStatusContext = "The Firewall"
)

// PublisherConfig configures PR status texts and links.
type PublisherConfig struct {
	FrontendURL   string
	StatusContext string
	TargetURL     string
}

// PRReport is the aggregate result of both sub-pipelines for one PR event.
type PRReport struct {
	PRID            shared.ID
	RepoID          shared.ID
	Secrets         int
	Vulnerabilities int
	Blocked         bool
	// Failed is set when a sub-pipeline did not complete.
	Failed       bool
	BlockMessage string
}

// Publisher reports scan results back to the provider. Every call is best effort:
// failures are logged and counted, never returned.
type Publisher struct {
	providers Providers
	cfg       PublisherConfig
	logger    *logger.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(providers Providers, cfg PublisherConfig, log *logger.Logger) *Publisher {
	if cfg.StatusContext == "" {
		cfg.StatusContext = defaultStatusContext
	}
	return &Publisher{
		providers: providers,
		cfg:       cfg,
		logger:    log.With("component", "publisher"),
	}
}

// Pending marks the PR head as being scanned.
func (p *Publisher) Pending(ctx context.Context, vc *vcs.VersionControl, ev *event.CanonicalEvent) {
	p.status(ctx, vc, ev, scm.StatePending, descPending)
}

// Result publishes the comment (only when something was found) and the final status.
// A failed sub-pipeline never reports success.
func (p *Publisher) Result(ctx context.Context, vc *vcs.VersionControl, ev *event.CanonicalEvent, r PRReport) {
	if body := p.Comment(r); body != "" {
		p.comment(ctx, vc, ev, body)
	}
	if r.Failed && !r.Blocked {
		p.status(ctx, vc, ev, scm.StateFailure, descFailed)
		return
	}
	state, desc := ResultStatus(r)
	p.status(ctx, vc, ev, state, desc)
}

// Republished publishes the status recomputed after a whitelist change.
func (p *Publisher) Republished(ctx context.Context, vc *vcs.VersionControl, ev *event.CanonicalEvent, r PRReport) {
	if !r.Blocked {
		p.status(ctx, vc, ev, scm.StateSuccess, descUnblocked)
		return
	}
	state, desc := ResultStatus(r)
	p.status(ctx, vc, ev, state, desc)
}

// ResultStatus derives the commit status of a completed PR scan.
func ResultStatus(r PRReport) (scm.State, string) {
	if !r.Blocked {
		return scm.StateSuccess, descSuccess
	}
	switch {
	case r.Secrets > 0 && r.Vulnerabilities > 0:
		return scm.StateFailure, fmt.Sprintf("%d secrets and %d vulnerabilities found!", r.Secrets, r.Vulnerabilities)
	case r.Secrets > 0:
		return scm.StateFailure, fmt.Sprintf("%d secrets found!", r.Secrets)
	default:
		return scm.StateFailure, fmt.Sprintf("%d vulnerabilities found!", r.Vulnerabilities)
	}
}

// Comment renders the PR comment, or "" when nothing was found.
func (p *Publisher) Comment(r PRReport) string {
	if r.Secrets == 0 && r.Vulnerabilities == 0 {
		return ""
	}
	var found []string
	if r.Secrets > 0 {
		found = append(found, fmt.Sprintf("**%d secrets**", r.Secrets))
	}
	if r.Vulnerabilities > 0 {
		found = append(found, fmt.Sprintf("**%d vulnerabilities**", r.Vulnerabilities))
	}

	var b strings.Builder
	b.WriteString("### \U0001F6A8 [TheFirewall] Scan Results\n\n")
	fmt.Fprintf(&b, "We identified %s in this pull request.\n\n", strings.Join(found, " and "))
	b.WriteString("\U0001F4CB **Details:**\n")
	if r.Secrets > 0 {
		fmt.Fprintf(&b, "- **Secrets Report:** For a comprehensive report on secrets, click [here](%s).\n",
			incidentLink(p.cfg.FrontendURL, "secret", r.PRID, r.RepoID, ""))
	}
	if r.Vulnerabilities > 0 {
		fmt.Fprintf(&b, "- **Vulnerabilities Report:** For a detailed report on vulnerabilities, click [here](%s).\n",
			incidentLink(p.cfg.FrontendURL, "sca", r.PRID, r.RepoID, ""))
	}
	b.WriteString("\nYour security matters, take action now!\n")
	if r.BlockMessage != "" {
		b.WriteString("\n")
		b.WriteString(r.BlockMessage)
	}
	return b.String()
}

func (p *Publisher) status(ctx context.Context, vc *vcs.VersionControl, ev *event.CanonicalEvent, state scm.State, desc string) {
	st := scm.Status{State: state, Description: desc, Context: p.cfg.StatusContext, TargetURL: p.cfg.TargetURL}
	p.publish(ctx, vc, ev, "status", func(prov scm.Provider, t scm.Target) error {
		return prov.PublishStatus(ctx, t, st)
	})
}

func (p *Publisher) comment(ctx context.Context, vc *vcs.VersionControl, ev *event.CanonicalEvent, body string) {
	p.publish(ctx, vc, ev, "comment", func(prov scm.Provider, t scm.Target) error {
		return prov.PublishComment(ctx, t, body)
	})
}

func (p *Publisher) publish(ctx context.Context, vc *vcs.VersionControl, ev *event.CanonicalEvent, kind string, call func(scm.Provider, scm.Target) error) {
	log := p.logger.WithContext(ctx).With("vc_id", vc.ID.String(), "repo", ev.RepoFullName, "kind", kind)

	result := "success"
	defer func() {
		metrics.PublishTotal.WithLabelValues(string(vc.Provider), kind, result).Inc()
	}()

	prov, err := p.providers.Get(vc.Provider)
	if err != nil {
		result = "error"
		log.Warn("no provider for publish", "error", err)
		return
	}
	if err := call(prov, prTarget(vc, ev)); err != nil {
		result = "error"
		log.Warn("failed to publish to provider", "error", err)
		return
	}
	log.Debug("published to provider")
}

func prTarget(vc *vcs.VersionControl, ev *event.CanonicalEvent) scm.Target {
	t := scm.Target{
		Credentials:  credentials(vc),
		RepoFullName: ev.RepoFullName,
		ProjectID:    ev.ProjectID,
	}
	if ev.PR != nil {
		t.Number = ev.PR.Number
		t.HeadSHA = ev.PR.HeadSHA
		if ev.PR.ProjectID != "" {
			t.ProjectID = ev.PR.ProjectID
		}
	}
	return t
}

// incidentLink points the dashboard at the incidents of a PR or commit.
// section is "secret" or "sca".
func incidentLink(frontend, section string, prID, repoID shared.ID, commit string) string {
	q := url.Values{}
	if !prID.IsZero() {
		q.Set("pr_ids", prID.String())
	}
	if commit != "" {
		q.Set("commit", commit)
	}
	if !repoID.IsZero() {
		q.Set("repo_ids", repoID.String())
	}
	return strings.TrimRight(frontend, "/") + "/" + section + "/incidents?" + q.Encode()
}
