package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/internal/infra/notification"
	"github.com/openctemio/scangate/internal/infra/scm"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/logger"
)

func TestResultStatus(t *testing.T) {
	tests := []struct {
		name      string
		report    PRReport
		wantState scm.State
		wantDesc  string
	}{
		{"clean", PRReport{}, scm.StateSuccess, "No issues detected in the PR."},
		{"found but not blocking", PRReport{Secrets: 2}, scm.StateSuccess, "No issues detected in the PR."},
		{"secrets only", PRReport{Secrets: 2, Blocked: true}, scm.StateFailure, "2 secrets found!"},
		{"vulnerabilities only", PRReport{Vulnerabilities: 3, Blocked: true}, scm.StateFailure, "3 vulnerabilities found!"},
		{"both", PRReport{Secrets: 1, Vulnerabilities: 4, Blocked: true}, scm.StateFailure, "1 secrets and 4 vulnerabilities found!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, desc := ResultStatus(tt.report)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantDesc, desc)
		})
	}
}

func TestPublisher_Comment(t *testing.T) {
	p := NewPublisher(nil, PublisherConfig{FrontendURL: "https://firewall.acme.io/"}, logger.NewNop())
	prID, repoID := shared.NewID(), shared.NewID()

	assert.Empty(t, p.Comment(PRReport{}))

	body := p.Comment(PRReport{PRID: prID, RepoID: repoID, Secrets: 2, Vulnerabilities: 1})
	assert.Contains(t, body, "[TheFirewall] Scan Results")
	assert.Contains(t, body, "**2 secrets** and **1 vulnerabilities**")
	assert.Contains(t, body, "https://firewall.acme.io/secret/incidents?")
	assert.Contains(t, body, "https://firewall.acme.io/sca/incidents?")
	assert.Contains(t, body, "pr_ids="+prID.String())
	assert.Contains(t, body, "repo_ids="+repoID.String())

	secretsOnly := p.Comment(PRReport{PRID: prID, Secrets: 1})
	assert.NotContains(t, secretsOnly, "/sca/")
}

type recordingSender struct {
	sent []notification.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg notification.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestNotifier(t *testing.T) {
	counts := finding.Counts{}
	counts.Add(finding.SeverityCritical)
	counts.Add(finding.SeverityLow)

	t.Run("sends new findings", func(t *testing.T) {
		s := &recordingSender{}
		n := NewNotifier(s, "https://firewall.acme.io", logger.NewNop())

		n.Notify(context.Background(), true, Summary{Kind: NotifyCommit, RepoName: "api", CommitID: "0123456789abcdef", Secrets: counts})

		require.Len(t, s.sent, 1)
		msg := s.sent[0]
		assert.Equal(t, "[TheFirewall] 2 secrets found in api", msg.Title)
		assert.Equal(t, "critical", msg.Severity)
		assert.Equal(t, "commit 0123456", msg.Footer)
		assert.Contains(t, msg.URL, "commit=0123456789abcdef")
		require.Len(t, msg.Fields, 2)
		assert.Equal(t, "Critical", msg.Fields[0].Label)
	})

	t.Run("skips when disabled or empty", func(t *testing.T) {
		s := &recordingSender{}
		n := NewNotifier(s, "", logger.NewNop())

		n.Notify(context.Background(), false, Summary{Secrets: counts})
		n.Notify(context.Background(), true, Summary{Secrets: finding.Counts{}})
		assert.Empty(t, s.sent)
	})

	t.Run("send failure is swallowed", func(t *testing.T) {
		s := &recordingSender{err: errors.New("slack down")}
		n := NewNotifier(s, "", logger.NewNop())
		assert.NotPanics(t, func() {
			n.Notify(context.Background(), true, Summary{Kind: NotifyPR, PRNumber: 7, Secrets: counts})
		})
		assert.Len(t, s.sent, 1)
	})
}
