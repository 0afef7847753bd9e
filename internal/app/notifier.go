package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openctemio/scangate/internal/infra/notification"
	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/logger"
)

// Scan kinds used in notifications.
const (
	NotifyPR         = "pr"
	NotifyCommit     = "commit"
	NotifyRepository = "repository"
)

// Summary describes the new findings of one scan.
type Summary struct {
	Kind            string
	RepoName        string
	RepoID          shared.ID
	PRID            shared.ID
	PRNumber        int
	CommitID        string
	Secrets         finding.Counts
	Vulnerabilities finding.Counts
}

func (s Summary) total() int {
	return s.Secrets.Total() + s.Vulnerabilities.Total()
}

// Notifier fans scan summaries out to chat. Failures never reach the caller.
type Notifier struct {
	sender      notification.Sender
	frontendURL string
	logger      *logger.Logger
}

// NewNotifier creates a Notifier. A nil sender disables notifications.
func NewNotifier(sender notification.Sender, frontendURL string, log *logger.Logger) *Notifier {
	if sender == nil {
		sender = notification.Nop{}
	}
	return &Notifier{
		sender:      sender,
		frontendURL: frontendURL,
		logger:      log.With("component", "notifier"),
	}
}

// Notify sends the summary when it has new findings and alerts are enabled.
func (n *Notifier) Notify(ctx context.Context, enabled bool, s Summary) {
	if !enabled || s.total() == 0 {
		return
	}
	log := n.logger.WithContext(ctx).With("repo", s.RepoName, "kind", s.Kind)

	err := n.sender.Send(ctx, n.message(s))
	switch {
	case errors.Is(err, notification.ErrDisabled):
		metrics.NotificationsTotal.WithLabelValues("disabled").Inc()
	case err != nil:
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		log.Warn("failed to send notification", "error", err)
	default:
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}
}

func (n *Notifier) message(s Summary) notification.Message {
	var found []string
	if c := s.Secrets.Total(); c > 0 {
		found = append(found, fmt.Sprintf("%d secrets", c))
	}
	if c := s.Vulnerabilities.Total(); c > 0 {
		found = append(found, fmt.Sprintf("%d vulnerabilities", c))
	}

	var where string
	switch s.Kind {
	case NotifyPR:
		where = "PR #" + strconv.Itoa(s.PRNumber)
	case NotifyCommit:
		where = "commit " + shortSHA(s.CommitID)
	default:
		where = "repository scan"
	}

	section := "secret"
	if s.Secrets.Total() == 0 {
		section = "sca"
	}

	msg := notification.Message{
		Title:    fmt.Sprintf("[TheFirewall] %s found in %s", strings.Join(found, " and "), s.RepoName),
		Severity: string(highest(s.Secrets, s.Vulnerabilities)),
		Footer:   where,
	}
	if n.frontendURL != "" {
		msg.URL = incidentLink(n.frontendURL, section, s.PRID, s.RepoID, s.CommitID)
	}
	for _, sev := range finding.AllSeverities() {
		c := s.Secrets[sev] + s.Vulnerabilities[sev]
		if c == 0 {
			continue
		}
		msg.Fields = append(msg.Fields, notification.Field{Label: capitalize(string(sev)), Value: strconv.Itoa(c)})
	}
	return msg
}

func highest(counts ...finding.Counts) finding.Severity {
	for _, sev := range finding.AllSeverities() {
		for _, c := range counts {
			if c[sev] > 0 {
				return sev
			}
		}
	}
	return finding.SeverityUnknown
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
