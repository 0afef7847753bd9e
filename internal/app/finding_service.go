package app

import (
	"context"
	"fmt"

	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/whitelist"
	"github.com/openctemio/scangate/pkg/logger"
)

// Tally summarises a batch of persisted findings.
type Tally struct {
	// Outcome counts distinct non-whitelisted findings of the batch.
	Outcome scan.Outcome
	// NewBySeverity counts newly inserted, non-whitelisted findings.
	NewBySeverity finding.Counts
}

// Attribution fills detector gaps with what the webhook knows about the change.
type Attribution struct {
	Commit string
	Author string
	Email  string
}

// FindingService applies the whitelist gate and stores findings idempotently.
type FindingService struct {
	findings   finding.Repository
	whitelists whitelist.Repository
	logger     *logger.Logger
}

// NewFindingService creates a FindingService.
func NewFindingService(findings finding.Repository, whitelists whitelist.Repository, log *logger.Logger) *FindingService {
	return &FindingService{
		findings:   findings,
		whitelists: whitelists,
		logger:     log.With("service", "finding"),
	}
}

// PersistSecret tags the secret with its winning whitelist rule, if any, and upserts it.
func (s *FindingService) PersistSecret(ctx context.Context, sec *finding.Secret) (finding.UpsertResult, error) {
	ruleID, err := s.whitelists.Resolve(ctx, whitelist.TypeSecret, whitelist.Subject{
		Name:         sec.Name(),
		RepositoryID: sec.Links.RepositoryID,
		VCID:         sec.VCID,
	})
	if err != nil {
		return finding.UpsertResult{}, fmt.Errorf("failed to resolve whitelist: %w", err)
	}
	sec.Whitelisted, sec.WhitelistID = !ruleID.IsZero(), ruleID

	res, err := s.findings.UpsertSecret(ctx, sec)
	if err != nil {
		return finding.UpsertResult{}, err
	}
	metrics.FindingsTotal.WithLabelValues(string(finding.KindSecret), upsertLabel(res)).Inc()
	if res.Inserted {
		s.logger.WithContext(ctx).Info("secret recorded",
			"finding_id", res.ID.String(),
			"incident_id", res.IncidentID.String(),
			"rule", sec.Rule,
			"whitelisted", res.Whitelisted,
		)
	}
	return res, nil
}

// PersistVulnerability is PersistSecret for vulnerabilities. Rules match the
// vulnerability id or its CVE alias.
func (s *FindingService) PersistVulnerability(ctx context.Context, v *finding.Vulnerability) (finding.UpsertResult, error) {
	ruleID, err := s.whitelists.Resolve(ctx, whitelist.TypeVulnerability, whitelist.Subject{
		Name:         v.Name(),
		Aliases:      v.Aliases(),
		RepositoryID: v.Links.RepositoryID,
		VCID:         v.VCID,
	})
	if err != nil {
		return finding.UpsertResult{}, fmt.Errorf("failed to resolve whitelist: %w", err)
	}
	v.Whitelisted, v.WhitelistID = !ruleID.IsZero(), ruleID

	res, err := s.findings.UpsertVulnerability(ctx, v)
	if err != nil {
		return finding.UpsertResult{}, err
	}
	metrics.FindingsTotal.WithLabelValues(string(finding.KindVulnerability), upsertLabel(res)).Inc()
	return res, nil
}

// PersistSecrets stores a detector report. links are merged into every finding.
// Findings reported twice in one batch are counted once.
func (s *FindingService) PersistSecrets(ctx context.Context, secrets []*finding.Secret, vcID shared.ID,
	links finding.Links, source finding.Source, attr Attribution) (Tally, error) {
	t := Tally{NewBySeverity: finding.Counts{}}
	seen := make(map[shared.ID]bool, len(secrets))
	for _, sec := range secrets {
		sec.VCID = vcID
		sec.Links = links.Merge(sec.Links)
		sec.Source = source
		if sec.Commit == "" {
			sec.Commit = attr.Commit
		}
		if sec.Author == "" {
			sec.Author, sec.Email = attr.Author, attr.Email
		}
		if sec.Severity == "" {
			sec.Severity = finding.SeverityForRule(sec.Rule)
		}

		res, err := s.PersistSecret(ctx, sec)
		if err != nil {
			return Tally{}, fmt.Errorf("failed to persist secret %s: %w", sec.File, err)
		}
		if res.Inserted {
			t.Outcome.New++
		}
		if res.Whitelisted || seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		t.Outcome.Findings++
		t.Outcome.Blocking++
		if res.Inserted {
			t.NewBySeverity.Add(sec.Severity)
		}
	}
	return t, nil
}

// PersistVulnerabilities stores a grype report. Only critical and high
// vulnerabilities count as blocking.
func (s *FindingService) PersistVulnerabilities(ctx context.Context, vulns []*finding.Vulnerability, vcID shared.ID,
	links finding.Links, source finding.Source, attr Attribution) (Tally, error) {
	t := Tally{NewBySeverity: finding.Counts{}}
	seen := make(map[shared.ID]bool, len(vulns))
	for _, v := range vulns {
		v.VCID = vcID
		v.Links = links.Merge(v.Links)
		v.Source = source
		if v.Commit == "" {
			v.Commit = attr.Commit
		}
		if v.Author == "" {
			v.Author = attr.Author
		}

		res, err := s.PersistVulnerability(ctx, v)
		if err != nil {
			return Tally{}, fmt.Errorf("failed to persist vulnerability %s: %w", v.VulnerabilityID, err)
		}
		if res.Inserted {
			t.Outcome.New++
		}
		if res.Whitelisted || seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		t.Outcome.Findings++
		if v.Severity.IsBlocking() {
			t.Outcome.Blocking++
		}
		if res.Inserted {
			t.NewBySeverity.Add(v.Severity)
		}
	}
	return t, nil
}

func upsertLabel(res finding.UpsertResult) string {
	if res.Inserted {
		return "inserted"
	}
	return "deduplicated"
}
