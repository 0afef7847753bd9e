package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/logger"
)

// StatusRepublisher recomputes a PR's blocked state after a whitelist change and
// publishes the new commit status.
type StatusRepublisher struct {
	stores    Stores
	findings  finding.Repository
	publisher *Publisher
	logger    *logger.Logger
}

// NewStatusRepublisher creates a StatusRepublisher.
func NewStatusRepublisher(stores Stores, findings finding.Repository, publisher *Publisher, log *logger.Logger) *StatusRepublisher {
	return &StatusRepublisher{
		stores:    stores,
		findings:  findings,
		publisher: publisher,
		logger:    log.With("service", "republish"),
	}
}

// Republish handles one whitelist:republish task.
func (r *StatusRepublisher) Republish(ctx context.Context, p jobs.WhitelistRepublishPayload) error {
	scanID, err := shared.IDFromString(p.PRScanID)
	if err != nil {
		return err
	}
	sc, err := r.stores.Scans.GetByID(ctx, scan.TargetPR, scanID)
	if err != nil {
		return fmt.Errorf("failed to load pr scan %s: %w", scanID, err)
	}
	log := r.logger.WithContext(ctx).With("scan_id", scanID.String(), "rule_id", p.RuleID)

	if len(sc.Event()) == 0 {
		log.Info("pr scan has no stored event, nothing to republish")
		return nil
	}
	var ev event.CanonicalEvent
	if err := json.Unmarshal(sc.Event(), &ev); err != nil {
		return fmt.Errorf("%w: stored event of scan %s: %v", shared.ErrValidation, scanID, err)
	}

	pr, err := r.stores.PRs.GetByID(ctx, sc.ParentID())
	if err != nil {
		return fmt.Errorf("failed to load pr %s: %w", sc.ParentID(), err)
	}
	vc, err := r.stores.VCS.GetByID(ctx, sc.VCID())
	if err != nil {
		return fmt.Errorf("failed to load vc %s: %w", sc.VCID(), err)
	}
	cfg, err := r.stores.VCS.GetWebhookConfig(ctx, vc.ID)
	if err != nil {
		return fmt.Errorf("failed to load webhook config of vc %s: %w", vc.ID, err)
	}

	counts, err := r.findings.CountOpenForPR(ctx, pr.ID)
	if err != nil {
		return fmt.Errorf("failed to count pr findings: %w", err)
	}
	blocked := cfg.Policy().BlockStatus(
		scan.Outcome{Findings: counts.Secrets, Blocking: counts.Secrets},
		scan.Outcome{Findings: counts.Vulnerabilities, Blocking: counts.BlockingVulnerabilities},
	)
	if err := r.stores.PRs.SetBlocked(ctx, pr.ID, blocked, nil); err != nil {
		return fmt.Errorf("failed to update pr blocked flag: %w", err)
	}

	r.publisher.Republished(ctx, vc, &ev, PRReport{
		PRID:            pr.ID,
		RepoID:          pr.RepoID,
		Secrets:         counts.Secrets,
		Vulnerabilities: counts.Vulnerabilities,
		Blocked:         blocked,
	})
	log.Info("pr status republished",
		"pr_id", pr.ID.String(),
		"was_blocked", pr.Blocked,
		"blocked", blocked,
	)
	return nil
}
