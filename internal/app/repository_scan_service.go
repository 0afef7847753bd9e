package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/scangate/internal/infra/detector"
	"github.com/openctemio/scangate/internal/infra/jobs"
	redisinfra "github.com/openctemio/scangate/internal/infra/redis"
	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/repository"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/vcs"
	"github.com/openctemio/scangate/pkg/logger"
)

const sweepLockKey = "scangate:lock:repository-sweep"

// SweepConfig bounds one sweep run.
type SweepConfig struct {
	BatchSize int
	LockTTL   time.Duration
}

// RepositoryScanService runs full default-branch secret scans and the sweep that
// feeds pending scans to the queue.
type RepositoryScanService struct {
	stores    Stores
	findings  *FindingService
	detector  Detector
	providers Providers
	enqueuer  Enqueuer
	locker    Locker
	notifier  *Notifier
	archive   ReportArchive
	cfg       SweepConfig
	logger    *logger.Logger
}

// NewRepositoryScanService creates a RepositoryScanService. archive and notifier may be nil.
func NewRepositoryScanService(
	stores Stores,
	findings *FindingService,
	det Detector,
	providers Providers,
	enqueuer Enqueuer,
	locker Locker,
	notifier *Notifier,
	archive ReportArchive,
	cfg SweepConfig,
	log *logger.Logger,
) *RepositoryScanService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 250
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if notifier == nil {
		notifier = NewNotifier(nil, "", log)
	}
	return &RepositoryScanService{
		stores:    stores,
		findings:  findings,
		detector:  det,
		providers: providers,
		enqueuer:  enqueuer,
		locker:    locker,
		notifier:  notifier,
		archive:   archive,
		cfg:       cfg,
		logger:    log.With("service", "repository_scan"),
	}
}

// RunRepositoryScan handles one repository:scan task. A returned error lets the
// queue retry with backoff; the scan row records every attempt.
func (s *RepositoryScanService) RunRepositoryScan(ctx context.Context, p jobs.RepositoryScanPayload) error {
	scanID, err := shared.IDFromString(p.ScanID)
	if err != nil {
		return err
	}
	rs, err := s.stores.Repos.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to load repository scan %s: %w", scanID, err)
	}
	log := s.logger.WithContext(ctx).With("scan_id", scanID.String(), "repo_id", rs.RepoID.String())
	if rs.Status == repository.ScanCompleted {
		log.Info("repository scan already completed")
		return nil
	}

	repo, err := s.stores.Repos.GetByID(ctx, rs.RepoID)
	if err != nil {
		return fmt.Errorf("failed to load repository %s: %w", rs.RepoID, err)
	}
	vc, err := s.stores.VCS.GetByID(ctx, rs.VCID)
	if err != nil {
		return fmt.Errorf("failed to load vc %s: %w", rs.VCID, err)
	}
	prov, err := s.providers.Get(vc.Provider)
	if err != nil {
		return err
	}

	rs.Begin()
	if err := s.stores.Repos.UpdateScan(ctx, rs); err != nil {
		return fmt.Errorf("failed to mark repository scan in progress: %w", err)
	}
	metrics.ScansInProgress.Inc()
	start := time.Now()

	tally, runErr := s.scan(ctx, rs, repo, detector.Source{
		CloneURL: repo.CloneURL,
		Auth:     prov.CloneAuth(credentials(vc)),
		Branch:   repo.DefaultBranch,
		Mode:     vcs.ScanModeAggressive,
	})

	metrics.ScansInProgress.Dec()
	metrics.ScanDuration.WithLabelValues("repository", "SECRET").Observe(time.Since(start).Seconds())

	rs.Finish(runErr)
	metrics.ScansTotal.WithLabelValues("repository", "SECRET", string(rs.Status)).Inc()
	if err := s.stores.Repos.UpdateScan(context.WithoutCancel(ctx), rs); err != nil {
		log.Error("failed to store repository scan result", "error", err)
	}
	if runErr != nil {
		log.Error("repository scan failed", "attempt", rs.Attempts, "error", runErr)
		return runErr
	}

	if err := s.stores.Repos.TouchLastScan(ctx, repo.ID, time.Now().UTC()); err != nil {
		log.Warn("failed to update repository last scan time", "error", err)
	}
	s.notifier.Notify(ctx, s.alertsEnabled(ctx, vc.ID), Summary{
		Kind:     NotifyRepository,
		RepoName: repo.Name,
		RepoID:   repo.ID,
		Secrets:  tally.NewBySeverity,
	})
	log.Info("repository scan completed",
		"findings", tally.Outcome.Findings,
		"new", tally.Outcome.New,
	)
	return nil
}

func (s *RepositoryScanService) scan(ctx context.Context, rs *repository.Scan, repo *repository.Repo, src detector.Source) (Tally, error) {
	report, err := s.detector.ScanRepository(ctx, src)
	if err != nil {
		return Tally{}, err
	}
	if s.archive != nil && len(report.Raw) > 0 {
		if _, err := s.archive.Store(ctx, "repository", rs.ID.String(), report.Raw); err != nil {
			s.logger.WithContext(ctx).Warn("failed to archive detector report", "scan_id", rs.ID.String(), "error", err)
		}
	}
	return s.findings.PersistSecrets(ctx, report.Secrets, repo.VCID,
		finding.Links{RepositoryID: repo.ID}, finding.SourceRepoScan, Attribution{})
}

func (s *RepositoryScanService) alertsEnabled(ctx context.Context, vcID shared.ID) bool {
	cfg, err := s.stores.VCS.GetWebhookConfig(ctx, vcID)
	if err != nil {
		return false
	}
	return cfg.SlackAlertsEnabled
}

// Sweep enqueues pending repository scans. Only one sweep runs across all workers;
// a run that finds the lock taken does nothing.
func (s *RepositoryScanService) Sweep(ctx context.Context) error {
	log := s.logger.WithContext(ctx)

	release, err := s.locker.Acquire(ctx, sweepLockKey, s.cfg.LockTTL)
	if errors.Is(err, redisinfra.ErrLockHeld) {
		metrics.SweepSkippedTotal.Inc()
		log.Debug("repository sweep already running elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release sweep lock", "error", err)
		}
	}()

	pending, err := s.stores.Repos.ListPendingScans(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	enqueued := 0
	for _, rs := range pending {
		if err := s.enqueuer.EnqueueRepositoryScan(ctx, jobs.RepositoryScanPayload{
			CorrelationID: logger.CorrelationID(ctx),
			ScanID:        rs.ID.String(),
		}); err != nil {
			log.Warn("failed to enqueue repository scan", "scan_id", rs.ID.String(), "error", err)
			continue
		}
		enqueued++
		metrics.SweepEnqueuedTotal.Inc()
	}
	if len(pending) > 0 {
		log.Info("repository sweep finished", "pending", len(pending), "enqueued", enqueued)
	}
	return nil
}

// TriggerVC creates and enqueues a scan for every repository of a VC.
func (s *RepositoryScanService) TriggerVC(ctx context.Context, vcID string) ([]*repository.Scan, error) {
	id, err := shared.IDFromString(vcID)
	if err != nil {
		return nil, err
	}
	vc, err := s.stores.VCS.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	repos, err := s.stores.Repos.ListByVC(ctx, vc.ID)
	if err != nil {
		return nil, err
	}
	scans := make([]*repository.Scan, 0, len(repos))
	for _, repo := range repos {
		rs, err := s.trigger(ctx, repo)
		if err != nil {
			return scans, err
		}
		scans = append(scans, rs)
	}
	return scans, nil
}

// TriggerRepository creates and enqueues a scan for one repository.
func (s *RepositoryScanService) TriggerRepository(ctx context.Context, repoID string) (*repository.Scan, error) {
	id, err := shared.IDFromString(repoID)
	if err != nil {
		return nil, err
	}
	repo, err := s.stores.Repos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.trigger(ctx, repo)
}

// GetScan returns a repository scan by id.
func (s *RepositoryScanService) GetScan(ctx context.Context, scanID string) (*repository.Scan, error) {
	id, err := shared.IDFromString(scanID)
	if err != nil {
		return nil, err
	}
	return s.stores.Repos.GetScan(ctx, id)
}

func (s *RepositoryScanService) trigger(ctx context.Context, repo *repository.Repo) (*repository.Scan, error) {
	rs := repository.NewScan(repo.ID, repo.VCID)
	if err := s.stores.Repos.CreateScan(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to create repository scan: %w", err)
	}
	if err := s.enqueuer.EnqueueRepositoryScan(ctx, jobs.RepositoryScanPayload{
		CorrelationID: logger.CorrelationID(ctx),
		ScanID:        rs.ID.String(),
	}); err != nil {
		s.logger.WithContext(ctx).Warn("failed to enqueue repository scan, left for the sweep",
			"scan_id", rs.ID.String(), "error", err)
	}
	return rs, nil
}
