package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/scangate/internal/infra/detector"
	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/livecommit"
	"github.com/openctemio/scangate/pkg/domain/pullrequest"
	"github.com/openctemio/scangate/pkg/domain/repository"
	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/vcs"
	"github.com/openctemio/scangate/pkg/logger"
)

// Stores groups the repositories the pipelines read and write.
type Stores struct {
	VCS     vcs.Repository
	Repos   repository.Repository
	PRs     pullrequest.Repository
	Commits livecommit.Repository
	Scans   scan.Repository
}

// DispatchService runs the scan pipelines for one webhook delivery.
type DispatchService struct {
	stores    Stores
	findings  *FindingService
	detector  Detector
	providers Providers
	publisher *Publisher
	notifier  *Notifier
	enqueuer  Enqueuer
	archive   ReportArchive
	logger    *logger.Logger
}

// DispatchOption configures optional collaborators.
type DispatchOption func(*DispatchService)

// WithReportArchive stores raw detector output.
func WithReportArchive(a ReportArchive) DispatchOption {
	return func(s *DispatchService) { s.archive = a }
}

// WithNotifier enables chat notifications.
func WithNotifier(n *Notifier) DispatchOption {
	return func(s *DispatchService) { s.notifier = n }
}

// NewDispatchService creates a DispatchService.
func NewDispatchService(
	stores Stores,
	findings *FindingService,
	det Detector,
	providers Providers,
	publisher *Publisher,
	enqueuer Enqueuer,
	log *logger.Logger,
	opts ...DispatchOption,
) *DispatchService {
	s := &DispatchService{
		stores:    stores,
		findings:  findings,
		detector:  det,
		providers: providers,
		publisher: publisher,
		enqueuer:  enqueuer,
		logger:    log.With("service", "dispatch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewNotifier(nil, "", log)
	}
	return s
}

// delivery is the loaded context of one webhook event.
type delivery struct {
	vc     *vcs.VersionControl
	cfg    *vcs.WebhookConfig
	ev     *event.CanonicalEvent
	source detector.Source
	log    *logger.Logger
}

// Dispatch handles one webhook event task.
func (s *DispatchService) Dispatch(ctx context.Context, p jobs.WebhookEventPayload) error {
	if p.Event == nil {
		return fmt.Errorf("%w: webhook event payload has no event", shared.ErrValidation)
	}
	vcID, err := shared.IDFromString(p.VCID)
	if err != nil {
		return err
	}
	vc, err := s.stores.VCS.GetByID(ctx, vcID)
	if err != nil {
		return fmt.Errorf("failed to load vc %s: %w", vcID, err)
	}
	cfg, err := s.stores.VCS.GetWebhookConfig(ctx, vcID)
	if err != nil {
		return fmt.Errorf("failed to load webhook config of vc %s: %w", vcID, err)
	}
	prov, err := s.providers.Get(vc.Provider)
	if err != nil {
		return err
	}

	ev := p.Event
	d := &delivery{
		vc:  vc,
		cfg: cfg,
		ev:  ev,
		source: detector.Source{
			CloneURL: ev.CloneURL,
			Auth:     prov.CloneAuth(credentials(vc)),
			Branch:   ev.Branch,
			Mode:     cfg.ScanMode,
		},
		log: s.logger.WithContext(ctx).With(
			"vc_id", vc.ID.String(),
			"repo", ev.RepoFullName,
			"domain", string(ev.Domain),
		),
	}

	switch ev.Domain {
	case event.DomainPR:
		return s.dispatchPR(ctx, d)
	case event.DomainPush:
		return s.dispatchPush(ctx, d)
	case event.DomainRepoCreate:
		return s.dispatchRepoCreate(ctx, d)
	}
	return fmt.Errorf("%w: domain %q", event.ErrUnsupportedEvent, ev.Domain)
}

func (s *DispatchService) resolveRepo(ctx context.Context, d *delivery) (*repository.Repo, error) {
	repo, err := s.stores.Repos.GetByVCAndName(ctx, d.vc.ID, d.ev.RepoName)
	if err != nil {
		d.log.Error("repository not found", "repo_name", d.ev.RepoName, "error", err)
		return nil, fmt.Errorf("failed to resolve repository %s: %w", d.ev.RepoName, err)
	}
	return repo, nil
}

func (s *DispatchService) dispatchPR(ctx context.Context, d *delivery) error {
	ev := d.ev
	if ev.PR == nil {
		return event.MissingKey(ev.Provider, "pull_request")
	}
	repo, err := s.resolveRepo(ctx, d)
	if err != nil {
		return err
	}

	pr, err := s.stores.PRs.Upsert(ctx, &pullrequest.PR{
		ID:                shared.NewID(),
		Number:            ev.PR.Number,
		VCID:              d.vc.ID,
		RepoID:            repo.ID,
		Link:              ev.PR.HTMLURL,
		SourceBranch:      ev.PR.SourceBranch,
		DestinationBranch: ev.PR.DestinationBranch,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert pr %d: %w", ev.PR.Number, err)
	}
	d.log = d.log.With("pr_id", pr.ID.String(), "pr_number", pr.Number)

	s.publisher.Pending(ctx, d.vc, ev)

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	secScan, err := s.createPRScan(ctx, d, pr, repo, scan.TypeSecret, raw)
	if err != nil {
		return err
	}
	vulScan, err := s.createPRScan(ctx, d, pr, repo, scan.TypeVulnerability, raw)
	if err != nil {
		return err
	}

	src := d.source
	src.Branch = ev.PR.SourceBranch
	src.BaseBranch = ev.PR.DestinationBranch
	src.Commit = ev.PR.HeadSHA

	res := s.runBoth(ctx, d, secScan, vulScan, src,
		finding.Links{RepositoryID: repo.ID, PRID: pr.ID},
		finding.SourcePRScan,
		Attribution{Commit: ev.PR.HeadSHA, Author: ev.Author, Email: ev.Email},
	)

	report := PRReport{
		PRID:            pr.ID,
		RepoID:          repo.ID,
		Secrets:         res.secret.Outcome.Findings,
		Vulnerabilities: res.vuln.Outcome.Findings,
		Blocked:         d.cfg.Policy().BlockStatus(res.secret.Outcome, res.vuln.Outcome),
		Failed:          res.secretErr != nil || res.vulnErr != nil,
		BlockMessage:    d.vc.BlockMessage,
	}
	scannedAt := time.Now().UTC()
	if err := s.stores.PRs.SetBlocked(ctx, pr.ID, report.Blocked, &scannedAt); err != nil {
		d.log.Error("failed to update pr blocked flag", "error", err)
	}
	s.publisher.Result(ctx, d.vc, ev, report)

	s.notifier.Notify(ctx, d.cfg.SlackAlertsEnabled, Summary{
		Kind:            NotifyPR,
		RepoName:        repo.Name,
		RepoID:          repo.ID,
		PRID:            pr.ID,
		PRNumber:        pr.Number,
		Secrets:         res.secret.NewBySeverity,
		Vulnerabilities: res.vuln.NewBySeverity,
	})

	d.log.Info("pr scanned",
		"secrets", report.Secrets,
		"vulnerabilities", report.Vulnerabilities,
		"blocked", report.Blocked,
	)
	return errors.Join(res.secretErr, res.vulnErr)
}

func (s *DispatchService) createPRScan(ctx context.Context, d *delivery, pr *pullrequest.PR, repo *repository.Repo, t scan.Type, raw []byte) (*scan.Scan, error) {
	sc, err := scan.NewScan(scan.TargetPR, pr.ID, repo.ID, d.vc.ID, t)
	if err != nil {
		return nil, err
	}
	sc.Attach(d.cfg.ID, d.ev.StatusURL, raw)
	if err := s.stores.Scans.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to create %s pr scan: %w", t, err)
	}
	return sc, nil
}

func (s *DispatchService) dispatchPush(ctx context.Context, d *delivery) error {
	repo, err := s.resolveRepo(ctx, d)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range d.ev.Commits {
		if err := s.scanCommit(ctx, d, repo, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *DispatchService) scanCommit(ctx context.Context, d *delivery, repo *repository.Repo, c event.Commit) error {
	log := d.log.With("commit_id", c.ID)

	lc, _, err := s.stores.Commits.Upsert(ctx, &livecommit.LiveCommit{
		ID:        shared.NewID(),
		VCID:      d.vc.ID,
		RepoID:    repo.ID,
		CommitID:  c.ID,
		CommitURL: c.URL,
		Branch:    d.ev.Branch,
		Author:    c.Author,
		Email:     c.Email,
		Message:   c.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert live commit %s: %w", c.ID, err)
	}

	secScan, err := s.commitScan(ctx, d, lc, repo, scan.TypeSecret)
	if err != nil {
		return err
	}
	vulScan, err := s.commitScan(ctx, d, lc, repo, scan.TypeVulnerability)
	if err != nil {
		return err
	}
	if secScan == nil && vulScan == nil {
		log.Info("commit already scanned")
		return nil
	}

	src := d.source
	src.Commit = c.ID
	cd := *d
	cd.log = log
	res := s.runBoth(ctx, &cd, secScan, vulScan, src,
		finding.Links{RepositoryID: repo.ID, LiveCommitID: lc.ID},
		finding.SourceLiveCommit,
		Attribution{Commit: c.ID, Author: c.Author, Email: c.Email},
	)

	s.notifier.Notify(ctx, d.cfg.SlackAlertsEnabled, Summary{
		Kind:            NotifyCommit,
		RepoName:        repo.Name,
		RepoID:          repo.ID,
		CommitID:        c.ID,
		Secrets:         res.secret.NewBySeverity,
		Vulnerabilities: res.vuln.NewBySeverity,
	})
	return errors.Join(res.secretErr, res.vulnErr)
}

// commitScan returns the scan row to run for (commit, type), or nil when a
// previous delivery already started it.
func (s *DispatchService) commitScan(ctx context.Context, d *delivery, lc *livecommit.LiveCommit, repo *repository.Repo, t scan.Type) (*scan.Scan, error) {
	sc, err := scan.NewScan(scan.TargetLiveCommit, lc.ID, repo.ID, d.vc.ID, t)
	if err != nil {
		return nil, err
	}
	sc.Attach(d.cfg.ID, "", nil)
	stored, _, err := s.stores.Scans.GetOrCreate(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s commit scan: %w", t, err)
	}
	if stored.Status() != scan.StatusPending {
		return nil, nil
	}
	return stored, nil
}

func (s *DispatchService) dispatchRepoCreate(ctx context.Context, d *delivery) error {
	ev := d.ev
	repo, inserted, err := s.stores.Repos.Upsert(ctx, &repository.Repo{
		ID:            shared.NewID(),
		VCID:          d.vc.ID,
		Provider:      d.vc.Provider,
		Name:          ev.RepoName,
		FullName:      ev.RepoFullName,
		CloneURL:      ev.CloneURL,
		DefaultBranch: ev.Branch,
		Author:        ev.Author,
		Details:       ev.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert repository %s: %w", ev.RepoName, err)
	}
	if !inserted {
		d.log.Info("repository already exists", "repo_id", repo.ID.String())
		return nil
	}

	rs := repository.NewScan(repo.ID, d.vc.ID)
	if err := s.stores.Repos.CreateScan(ctx, rs); err != nil {
		return fmt.Errorf("failed to create repository scan: %w", err)
	}
	if err := s.enqueuer.EnqueueRepositoryScan(ctx, jobs.RepositoryScanPayload{
		CorrelationID: logger.CorrelationID(ctx),
		ScanID:        rs.ID.String(),
	}); err != nil {
		// The sweep picks up pending scans that never made it to the queue.
		d.log.Warn("failed to enqueue repository scan", "scan_id", rs.ID.String(), "error", err)
	}
	d.log.Info("repository added", "repo_id", repo.ID.String(), "scan_id", rs.ID.String())
	return nil
}

type pipelineResult struct {
	secret    Tally
	vuln      Tally
	secretErr error
	vulnErr   error
}

// runBoth runs the secret and vulnerability sub-pipelines concurrently. A failure
// in one never cancels the other. Nil scans are skipped.
func (s *DispatchService) runBoth(ctx context.Context, d *delivery, secScan, vulScan *scan.Scan,
	src detector.Source, links finding.Links, source finding.Source, attr Attribution) pipelineResult {
	var (
		res pipelineResult
		g   errgroup.Group
	)
	if secScan != nil {
		g.Go(func() error {
			res.secret, res.secretErr = s.track(ctx, d, secScan, func(ctx context.Context) (Tally, error) {
				report, err := s.detector.ScanSecrets(ctx, src)
				if err != nil {
					return Tally{}, err
				}
				s.archiveReport(ctx, d, "secret", secScan.ID(), report.Raw)
				return s.findings.PersistSecrets(ctx, report.Secrets, d.vc.ID, scanLinks(links, secScan), source, attr)
			})
			return nil
		})
	}
	if vulScan != nil {
		g.Go(func() error {
			res.vuln, res.vulnErr = s.track(ctx, d, vulScan, func(ctx context.Context) (Tally, error) {
				report, err := s.detector.ScanVulnerabilities(ctx, src)
				if err != nil {
					return Tally{}, err
				}
				s.archiveReport(ctx, d, "vulnerability", vulScan.ID(), report.Raw)
				return s.findings.PersistVulnerabilities(ctx, report.Vulnerabilities, d.vc.ID, scanLinks(links, vulScan), source, attr)
			})
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func scanLinks(l finding.Links, sc *scan.Scan) finding.Links {
	if sc.Target() == scan.TargetPR {
		l.PRScanID = sc.ID()
	} else {
		l.LiveCommitScanID = sc.ID()
	}
	return l
}

// track moves sc through processing to completed or failed around run.
func (s *DispatchService) track(ctx context.Context, d *delivery, sc *scan.Scan, run func(context.Context) (Tally, error)) (Tally, error) {
	log := d.log.With("scan_id", sc.ID().String(), "scan_type", string(sc.Type()))
	target, typ := string(sc.Target()), string(sc.Type())

	if err := sc.Start(); err != nil {
		return Tally{}, s.abandon(ctx, log, sc, err)
	}
	if err := s.stores.Scans.Update(ctx, sc); err != nil {
		return Tally{}, s.abandon(ctx, log, sc, fmt.Errorf("failed to mark scan %s processing: %w", sc.ID(), err))
	}

	metrics.ScansInProgress.Inc()
	start := time.Now()
	tally, runErr := run(ctx)
	metrics.ScansInProgress.Dec()
	metrics.ScanDuration.WithLabelValues(target, typ).Observe(time.Since(start).Seconds())

	if runErr != nil {
		log.Error("scan failed", "error", runErr)
		_ = sc.Fail(runErr.Error())
	} else if err := sc.Complete(tally.Outcome, d.cfg.Policy()); err != nil {
		return Tally{}, err
	}
	metrics.ScansTotal.WithLabelValues(target, typ, string(sc.Status())).Inc()

	// The final state is written even when the task context is done.
	if err := s.stores.Scans.Update(context.WithoutCancel(ctx), sc); err != nil {
		log.Error("failed to store scan result", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return Tally{}, runErr
	}
	log.Info("scan completed",
		"findings", tally.Outcome.Findings,
		"new", tally.Outcome.New,
		"block_status", sc.BlockStatus(),
	)
	return tally, nil
}

// abandon fails a scan that could not start so the row does not stay pending.
func (s *DispatchService) abandon(ctx context.Context, log *logger.Logger, sc *scan.Scan, cause error) error {
	log.Error("scan could not start", "error", cause)
	if err := sc.Fail(cause.Error()); err != nil {
		return cause
	}
	metrics.ScansTotal.WithLabelValues(string(sc.Target()), string(sc.Type()), string(sc.Status())).Inc()
	if err := s.stores.Scans.Update(context.WithoutCancel(ctx), sc); err != nil {
		log.Error("failed to store scan failure", "error", err)
	}
	return cause
}

func (s *DispatchService) archiveReport(ctx context.Context, d *delivery, kind string, scanID shared.ID, raw []byte) {
	if s.archive == nil || len(raw) == 0 {
		return
	}
	if _, err := s.archive.Store(ctx, kind, scanID.String(), raw); err != nil {
		d.log.Warn("failed to archive detector report", "scan_id", scanID.String(), "error", err)
	}
}
