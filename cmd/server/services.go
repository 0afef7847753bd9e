package main

import (
	"context"
	"fmt"

	"github.com/openctemio/scangate/internal/app"
	"github.com/openctemio/scangate/internal/config"
	"github.com/openctemio/scangate/internal/infra/archive"
	"github.com/openctemio/scangate/internal/infra/detector"
	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/internal/infra/notification"
	"github.com/openctemio/scangate/internal/infra/redis"
	"github.com/openctemio/scangate/internal/infra/scm"
	"github.com/openctemio/scangate/pkg/crypto"
	"github.com/openctemio/scangate/pkg/logger"
)

// Services holds the application services.
type Services struct {
	Ingress        *app.IngressService
	Dispatch       *app.DispatchService
	RepositoryScan *app.RepositoryScanService
	Republisher    *app.StatusRepublisher
	Whitelist      *app.WhitelistService
	Incident       *app.IncidentService
	ScanQuery      *app.ScanQueryService
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Repos       *Repositories
	RedisClient *redis.Client
	JobClient   *jobs.Client
}

// NewServices wires the scan pipelines and the admin services.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	providers := scm.NewRegistry(cfg.Publisher.Timeout)
	det := detector.New(detector.Config{
		WorkDir:          cfg.Scan.WorkDir,
		TrufflehogBinary: cfg.Scan.TrufflehogBinary,
		GitleaksBinary:   cfg.Scan.GitleaksBinary,
		GrypeBinary:      cfg.Scan.GrypeBinary,
		CloneDepth:       cfg.Scan.CloneDepth,
	}, detector.ExecRunner{}, log)

	reportArchive, err := initArchive(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	notifier, err := initNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	findings := app.NewFindingService(repos.Findings, repos.Whitelists, log)
	publisher := app.NewPublisher(providers, app.PublisherConfig{
		FrontendURL:   cfg.Publisher.FrontendURL,
		StatusContext: cfg.Publisher.StatusContext,
		TargetURL:     cfg.Publisher.TargetURL,
	}, log)

	dispatchOpts := []app.DispatchOption{app.WithNotifier(notifier)}
	if reportArchive != nil {
		dispatchOpts = append(dispatchOpts, app.WithReportArchive(reportArchive))
	}

	s := &Services{
		Ingress:   app.NewIngressService(repos.VCS, providers, deps.JobClient, cfg.Webhook.EnforceSignature, log),
		Dispatch:  app.NewDispatchService(repos.Stores(), findings, det, providers, publisher, deps.JobClient, log, dispatchOpts...),
		Whitelist: app.NewWhitelistService(repos.Whitelists, repos.Whitelists, deps.JobClient, log),
		Incident:  app.NewIncidentService(repos.Incidents, log),
		ScanQuery: app.NewScanQueryService(repos.Scans),
	}
	s.RepositoryScan = app.NewRepositoryScanService(
		repos.Stores(), findings, det, providers, deps.JobClient, deps.RedisClient, notifier, reportArchive,
		app.SweepConfig{BatchSize: cfg.Scan.SweepBatchSize, LockTTL: cfg.Scan.SweepLockTTL},
		log,
	)
	s.Republisher = app.NewStatusRepublisher(repos.Stores(), repos.Findings, publisher, log)
	return s, nil
}

func initEncryptor(cfg *config.Config, log *logger.Logger) (crypto.Encryptor, error) {
	if !cfg.Encryption.IsConfigured() {
		log.Warn("APP_ENCRYPTION_KEY not configured - VC credentials are read as plaintext")
		return crypto.NoOpEncryptor{}, nil
	}
	enc, err := crypto.NewEncryptor(cfg.Encryption.Key, cfg.Encryption.KeyFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credentials encryptor: %w", err)
	}
	log.Info("credentials encryption enabled")
	return enc, nil
}

// initArchive returns a nil interface when archiving is off so callers can test for it.
func initArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.ReportArchive, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	a, err := archive.NewS3Archive(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report archive: %w", err)
	}
	log.Info("report archive enabled", "bucket", cfg.Archive.Bucket)
	return a, nil
}

func initNotifier(cfg *config.Config, log *logger.Logger) (*app.Notifier, error) {
	if !cfg.Slack.Enabled {
		return app.NewNotifier(nil, cfg.Publisher.FrontendURL, log), nil
	}
	slack, err := notification.NewSlackClient(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize slack client: %w", err)
	}
	log.Info("slack notifications enabled", "channel", cfg.Slack.Channel)
	return app.NewNotifier(slack, cfg.Publisher.FrontendURL, log), nil
}

// NewJobClient creates the asynq client used by every enqueueing service.
func NewJobClient(cfg *config.Config, log *logger.Logger) *jobs.Client {
	return jobs.NewClient(jobs.ClientConfig{
		RedisAddr:             cfg.Redis.Addr(),
		RedisPassword:         cfg.Redis.Password,
		RedisDB:               cfg.Redis.DB,
		RepositoryScanTimeout: cfg.Scan.RepoScanTimeout,
		RepositoryScanRetries: cfg.Scan.MaxRetries,
	}, log)
}
