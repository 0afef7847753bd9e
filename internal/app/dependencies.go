package app

import (
	"context"
	"time"

	"github.com/openctemio/scangate/internal/infra/detector"
	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/internal/infra/scm"
	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/vcs"
)

// Providers looks up the SCM implementation for a VC.
type Providers interface {
	Get(kind event.Provider) (scm.Provider, error)
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, p jobs.WebhookEventPayload) error
	EnqueueRepositoryScan(ctx context.Context, p jobs.RepositoryScanPayload) error
	EnqueueWhitelistRepublish(ctx context.Context, p jobs.WhitelistRepublishPayload) error
}

// Detector runs the external scanners. Implemented by detector.Detector.
type Detector interface {
	ScanSecrets(ctx context.Context, src detector.Source) (*detector.SecretReport, error)
	ScanVulnerabilities(ctx context.Context, src detector.Source) (*detector.VulnerabilityReport, error)
	ScanRepository(ctx context.Context, src detector.Source) (*detector.SecretReport, error)
}

// ReportArchive keeps raw detector output.
type ReportArchive interface {
	Store(ctx context.Context, kind, scanID string, report []byte) (string, error)
}

// Locker takes a cross-process lock. The returned function releases it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

func credentials(vc *vcs.VersionControl) scm.Credentials {
	return scm.Credentials{BaseURL: vc.BaseURL, Username: vc.Username, Token: vc.Token}
}
