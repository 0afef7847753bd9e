package main

import (
	"github.com/openctemio/scangate/internal/app"
	"github.com/openctemio/scangate/internal/infra/postgres"
	"github.com/openctemio/scangate/pkg/crypto"
)

// Repositories holds the postgres-backed stores.
type Repositories struct {
	VCS        *postgres.VCSRepository
	Repos      *postgres.RepoRepository
	PRs        *postgres.PullRequestRepository
	Commits    *postgres.LiveCommitRepository
	Scans      *postgres.ScanRepository
	Findings   *postgres.FindingRepository
	Whitelists *postgres.WhitelistRepository
	Incidents  *postgres.IncidentRepository
}

// NewRepositories creates all repositories over one connection pool.
func NewRepositories(db *postgres.DB, enc crypto.Encryptor) *Repositories {
	return &Repositories{
		VCS:        postgres.NewVCSRepository(db, enc),
		Repos:      postgres.NewRepoRepository(db),
		PRs:        postgres.NewPullRequestRepository(db),
		Commits:    postgres.NewLiveCommitRepository(db),
		Scans:      postgres.NewScanRepository(db),
		Findings:   postgres.NewFindingRepository(db),
		Whitelists: postgres.NewWhitelistRepository(db),
		Incidents:  postgres.NewIncidentRepository(db),
	}
}

// Stores groups the repositories the scan pipelines share.
func (r *Repositories) Stores() app.Stores {
	return app.Stores{
		VCS:     r.VCS,
		Repos:   r.Repos,
		PRs:     r.PRs,
		Commits: r.Commits,
		Scans:   r.Scans,
	}
}
