// Package pullrequest holds pull/merge requests seen through webhooks.
package pullrequest

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrNotFound is returned when a PR does not exist.
var ErrNotFound = fmt.Errorf("%w: pull request not found", shared.ErrNotFound)

// PR is identified by (number, vc_id, repo_id).
type PR struct {
	ID                shared.ID
	Number            int
	VCID              shared.ID
	RepoID            shared.ID
	Link              string
	SourceBranch      string
	DestinationBranch string
	Blocked           bool
	LastScanAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Repository persists PRs.
type Repository interface {
	// Upsert inserts or refreshes link/branches on conflict and returns the stored row.
	Upsert(ctx context.Context, pr *PR) (*PR, error)
	GetByID(ctx context.Context, id shared.ID) (*PR, error)
	// SetBlocked stores the block decision. A nil scannedAt keeps last_scan_at.
	SetBlocked(ctx context.Context, id shared.ID, blocked bool, scannedAt *time.Time) error
}
