// Package livecommit holds commits pushed to a repository and scanned on arrival.
package livecommit

import (
	"context"
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// LiveCommit is identified by (vc_id, repo_id, commit_id).
type LiveCommit struct {
	ID        shared.ID
	VCID      shared.ID
	RepoID    shared.ID
	CommitID  string
	CommitURL string
	Branch    string
	Author    string
	Email     string
	Message   string
	CreatedAt time.Time
}

// Repository persists live commits.
type Repository interface {
	// Upsert inserts or fetches by identity; inserted reports which.
	Upsert(ctx context.Context, c *LiveCommit) (*LiveCommit, bool, error)
	GetByID(ctx context.Context, id shared.ID) (*LiveCommit, error)
}
