package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openctemio/scangate/pkg/domain/pullrequest"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// PullRequestRepository persists PRs.
type PullRequestRepository struct {
	db *DB
}

// NewPullRequestRepository creates a new PullRequestRepository.
func NewPullRequestRepository(db *DB) *PullRequestRepository {
	return &PullRequestRepository{db: db}
}

const prColumns = `id, pr_number, vc_id, repo_id, link, source_branch, destination_branch, blocked, last_scan_at, created_at, updated_at`

func scanPR(row rowScanner) (*pullrequest.PR, error) {
	pr := &pullrequest.PR{}
	var lastScan sql.NullTime
	if err := row.Scan(&pr.ID, &pr.Number, &pr.VCID, &pr.RepoID, &pr.Link, &pr.SourceBranch,
		&pr.DestinationBranch, &pr.Blocked, &lastScan, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return nil, err
	}
	pr.LastScanAt = nullTimeValue(lastScan)
	return pr, nil
}

// Upsert inserts by (pr_number, vc_id, repo_id) or refreshes link and branches.
func (r *PullRequestRepository) Upsert(ctx context.Context, pr *pullrequest.PR) (*pullrequest.PR, error) {
	if pr.ID.IsZero() {
		pr.ID = shared.NewID()
	}
	query := `
		INSERT INTO prs (id, pr_number, vc_id, repo_id, link, source_branch, destination_branch)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pr_number, vc_id, repo_id) DO UPDATE SET
			link = EXCLUDED.link,
			source_branch = EXCLUDED.source_branch,
			destination_branch = EXCLUDED.destination_branch,
			updated_at = NOW()
		RETURNING ` + prColumns

	stored, err := scanPR(r.db.QueryRowContext(ctx, query,
		pr.ID, pr.Number, pr.VCID, pr.RepoID, pr.Link, pr.SourceBranch, pr.DestinationBranch))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pull request: %w", err)
	}
	return stored, nil
}

// GetByID returns a PR by id.
func (r *PullRequestRepository) GetByID(ctx context.Context, id shared.ID) (*pullrequest.PR, error) {
	pr, err := scanPR(r.db.QueryRowContext(ctx, `SELECT `+prColumns+` FROM prs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, pullrequest.ErrNotFound)
	}
	return pr, nil
}

// SetBlocked records the block decision. last_scan_at only moves when scannedAt is set.
func (r *PullRequestRepository) SetBlocked(ctx context.Context, id shared.ID, blocked bool, scannedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE prs SET blocked = $2, last_scan_at = COALESCE($3::timestamptz, last_scan_at), updated_at = NOW()
		WHERE id = $1`, id, blocked, nullTime(scannedAt))
	if err != nil {
		return fmt.Errorf("failed to update pull request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pullrequest.ErrNotFound
	}
	return nil
}
