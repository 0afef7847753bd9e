package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/livecommit"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrLiveCommitNotFound is returned when a live commit is missing.
var ErrLiveCommitNotFound = fmt.Errorf("%w: live commit not found", shared.ErrNotFound)

// LiveCommitRepository persists pushed commits.
type LiveCommitRepository struct {
	db *DB
}

// NewLiveCommitRepository creates a new LiveCommitRepository.
func NewLiveCommitRepository(db *DB) *LiveCommitRepository {
	return &LiveCommitRepository{db: db}
}

const selectLiveCommit = `
	SELECT id, vc_id, repo_id, commit_id, commit_url, branch, author, email, message, created_at
	FROM live_commits`

func scanLiveCommit(row rowScanner) (*livecommit.LiveCommit, error) {
	c := &livecommit.LiveCommit{}
	if err := row.Scan(&c.ID, &c.VCID, &c.RepoID, &c.CommitID, &c.CommitURL, &c.Branch,
		&c.Author, &c.Email, &c.Message, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// Upsert inserts by (vc_id, repo_id, commit_id) or returns the stored commit.
func (r *LiveCommitRepository) Upsert(ctx context.Context, c *livecommit.LiveCommit) (*livecommit.LiveCommit, bool, error) {
	if c.ID.IsZero() {
		c.ID = shared.NewID()
	}
	var id shared.ID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO live_commits (id, vc_id, repo_id, commit_id, commit_url, branch, author, email, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (vc_id, repo_id, commit_id) DO NOTHING
		RETURNING id`,
		c.ID, c.VCID, c.RepoID, c.CommitID, c.CommitURL, c.Branch, c.Author, c.Email, c.Message,
	).Scan(&id)

	inserted := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		inserted = false
	case err != nil:
		return nil, false, fmt.Errorf("failed to insert live commit: %w", err)
	}

	stored, err := scanLiveCommit(r.db.QueryRowContext(ctx,
		selectLiveCommit+` WHERE vc_id = $1 AND repo_id = $2 AND commit_id = $3`, c.VCID, c.RepoID, c.CommitID))
	if err != nil {
		return nil, false, notFound(err, ErrLiveCommitNotFound)
	}
	return stored, inserted, nil
}

// GetByID returns a live commit by id.
func (r *LiveCommitRepository) GetByID(ctx context.Context, id shared.ID) (*livecommit.LiveCommit, error) {
	c, err := scanLiveCommit(r.db.QueryRowContext(ctx, selectLiveCommit+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, ErrLiveCommitNotFound)
	}
	return c, nil
}
