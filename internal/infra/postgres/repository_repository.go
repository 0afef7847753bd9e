package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/repository"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// RepoRepository persists repositories and full repository scans.
type RepoRepository struct {
	db *DB
}

// NewRepoRepository creates a new RepoRepository.
func NewRepoRepository(db *DB) *RepoRepository {
	return &RepoRepository{db: db}
}

const selectRepo = `
	SELECT id, vc_id, provider, name, full_name, clone_url, html_url, default_branch, author,
	       details, last_scan_at, created_at, updated_at
	FROM repositories`

func scanRepo(row rowScanner) (*repository.Repo, error) {
	r := &repository.Repo{}
	var provider string
	var details []byte
	var lastScan sql.NullTime
	if err := row.Scan(&r.ID, &r.VCID, &provider, &r.Name, &r.FullName, &r.CloneURL, &r.HTMLURL,
		&r.DefaultBranch, &r.Author, &details, &lastScan, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Provider = event.Provider(provider)
	r.Details = details
	r.LastScanAt = nullTimeValue(lastScan)
	return r, nil
}

// Upsert inserts by (vc_id, name); on conflict the stored row is returned unchanged.
func (r *RepoRepository) Upsert(ctx context.Context, repo *repository.Repo) (*repository.Repo, bool, error) {
	if repo.ID.IsZero() {
		repo.ID = shared.NewID()
	}
	query := `
		INSERT INTO repositories (id, vc_id, provider, name, full_name, clone_url, html_url, default_branch, author, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (vc_id, name) DO NOTHING
		RETURNING id`

	var id shared.ID
	err := r.db.QueryRowContext(ctx, query,
		repo.ID, repo.VCID, string(repo.Provider), repo.Name, repo.FullName, repo.CloneURL,
		repo.HTMLURL, repo.DefaultBranch, repo.Author, nullBytes(repo.Details),
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.GetByVCAndName(ctx, repo.VCID, repo.Name)
		return existing, false, err
	case err != nil:
		return nil, false, fmt.Errorf("failed to insert repository: %w", err)
	}
	stored, err := r.GetByID(ctx, id)
	return stored, true, err
}

// GetByID returns a repository by id.
func (r *RepoRepository) GetByID(ctx context.Context, id shared.ID) (*repository.Repo, error) {
	repo, err := scanRepo(r.db.QueryRowContext(ctx, selectRepo+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, repository.ErrNotFound)
	}
	return repo, nil
}

// GetByVCAndName returns a repository by its identity.
func (r *RepoRepository) GetByVCAndName(ctx context.Context, vcID shared.ID, name string) (*repository.Repo, error) {
	repo, err := scanRepo(r.db.QueryRowContext(ctx, selectRepo+` WHERE vc_id = $1 AND name = $2`, vcID, name))
	if err != nil {
		return nil, notFound(err, repository.ErrNotFound)
	}
	return repo, nil
}

// ListByVC returns all repositories of a VC.
func (r *RepoRepository) ListByVC(ctx context.Context, vcID shared.ID) ([]*repository.Repo, error) {
	rows, err := r.db.QueryContext(ctx, selectRepo+` WHERE vc_id = $1 ORDER BY name`, vcID)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	var out []*repository.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

// TouchLastScan records when the repository was last scanned.
func (r *RepoRepository) TouchLastScan(ctx context.Context, id shared.ID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE repositories SET last_scan_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

const selectRepoScan = `
	SELECT id, repo_id, vc_id, status, attempts, error, started_at, completed_at, created_at, updated_at
	FROM repository_scans`

func scanRepoScan(row rowScanner) (*repository.Scan, error) {
	s := &repository.Scan{}
	var status string
	var started, completed sql.NullTime
	if err := row.Scan(&s.ID, &s.RepoID, &s.VCID, &status, &s.Attempts, &s.Error,
		&started, &completed, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = repository.ScanStatus(status)
	s.StartedAt = nullTimeValue(started)
	s.CompletedAt = nullTimeValue(completed)
	return s, nil
}

// CreateScan stores a new repository scan.
func (r *RepoRepository) CreateScan(ctx context.Context, s *repository.Scan) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO repository_scans (id, repo_id, vc_id, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.RepoID, s.VCID, string(s.Status), s.Attempts, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create repository scan: %w", err)
	}
	return nil
}

// UpdateScan saves a repository scan.
func (r *RepoRepository) UpdateScan(ctx context.Context, s *repository.Scan) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE repository_scans
		SET status = $2, attempts = $3, error = $4, started_at = $5, completed_at = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, string(s.Status), s.Attempts, s.Error, nullTime(s.StartedAt), nullTime(s.CompletedAt), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update repository scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetScan returns a repository scan by id.
func (r *RepoRepository) GetScan(ctx context.Context, id shared.ID) (*repository.Scan, error) {
	s, err := scanRepoScan(r.db.QueryRowContext(ctx, selectRepoScan+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, repository.ErrNotFound)
	}
	return s, nil
}

// ListPendingScans returns the oldest pending scans.
func (r *RepoRepository) ListPendingScans(ctx context.Context, limit int) ([]*repository.Scan, error) {
	rows, err := r.db.QueryContext(ctx, selectRepoScan+` WHERE status = 'pending' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending repository scans: %w", err)
	}
	defer rows.Close()

	var out []*repository.Scan
	for rows.Next() {
		s, err := scanRepoScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
