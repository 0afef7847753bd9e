package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrScanNotFound is returned when a PR or live-commit scan is missing.
var ErrScanNotFound = fmt.Errorf("%w: scan not found", shared.ErrNotFound)

// ScanRepository persists pr_scans and live_commit_scans. Both tables share a column
// layout and differ only in their parent key.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

func scanTable(t scan.Target) (table, parent string, err error) {
	switch t {
	case scan.TargetPR:
		return "pr_scans", "pr_id", nil
	case scan.TargetLiveCommit:
		return "live_commit_scans", "live_commit_id", nil
	}
	return "", "", fmt.Errorf("%w: unknown scan target %q", shared.ErrValidation, t)
}

func scanColumns(parent string) string {
	return `id, ` + parent + `, repository_id, vc_id, webhook_config_id, scan_type, status, block_status,
		findings, blocking_findings, new_findings, status_url, event, error,
		started_at, completed_at, created_at, updated_at`
}

func scanScan(target scan.Target, row rowScanner) (*scan.Scan, error) {
	d := scan.Data{Target: target}
	var scanType, status string
	var event []byte
	var started, completed sql.NullTime
	if err := row.Scan(
		&d.ID, &d.ParentID, &d.RepositoryID, &d.VCID, &d.WebhookConfigID, &scanType, &status, &d.BlockStatus,
		&d.Outcome.Findings, &d.Outcome.Blocking, &d.Outcome.New, &d.StatusURL, &event, &d.Error,
		&started, &completed, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.ScanType = scan.Type(scanType)
	d.Status = scan.Status(status)
	d.Event = event
	d.StartedAt = nullTimeValue(started)
	d.CompletedAt = nullTimeValue(completed)
	return scan.Reconstitute(d), nil
}

func (r *ScanRepository) insert(ctx context.Context, s *scan.Scan, onConflict string) (bool, error) {
	table, parent, err := scanTable(s.Target())
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO ` + table + ` (` + scanColumns(parent) + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		` + onConflict + `
		RETURNING id`

	o := s.Outcome()
	var id shared.ID
	err = r.db.QueryRowContext(ctx, query,
		s.ID(), s.ParentID(), s.RepositoryID(), s.VCID(), s.WebhookConfigID(), string(s.Type()), string(s.Status()),
		s.BlockStatus(), o.Findings, o.Blocking, o.New, s.StatusURL(), nullBytes(s.Event()), s.Error(),
		nullTime(s.StartedAt()), nullTime(s.CompletedAt()), s.CreatedAt(), s.UpdatedAt(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", table, err)
	}
	return true, nil
}

// Create stores a new scan.
func (r *ScanRepository) Create(ctx context.Context, s *scan.Scan) error {
	_, err := r.insert(ctx, s, "")
	return err
}

// GetOrCreate stores s unless a live-commit scan of the same type already exists,
// in which case the stored scan is returned. PR scans are always created.
func (r *ScanRepository) GetOrCreate(ctx context.Context, s *scan.Scan) (*scan.Scan, bool, error) {
	if s.Target() != scan.TargetLiveCommit {
		if err := r.Create(ctx, s); err != nil {
			return nil, false, err
		}
		return s, true, nil
	}

	created, err := r.insert(ctx, s, "ON CONFLICT (live_commit_id, scan_type) DO NOTHING")
	if err != nil {
		return nil, false, err
	}
	if created {
		return s, true, nil
	}

	query := `SELECT ` + scanColumns("live_commit_id") + ` FROM live_commit_scans WHERE live_commit_id = $1 AND scan_type = $2`
	existing, err := scanScan(scan.TargetLiveCommit, r.db.QueryRowContext(ctx, query, s.ParentID(), string(s.Type())))
	if err != nil {
		return nil, false, notFound(err, ErrScanNotFound)
	}
	return existing, false, nil
}

// Update saves status, outcome and delivery context.
func (r *ScanRepository) Update(ctx context.Context, s *scan.Scan) error {
	table, _, err := scanTable(s.Target())
	if err != nil {
		return err
	}
	query := `
		UPDATE ` + table + `
		SET webhook_config_id = $2, status = $3, block_status = $4, findings = $5, blocking_findings = $6,
		    new_findings = $7, status_url = $8, event = $9, error = $10, started_at = $11,
		    completed_at = $12, updated_at = $13
		WHERE id = $1`

	o := s.Outcome()
	res, err := r.db.ExecContext(ctx, query,
		s.ID(), s.WebhookConfigID(), string(s.Status()), s.BlockStatus(), o.Findings, o.Blocking,
		o.New, s.StatusURL(), nullBytes(s.Event()), s.Error(), nullTime(s.StartedAt()),
		nullTime(s.CompletedAt()), s.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScanNotFound
	}
	return nil
}

// GetByID returns a scan by target and id.
func (r *ScanRepository) GetByID(ctx context.Context, target scan.Target, id shared.ID) (*scan.Scan, error) {
	table, parent, err := scanTable(target)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + scanColumns(parent) + ` FROM ` + table + ` WHERE id = $1`
	s, err := scanScan(target, r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, ErrScanNotFound)
	}
	return s, nil
}
