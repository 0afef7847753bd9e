package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/incident"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrFindingNotFound is returned when a secret or vulnerability is missing.
var ErrFindingNotFound = fmt.Errorf("%w: finding not found", shared.ErrNotFound)

// FindingRepository stores secrets and vulnerabilities deduplicated by natural_key_hash.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// attachQuery fills null cross-links and upgrades the whitelist tag of an existing row.
// A row that is already whitelisted keeps its rule.
const attachQuery = `
	UPDATE %s SET
		vc_id               = COALESCE(vc_id, $2),
		repository_id       = COALESCE(repository_id, $3),
		pr_id               = COALESCE(pr_id, $4),
		pr_scan_id          = COALESCE(pr_scan_id, $5),
		live_commit_id      = COALESCE(live_commit_id, $6),
		live_commit_scan_id = COALESCE(live_commit_scan_id, $7),
		whitelisted         = whitelisted OR $8,
		whitelist_id        = CASE WHEN whitelisted THEN whitelist_id ELSE $9::uuid END,
		updated_at          = NOW()
	WHERE natural_key_hash = $1
	RETURNING id, whitelisted`

func attach(ctx context.Context, tx *sql.Tx, table, hash string, vcID shared.ID, l finding.Links, whitelisted bool, ruleID shared.ID) (finding.UpsertResult, error) {
	res := finding.UpsertResult{}
	err := tx.QueryRowContext(ctx, fmt.Sprintf(attachQuery, table), hash, vcID,
		l.RepositoryID, l.PRID, l.PRScanID, l.LiveCommitID, l.LiveCommitScanID, whitelisted, ruleID,
	).Scan(&res.ID, &res.Whitelisted)
	if err != nil {
		return res, fmt.Errorf("failed to attach %s: %w", table, err)
	}
	return res, nil
}

func insertIncident(ctx context.Context, tx *sql.Tx, inc *incident.Incident) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO incidents (id, name, type, secret_id, vulnerability_id, status, severity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inc.ID(), inc.Name(), string(inc.Type()), inc.SecretID(), inc.VulnerabilityID(),
		string(inc.Status()), inc.Severity(), inc.CreatedAt(), inc.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return insertActivity(ctx, tx, inc.OpenedActivity())
}

func insertActivity(ctx context.Context, tx *sql.Tx, a *incident.Activity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, incident_id, action, old_value, new_value, actor, comment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.IncidentID, string(a.Action), a.OldValue, a.NewValue, a.Actor, a.CommentID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// UpsertSecret inserts the secret or attaches to the stored row with the same natural key.
func (r *FindingRepository) UpsertSecret(ctx context.Context, s *finding.Secret) (finding.UpsertResult, error) {
	if s.ID.IsZero() {
		s.ID = shared.NewID()
	}
	hash := s.NaturalKey()
	var out finding.UpsertResult

	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO secrets (
				id, natural_key_hash, vc_id, repository_id, pr_id, pr_scan_id, live_commit_id, live_commit_scan_id,
				scan_type, secret, description, file, line, start_line, end_line, start_column, end_column,
				match_text, entropy, rule, fingerprint, commit_sha, author, email, message, date, tags,
				severity, whitelisted, whitelist_id
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
			ON CONFLICT (natural_key_hash) DO NOTHING
			RETURNING id`

		l := s.Links
		var id shared.ID
		err := tx.QueryRowContext(ctx, query,
			s.ID, hash, s.VCID, l.RepositoryID, l.PRID, l.PRScanID, l.LiveCommitID, l.LiveCommitScanID,
			string(s.Source), s.Secret, s.Description, s.File, s.Line, s.StartLine, s.EndLine, s.StartColumn, s.EndColumn,
			s.Match, s.Entropy, s.Rule, s.Fingerprint, s.Commit, s.Author, s.Email, s.Message, nullTime(s.Date),
			pq.Array(s.Tags), string(s.Severity), s.Whitelisted, s.WhitelistID,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			out, err = attach(ctx, tx, "secrets", hash, s.VCID, l, s.Whitelisted, s.WhitelistID)
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to insert secret: %w", err)
		}

		inc := incident.OpenForSecret(id, s.Name(), string(s.Severity))
		if err := insertIncident(ctx, tx, inc); err != nil {
			return err
		}
		out = finding.UpsertResult{ID: id, Inserted: true, Whitelisted: s.Whitelisted, IncidentID: inc.ID()}
		return nil
	})
	return out, err
}

// UpsertVulnerability inserts the vulnerability or attaches to the stored row with the same natural key.
func (r *FindingRepository) UpsertVulnerability(ctx context.Context, v *finding.Vulnerability) (finding.UpsertResult, error) {
	if v.ID.IsZero() {
		v.ID = shared.NewID()
	}
	hash := v.NaturalKey()
	var out finding.UpsertResult

	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO vulnerabilities (
				id, natural_key_hash, vc_id, repository_id, pr_id, pr_scan_id, live_commit_id, live_commit_scan_id,
				scan_type, vulnerability_id, cve_id, package_name, package_version, package_type, fix_versions,
				fix_state, description, data_source, commit_sha, author, severity, whitelisted, whitelist_id
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			        $21, $22, $23)
			ON CONFLICT (natural_key_hash) DO NOTHING
			RETURNING id`

		l := v.Links
		var id shared.ID
		err := tx.QueryRowContext(ctx, query,
			v.ID, hash, v.VCID, l.RepositoryID, l.PRID, l.PRScanID, l.LiveCommitID, l.LiveCommitScanID,
			string(v.Source), v.VulnerabilityID, v.CVEID, v.PackageName, v.PackageVersion, v.PackageType,
			pq.Array(v.FixVersions), v.FixState, v.Description, v.DataSource, v.Commit, v.Author,
			string(v.Severity), v.Whitelisted, v.WhitelistID,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			out, err = attach(ctx, tx, "vulnerabilities", hash, v.VCID, l, v.Whitelisted, v.WhitelistID)
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to insert vulnerability: %w", err)
		}

		inc := incident.OpenForVulnerability(id, v.Name(), string(v.Severity))
		if err := insertIncident(ctx, tx, inc); err != nil {
			return err
		}
		out = finding.UpsertResult{ID: id, Inserted: true, Whitelisted: v.Whitelisted, IncidentID: inc.ID()}
		return nil
	})
	return out, err
}

// GetSecret returns a secret by id.
func (r *FindingRepository) GetSecret(ctx context.Context, id shared.ID) (*finding.Secret, error) {
	query := `
		SELECT id, vc_id, repository_id, pr_id, pr_scan_id, live_commit_id, live_commit_scan_id, scan_type,
		       secret, description, file, line, start_line, end_line, start_column, end_column, match_text,
		       entropy, rule, fingerprint, commit_sha, author, email, message, date, tags, severity,
		       whitelisted, whitelist_id, created_at, updated_at
		FROM secrets WHERE id = $1`

	s := &finding.Secret{}
	var source, severity string
	var date sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.VCID, &s.Links.RepositoryID, &s.Links.PRID, &s.Links.PRScanID, &s.Links.LiveCommitID,
		&s.Links.LiveCommitScanID, &source, &s.Secret, &s.Description, &s.File, &s.Line, &s.StartLine,
		&s.EndLine, &s.StartColumn, &s.EndColumn, &s.Match, &s.Entropy, &s.Rule, &s.Fingerprint, &s.Commit,
		&s.Author, &s.Email, &s.Message, &date, pq.Array(&s.Tags), &severity, &s.Whitelisted, &s.WhitelistID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrFindingNotFound)
	}
	s.Source = finding.Source(source)
	s.Severity = finding.ParseSeverity(severity)
	s.Date = nullTimeValue(date)
	return s, nil
}

// GetVulnerability returns a vulnerability by id.
func (r *FindingRepository) GetVulnerability(ctx context.Context, id shared.ID) (*finding.Vulnerability, error) {
	query := `
		SELECT id, vc_id, repository_id, pr_id, pr_scan_id, live_commit_id, live_commit_scan_id, scan_type,
		       vulnerability_id, cve_id, package_name, package_version, package_type, fix_versions, fix_state,
		       description, data_source, commit_sha, author, severity, whitelisted, whitelist_id,
		       created_at, updated_at
		FROM vulnerabilities WHERE id = $1`

	v := &finding.Vulnerability{}
	var source, severity string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.VCID, &v.Links.RepositoryID, &v.Links.PRID, &v.Links.PRScanID, &v.Links.LiveCommitID,
		&v.Links.LiveCommitScanID, &source, &v.VulnerabilityID, &v.CVEID, &v.PackageName, &v.PackageVersion,
		&v.PackageType, pq.Array(&v.FixVersions), &v.FixState, &v.Description, &v.DataSource, &v.Commit,
		&v.Author, &severity, &v.Whitelisted, &v.WhitelistID, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, ErrFindingNotFound)
	}
	v.Source = finding.Source(source)
	v.Severity = finding.ParseSeverity(severity)
	return v, nil
}

// CountOpenForPR counts the non-whitelisted findings linked to a PR.
func (r *FindingRepository) CountOpenForPR(ctx context.Context, prID shared.ID) (finding.PRCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM secrets WHERE pr_id = $1 AND NOT whitelisted),
			(SELECT COUNT(*) FROM vulnerabilities WHERE pr_id = $1 AND NOT whitelisted),
			(SELECT COUNT(*) FROM vulnerabilities WHERE pr_id = $1 AND NOT whitelisted
			    AND severity IN ('critical', 'high'))`

	var c finding.PRCounts
	if err := r.db.QueryRowContext(ctx, query, prID).Scan(&c.Secrets, &c.Vulnerabilities, &c.BlockingVulnerabilities); err != nil {
		return c, fmt.Errorf("failed to count pr findings: %w", err)
	}
	return c, nil
}
