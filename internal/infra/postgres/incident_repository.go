package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/incident"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// IncidentRepository persists incidents, comments and activities.
type IncidentRepository struct {
	db *DB
}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository(db *DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// GetByID returns an incident by id.
func (r *IncidentRepository) GetByID(ctx context.Context, id shared.ID) (*incident.Incident, error) {
	query := `
		SELECT id, name, type, secret_id, vulnerability_id, status, closed_by, severity, created_at, updated_at
		FROM incidents WHERE id = $1`

	var d incident.Data
	var typ, status string
	var closedBy sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Name, &typ, &d.SecretID, &d.VulnerabilityID, &status, &closedBy, &d.Severity,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, incident.ErrIncidentNotFound)
	}
	d.Type = incident.Type(typ)
	d.Status = incident.Status(status)
	d.ClosedBy = incident.ClosedBy(closedBy.String)
	return incident.Reconstitute(d), nil
}

// UpdateStatus saves the incident status and appends the activity.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, inc *incident.Incident, a *incident.Activity) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE incidents SET status = $2, closed_by = $3, updated_at = $4 WHERE id = $1`,
			inc.ID(), string(inc.Status()), nullString(string(inc.ClosedBy())), inc.UpdatedAt())
		if err != nil {
			return fmt.Errorf("failed to update incident: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return incident.ErrIncidentNotFound
		}
		return insertActivity(ctx, tx, a)
	})
}

// AddComment stores a comment and its activity.
func (r *IncidentRepository) AddComment(ctx context.Context, c *incident.Comment, a *incident.Activity) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO incident_comments (id, incident_id, content, author, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.IncidentID, c.Content, c.Author, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert incident comment: %w", err)
		}
		return insertActivity(ctx, tx, a)
	})
}

// ListActivities returns the audit trail oldest first.
func (r *IncidentRepository) ListActivities(ctx context.Context, incidentID shared.ID) ([]*incident.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, incident_id, action, old_value, new_value, actor, comment_id, created_at
		FROM activities WHERE incident_id = $1 ORDER BY created_at, id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []*incident.Activity
	for rows.Next() {
		a := &incident.Activity{}
		var action string
		if err := rows.Scan(&a.ID, &a.IncidentID, &action, &a.OldValue, &a.NewValue, &a.Actor, &a.CommentID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Action = incident.Action(action)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListComments returns comments oldest first.
func (r *IncidentRepository) ListComments(ctx context.Context, incidentID shared.ID) ([]*incident.Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, incident_id, content, author, created_at
		FROM incident_comments WHERE incident_id = $1 ORDER BY created_at, id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident comments: %w", err)
	}
	defer rows.Close()

	var out []*incident.Comment
	for rows.Next() {
		c := &incident.Comment{}
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.Content, &c.Author, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
