// Package incident tracks the lifecycle of a finding and its audit trail.
package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Status of an incident.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusClosed     Status = "closed"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// ClosedBy records who closed an incident.
type ClosedBy string

const (
	ClosedByUser    ClosedBy = "user"
	ClosedByProgram ClosedBy = "program"
)

// Type mirrors the finding kind the incident owns.
type Type string

const (
	TypeSecret        Type = "secret"
	TypeVulnerability Type = "vulnerability"
)

// Incident is 1:1 with exactly one finding.
type Incident struct {
	id              shared.ID
	name            string
	incidentType    Type
	secretID        shared.ID
	vulnerabilityID shared.ID
	status          Status
	closedBy        ClosedBy
	severity        string
	createdAt       time.Time
	updatedAt       time.Time
}

// OpenForSecret creates an OPEN incident for a newly inserted secret.
func OpenForSecret(secretID shared.ID, name, severity string) *Incident {
	return open(TypeSecret, name, severity, secretID, shared.ID{})
}

// OpenForVulnerability creates an OPEN incident for a newly inserted vulnerability.
func OpenForVulnerability(vulnID shared.ID, name, severity string) *Incident {
	return open(TypeVulnerability, name, severity, shared.ID{}, vulnID)
}

func open(t Type, name, severity string, secretID, vulnID shared.ID) *Incident {
	now := time.Now().UTC()
	return &Incident{
		id:              shared.NewID(),
		name:            name,
		incidentType:    t,
		secretID:        secretID,
		vulnerabilityID: vulnID,
		status:          StatusOpen,
		severity:        severity,
		createdAt:       now,
		updatedAt:       now,
	}
}

// Data holds persisted incident fields.
type Data struct {
	ID              shared.ID
	Name            string
	Type            Type
	SecretID        shared.ID
	VulnerabilityID shared.ID
	Status          Status
	ClosedBy        ClosedBy
	Severity        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Reconstitute recreates an incident from persistence.
func Reconstitute(d Data) *Incident {
	return &Incident{
		id:              d.ID,
		name:            d.Name,
		incidentType:    d.Type,
		secretID:        d.SecretID,
		vulnerabilityID: d.VulnerabilityID,
		status:          d.Status,
		closedBy:        d.ClosedBy,
		severity:        d.Severity,
		createdAt:       d.CreatedAt,
		updatedAt:       d.UpdatedAt,
	}
}

func (i *Incident) ID() shared.ID              { return i.id }
func (i *Incident) Name() string               { return i.name }
func (i *Incident) Type() Type                 { return i.incidentType }
func (i *Incident) SecretID() shared.ID        { return i.secretID }
func (i *Incident) VulnerabilityID() shared.ID { return i.vulnerabilityID }
func (i *Incident) Status() Status             { return i.status }
func (i *Incident) ClosedBy() ClosedBy         { return i.closedBy }
func (i *Incident) Severity() string           { return i.severity }
func (i *Incident) CreatedAt() time.Time       { return i.createdAt }
func (i *Incident) UpdatedAt() time.Time       { return i.updatedAt }

// OpenedActivity is the audit row written alongside a new incident.
func (i *Incident) OpenedActivity() *Activity {
	return newActivity(i.id, ActionOpened, "", string(StatusOpen), "", shared.ID{})
}

// ChangeStatus applies a user-driven transition and returns the activity to record.
func (i *Incident) ChangeStatus(next Status, actor string) (*Activity, error) {
	if !next.IsValid() {
		return nil, fmt.Errorf("%w: invalid incident status %q", shared.ErrValidation, next)
	}
	if next == i.status {
		return nil, fmt.Errorf("%w: incident is already %s", shared.ErrInvalidState, next)
	}
	old := i.status
	i.status = next
	if next == StatusClosed {
		i.closedBy = ClosedByUser
	} else {
		i.closedBy = ""
	}
	i.updatedAt = time.Now().UTC()
	return newActivity(i.id, actionFor(next), string(old), string(next), actor, shared.ID{}), nil
}

// AddComment creates a comment and its COMMENT_ADDED activity.
func (i *Incident) AddComment(content, actor string) (*Comment, *Activity, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, fmt.Errorf("%w: comment content is required", shared.ErrValidation)
	}
	c := &Comment{
		ID:         shared.NewID(),
		IncidentID: i.id,
		Content:    content,
		Author:     actor,
		CreatedAt:  time.Now().UTC(),
	}
	return c, newActivity(i.id, ActionCommentAdded, "", "", actor, c.ID), nil
}

func actionFor(s Status) Action {
	switch s {
	case StatusInProgress:
		return ActionInProgress
	case StatusClosed:
		return ActionClosed
	}
	return ActionOpened
}
