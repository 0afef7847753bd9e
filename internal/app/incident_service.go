package app

import (
	"context"
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/incident"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/logger"
)

// IncidentDetail is an incident with its audit trail.
type IncidentDetail struct {
	Incident   *incident.Incident
	Activities []*incident.Activity
	Comments   []*incident.Comment
}

// IncidentService handles user-driven incident changes.
type IncidentService struct {
	repo   incident.Repository
	logger *logger.Logger
}

// NewIncidentService creates an IncidentService.
func NewIncidentService(repo incident.Repository, log *logger.Logger) *IncidentService {
	return &IncidentService{repo: repo, logger: log.With("service", "incident")}
}

// Get returns an incident with its activities and comments.
func (s *IncidentService) Get(ctx context.Context, id string) (*IncidentDetail, error) {
	inc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	activities, err := s.repo.ListActivities(ctx, inc.ID())
	if err != nil {
		return nil, err
	}
	comments, err := s.repo.ListComments(ctx, inc.ID())
	if err != nil {
		return nil, err
	}
	return &IncidentDetail{Incident: inc, Activities: activities, Comments: comments}, nil
}

// UpdateStatus moves an incident to status on behalf of actor.
func (s *IncidentService) UpdateStatus(ctx context.Context, id, status, actor string) (*incident.Incident, error) {
	inc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := inc.ChangeStatus(incident.Status(status), actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, inc, a); err != nil {
		return nil, fmt.Errorf("failed to update incident status: %w", err)
	}
	s.logger.WithContext(ctx).Info("incident status changed",
		"incident_id", inc.ID().String(),
		"from", a.OldValue,
		"to", a.NewValue,
		"actor", actor,
	)
	return inc, nil
}

// AddComment attaches a comment to an incident.
func (s *IncidentService) AddComment(ctx context.Context, id, content, actor string) (*incident.Comment, error) {
	inc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	c, a, err := inc.AddComment(content, actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AddComment(ctx, c, a); err != nil {
		return nil, fmt.Errorf("failed to add incident comment: %w", err)
	}
	return c, nil
}

func (s *IncidentService) load(ctx context.Context, id string) (*incident.Incident, error) {
	incID, err := shared.IDFromString(id)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, incID)
}
