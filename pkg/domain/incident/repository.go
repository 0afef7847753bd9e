package incident

import (
	"context"
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrIncidentNotFound is returned when an incident is not found.
var ErrIncidentNotFound = fmt.Errorf("%w: incident not found", shared.ErrNotFound)

// Repository persists incidents with their children. Incident creation happens only
// inside the finding store's insert transaction.
type Repository interface {
	GetByID(ctx context.Context, id shared.ID) (*Incident, error)
	// UpdateStatus saves the incident and appends the activity atomically.
	UpdateStatus(ctx context.Context, inc *Incident, a *Activity) error
	// AddComment stores the comment and its activity atomically.
	AddComment(ctx context.Context, c *Comment, a *Activity) error
	ListActivities(ctx context.Context, incidentID shared.ID) ([]*Activity, error)
	ListComments(ctx context.Context, incidentID shared.ID) ([]*Comment, error)
}
