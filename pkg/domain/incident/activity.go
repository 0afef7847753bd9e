package incident

import (
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Action is the kind of audit event.
type Action string

const (
	ActionOpened          Action = "INCIDENT_OPENED"
	ActionInProgress      Action = "INCIDENT_IN_PROGRESS"
	ActionClosed          Action = "INCIDENT_CLOSED"
	ActionCommentAdded    Action = "COMMENT_ADDED"
	ActionSeverityUpdated Action = "SEVERITY_UPDATED"
)

// ActorProgram is recorded when the system itself changes an incident.
const ActorProgram = "program"

// Activity is an append-only audit row. CommentID is a non-owning reference.
type Activity struct {
	ID         shared.ID `json:"id"`
	IncidentID shared.ID `json:"incident_id"`
	Action     Action    `json:"action"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	CommentID  shared.ID `json:"comment_id,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

func newActivity(incidentID shared.ID, a Action, oldV, newV, actor string, commentID shared.ID) *Activity {
	if actor == "" {
		actor = ActorProgram
	}
	return &Activity{
		ID:         shared.NewID(),
		IncidentID: incidentID,
		Action:     a,
		OldValue:   oldV,
		NewValue:   newV,
		Actor:      actor,
		CommentID:  commentID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Comment is owned by its incident.
type Comment struct {
	ID         shared.ID `json:"id"`
	IncidentID shared.ID `json:"incident_id"`
	Content    string    `json:"content"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProgramClosedActivity records an automatic close of an incident whose finding became whitelisted.
func ProgramClosedActivity(incidentID shared.ID, old Status) *Activity {
	return newActivity(incidentID, ActionClosed, string(old), string(StatusClosed), ActorProgram, shared.ID{})
}

// ProgramReopenedActivity records the reopen of a program-closed incident.
func ProgramReopenedActivity(incidentID shared.ID) *Activity {
	return newActivity(incidentID, ActionOpened, string(StatusClosed), string(StatusOpen), ActorProgram, shared.ID{})
}
