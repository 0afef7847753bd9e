package whitelist

import (
	"context"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Filter narrows List results.
type Filter struct {
	Type         *Type
	Active       *bool
	Global       *bool
	Name         *string
	RepositoryID *shared.ID
	VCID         *shared.ID
	Limit        int
	Offset       int
}

// Repository reads whitelist rules. Rule writes go through Reconciler.Save.
type Repository interface {
	GetByID(ctx context.Context, id shared.ID) (*Rule, error)
	List(ctx context.Context, f Filter) ([]*Rule, int64, error)
	AddComment(ctx context.Context, ruleID shared.ID, c Comment) error

	// Resolve returns the id of the winning active rule for the subject, or a zero ID.
	Resolve(ctx context.Context, t Type, s Subject) (shared.ID, error)
}

// ReconcileResult is what a reconciliation changed.
type ReconcileResult struct {
	Tagged            int
	Untagged          int
	ClosedIncidents   []shared.ID
	ReopenedIncidents []shared.ID
	AffectedPRScans   []shared.ID
}

// Change is a rule write. New inserts the rule, otherwise it is updated.
// Comment, when set, is stored with the rule.
type Change struct {
	Rule    *Rule
	New     bool
	Comment *Comment
}

// Reconciler stores a rule change and re-evaluates the rule against the finding
// population in the same transaction: tag new matches, untag stale ones, close
// incidents of newly whitelisted findings (closed_by=program) and reopen
// program-closed incidents of findings that lost the tag. Nothing is kept when
// any step fails.
type Reconciler interface {
	Save(ctx context.Context, c Change, actor string) (ReconcileResult, error)
}
