package scan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Scan is one detector run attached to a PR (PRScan) or a pushed commit (LiveCommitScan).
type Scan struct {
	id              shared.ID
	target          Target
	parentID        shared.ID // PR id or live commit id
	repositoryID    shared.ID
	vcID            shared.ID
	webhookConfigID shared.ID
	scanType        Type

	status      Status
	blockStatus bool
	outcome     Outcome
	statusURL   string
	event       json.RawMessage
	errorMsg    string

	startedAt   *time.Time
	completedAt *time.Time
	createdAt   time.Time
	updatedAt   time.Time
}

// NewScan creates a pending scan.
func NewScan(target Target, parentID, repositoryID, vcID shared.ID, scanType Type) (*Scan, error) {
	if target != TargetPR && target != TargetLiveCommit {
		return nil, fmt.Errorf("%w: invalid scan target %q", shared.ErrValidation, target)
	}
	if parentID.IsZero() {
		return nil, fmt.Errorf("%w: scan parent id is required", shared.ErrValidation)
	}
	if !scanType.IsValid() {
		return nil, fmt.Errorf("%w: invalid scan type %q", shared.ErrValidation, scanType)
	}
	now := time.Now().UTC()
	return &Scan{
		id:           shared.NewID(),
		target:       target,
		parentID:     parentID,
		repositoryID: repositoryID,
		vcID:         vcID,
		scanType:     scanType,
		status:       StatusPending,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// Data holds persisted scan fields.
type Data struct {
	ID              shared.ID
	Target          Target
	ParentID        shared.ID
	RepositoryID    shared.ID
	VCID            shared.ID
	WebhookConfigID shared.ID
	ScanType        Type
	Status          Status
	BlockStatus     bool
	Outcome         Outcome
	StatusURL       string
	Event           json.RawMessage
	Error           string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Reconstitute recreates a Scan from persistence.
func Reconstitute(d Data) *Scan {
	return &Scan{
		id:              d.ID,
		target:          d.Target,
		parentID:        d.ParentID,
		repositoryID:    d.RepositoryID,
		vcID:            d.VCID,
		webhookConfigID: d.WebhookConfigID,
		scanType:        d.ScanType,
		status:          d.Status,
		blockStatus:     d.BlockStatus,
		outcome:         d.Outcome,
		statusURL:       d.StatusURL,
		event:           d.Event,
		errorMsg:        d.Error,
		startedAt:       d.StartedAt,
		completedAt:     d.CompletedAt,
		createdAt:       d.CreatedAt,
		updatedAt:       d.UpdatedAt,
	}
}

func (s *Scan) ID() shared.ID              { return s.id }
func (s *Scan) Target() Target             { return s.target }
func (s *Scan) ParentID() shared.ID        { return s.parentID }
func (s *Scan) RepositoryID() shared.ID    { return s.repositoryID }
func (s *Scan) VCID() shared.ID            { return s.vcID }
func (s *Scan) WebhookConfigID() shared.ID { return s.webhookConfigID }
func (s *Scan) Type() Type                 { return s.scanType }
func (s *Scan) Status() Status             { return s.status }
func (s *Scan) BlockStatus() bool          { return s.blockStatus }
func (s *Scan) Outcome() Outcome           { return s.outcome }
func (s *Scan) StatusURL() string          { return s.statusURL }
func (s *Scan) Event() json.RawMessage     { return s.event }
func (s *Scan) Error() string              { return s.errorMsg }
func (s *Scan) StartedAt() *time.Time      { return s.startedAt }
func (s *Scan) CompletedAt() *time.Time    { return s.completedAt }
func (s *Scan) CreatedAt() time.Time       { return s.createdAt }
func (s *Scan) UpdatedAt() time.Time       { return s.updatedAt }

// Attach records the delivery context used later to republish status.
func (s *Scan) Attach(webhookConfigID shared.ID, statusURL string, event json.RawMessage) {
	s.webhookConfigID = webhookConfigID
	s.statusURL = statusURL
	s.event = event
	s.updatedAt = time.Now().UTC()
}

func (s *Scan) transition(next Status) error {
	if !s.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: scan %s cannot move from %s to %s", shared.ErrInvalidState, s.id, s.status, next)
	}
	s.status = next
	s.updatedAt = time.Now().UTC()
	return nil
}

// Start moves the scan to processing.
func (s *Scan) Start() error {
	if err := s.transition(StatusProcessing); err != nil {
		return err
	}
	now := s.updatedAt
	s.startedAt = &now
	return nil
}

// Complete moves the scan to completed and derives block_status from the policy.
// This is the only place block_status is written.
func (s *Scan) Complete(o Outcome, p Policy) error {
	if err := s.transition(StatusCompleted); err != nil {
		return err
	}
	s.outcome = o
	s.blockStatus = p.Blocks(s.scanType, o)
	now := s.updatedAt
	s.completedAt = &now
	return nil
}

// Fail moves the scan to failed. Block status stays false.
func (s *Scan) Fail(reason string) error {
	if err := s.transition(StatusFailed); err != nil {
		return err
	}
	s.errorMsg = reason
	now := s.updatedAt
	s.completedAt = &now
	return nil
}
