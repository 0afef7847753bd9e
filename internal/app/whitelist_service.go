package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/whitelist"
	"github.com/openctemio/scangate/pkg/logger"
)

// WhitelistService manages whitelist rules. Every mutation is reconciled against the
// stored findings and the affected PR statuses are republished asynchronously.
type WhitelistService struct {
	rules      whitelist.Repository
	reconciler whitelist.Reconciler
	enqueuer   Enqueuer
	logger     *logger.Logger
}

// NewWhitelistService creates a WhitelistService.
func NewWhitelistService(rules whitelist.Repository, reconciler whitelist.Reconciler, enqueuer Enqueuer, log *logger.Logger) *WhitelistService {
	return &WhitelistService{
		rules:      rules,
		reconciler: reconciler,
		enqueuer:   enqueuer,
		logger:     log.With("service", "whitelist"),
	}
}

// CreateWhitelistInput represents input for creating a rule.
type CreateWhitelistInput struct {
	Type    string      `json:"type" validate:"required,whitelist_type"`
	Name    *string     `json:"name" validate:"omitempty,max=1000"`
	Repos   []shared.ID `json:"repos" validate:"max=500"`
	VCs     []shared.ID `json:"vcs" validate:"max=100"`
	Global  bool        `json:"global"`
	Comment string      `json:"comment" validate:"max=2000"`
}

// UpdateWhitelistInput is a partial update. Absent fields are unchanged.
type UpdateWhitelistInput struct {
	Name      *string      `json:"name" validate:"omitempty,max=1000"`
	ClearName bool         `json:"clear_name"`
	Repos     *[]shared.ID `json:"repos"`
	VCs       *[]shared.ID `json:"vcs"`
	Global    *bool        `json:"global"`
	Active    *bool        `json:"active"`
}

// ListWhitelistsInput filters List.
type ListWhitelistsInput struct {
	Type         string `validate:"omitempty,whitelist_type"`
	Active       *bool
	Global       *bool
	Name         string
	RepositoryID string `validate:"omitempty,uuid"`
	VCID         string `validate:"omitempty,uuid"`
	Limit        int    `validate:"min=0,max=200"`
	Offset       int    `validate:"min=0"`
}

// Create stores a new rule and applies it to existing findings.
func (s *WhitelistService) Create(ctx context.Context, in CreateWhitelistInput, actor string) (*whitelist.Rule, *whitelist.ReconcileResult, error) {
	rule, err := whitelist.NewRule(whitelist.Type(strings.ToUpper(in.Type)), in.Name, in.Repos, in.VCs, in.Global, actor)
	if err != nil {
		return nil, nil, err
	}
	change := whitelist.Change{Rule: rule, New: true}
	if in.Comment != "" {
		c, err := rule.AddComment(in.Comment, actor)
		if err != nil {
			return nil, nil, err
		}
		change.Comment = &c
	}

	res, err := s.save(ctx, change, actor)
	if err != nil {
		return nil, nil, err
	}
	s.logger.WithContext(ctx).Info("whitelist rule created",
		"rule_id", rule.ID().String(),
		"type", string(rule.Type()),
		"global", rule.IsGlobal(),
		"actor", actor,
	)
	return rule, res, nil
}

// Update applies a patch and reconciles. Deactivating a rule releases its findings
// and reopens incidents it closed.
func (s *WhitelistService) Update(ctx context.Context, id string, in UpdateWhitelistInput, actor string) (*whitelist.Rule, *whitelist.ReconcileResult, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := rule.Apply(whitelist.Patch{
		Name:      in.Name,
		ClearName: in.ClearName,
		Repos:     in.Repos,
		VCs:       in.VCs,
		Global:    in.Global,
		Active:    in.Active,
	}, actor); err != nil {
		return nil, nil, err
	}

	res, err := s.save(ctx, whitelist.Change{Rule: rule}, actor)
	if err != nil {
		return nil, nil, err
	}
	s.logger.WithContext(ctx).Info("whitelist rule updated",
		"rule_id", rule.ID().String(),
		"active", rule.IsActive(),
		"actor", actor,
	)
	return rule, res, nil
}

// Get returns a rule by id.
func (s *WhitelistService) Get(ctx context.Context, id string) (*whitelist.Rule, error) {
	ruleID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid whitelist id", shared.ErrValidation)
	}
	return s.rules.GetByID(ctx, ruleID)
}

// List returns rules matching the filter and the total count.
func (s *WhitelistService) List(ctx context.Context, in ListWhitelistsInput) ([]*whitelist.Rule, int64, error) {
	f := whitelist.Filter{
		Active: in.Active,
		Global: in.Global,
		Limit:  in.Limit,
		Offset: in.Offset,
	}
	if in.Type != "" {
		t := whitelist.Type(strings.ToUpper(in.Type))
		f.Type = &t
	}
	if in.Name != "" {
		f.Name = &in.Name
	}
	if in.RepositoryID != "" {
		id, err := shared.IDFromString(in.RepositoryID)
		if err != nil {
			return nil, 0, err
		}
		f.RepositoryID = &id
	}
	if in.VCID != "" {
		id, err := shared.IDFromString(in.VCID)
		if err != nil {
			return nil, 0, err
		}
		f.VCID = &id
	}
	if f.Limit == 0 {
		f.Limit = 50
	}
	return s.rules.List(ctx, f)
}

// AddComment appends a note to a rule.
func (s *WhitelistService) AddComment(ctx context.Context, id, text, actor string) (whitelist.Comment, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return whitelist.Comment{}, err
	}
	c, err := rule.AddComment(text, actor)
	if err != nil {
		return whitelist.Comment{}, err
	}
	if err := s.rules.AddComment(ctx, rule.ID(), c); err != nil {
		return whitelist.Comment{}, err
	}
	return c, nil
}

// save commits the rule write and its reconciliation together, then queues the
// status republish of every affected PR scan.
func (s *WhitelistService) save(ctx context.Context, change whitelist.Change, actor string) (*whitelist.ReconcileResult, error) {
	rule := change.Rule
	log := s.logger.WithContext(ctx).With("rule_id", rule.ID().String())

	res, err := s.reconciler.Save(ctx, change, actor)
	if err != nil {
		log.Error("whitelist rule not saved", "error", err)
		return nil, fmt.Errorf("failed to save whitelist rule: %w", err)
	}
	metrics.WhitelistReconcileTotal.WithLabelValues("tagged").Add(float64(res.Tagged))
	metrics.WhitelistReconcileTotal.WithLabelValues("untagged").Add(float64(res.Untagged))
	metrics.WhitelistReconcileTotal.WithLabelValues("incident_closed").Add(float64(len(res.ClosedIncidents)))
	metrics.WhitelistReconcileTotal.WithLabelValues("incident_reopened").Add(float64(len(res.ReopenedIncidents)))

	for _, scanID := range res.AffectedPRScans {
		err := s.enqueuer.EnqueueWhitelistRepublish(ctx, jobs.WhitelistRepublishPayload{
			CorrelationID: logger.CorrelationID(ctx),
			PRScanID:      scanID.String(),
			RuleID:        rule.ID().String(),
		})
		if err != nil {
			log.Warn("failed to enqueue status republish", "scan_id", scanID.String(), "error", err)
		}
	}
	log.Info("whitelist reconciled",
		"tagged", res.Tagged,
		"untagged", res.Untagged,
		"closed_incidents", len(res.ClosedIncidents),
		"reopened_incidents", len(res.ReopenedIncidents),
		"affected_pr_scans", len(res.AffectedPRScans),
	)
	return &res, nil
}
