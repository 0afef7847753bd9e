// Package whitelist provides rules that suppress findings from blocking and incident escalation.
package whitelist

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Type is the finding kind a rule applies to.
type Type string

const (
	TypeSecret        Type = "SECRET"
	TypeVulnerability Type = "VULNERABILITY"
)

// IsValid checks if the rule type is valid.
func (t Type) IsValid() bool {
	return t == TypeSecret || t == TypeVulnerability
}

// Tier is the resolution precedence of a match; lower wins. TierNone means no match.
type Tier int

const (
	TierNone Tier = iota
	TierGlobalName
	TierScopedName
	TierScopedBlanket
)

// Subject is the finding a rule is evaluated against.
type Subject struct {
	Name         string
	Aliases      []string
	RepositoryID shared.ID
	VCID         shared.ID
}

func (s Subject) hasName(name string) bool {
	return s.Name == name || slices.Contains(s.Aliases, name)
}

// Comment is a note attached to a rule.
type Comment struct {
	ID        shared.ID
	Text      string
	Author    string
	CreatedAt time.Time
}

// Rule suppresses findings by identity value and/or scope.
type Rule struct {
	id        shared.ID
	ruleType  Type
	name      *string
	repos     []shared.ID
	vcs       []shared.ID
	global    bool
	active    bool
	comments  []Comment
	createdBy string
	updatedBy string
	createdAt time.Time
	updatedAt time.Time
}

// NewRule creates a new whitelist rule.
func NewRule(ruleType Type, name *string, repos, vcs []shared.ID, global bool, createdBy string) (*Rule, error) {
	now := time.Now().UTC()
	r := &Rule{
		id:        shared.NewID(),
		ruleType:  ruleType,
		name:      normalizeName(name),
		repos:     repos,
		vcs:       vcs,
		global:    global,
		active:    true,
		createdBy: createdBy,
		updatedBy: createdBy,
		createdAt: now,
		updatedAt: now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func normalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	v := strings.TrimSpace(*name)
	if v == "" {
		return nil
	}
	return &v
}

// Validate checks the rule invariants.
func (r *Rule) Validate() error {
	if !r.ruleType.IsValid() {
		return fmt.Errorf("%w: invalid whitelist type %q", shared.ErrValidation, r.ruleType)
	}
	if r.global && r.name == nil {
		return fmt.Errorf("%w: global whitelist requires a name", shared.ErrValidation)
	}
	if !r.global && len(r.repos) == 0 && len(r.vcs) == 0 {
		return fmt.Errorf("%w: non-global whitelist requires repos or vcs", shared.ErrValidation)
	}
	return nil
}

// RuleData contains data for reconstituting a rule from persistence.
type RuleData struct {
	ID        shared.ID
	Type      Type
	Name      *string
	Repos     []shared.ID
	VCs       []shared.ID
	Global    bool
	Active    bool
	Comments  []Comment
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReconstituteRule creates a rule from persisted data.
func ReconstituteRule(d RuleData) *Rule {
	return &Rule{
		id:        d.ID,
		ruleType:  d.Type,
		name:      d.Name,
		repos:     d.Repos,
		vcs:       d.VCs,
		global:    d.Global,
		active:    d.Active,
		comments:  d.Comments,
		createdBy: d.CreatedBy,
		updatedBy: d.UpdatedBy,
		createdAt: d.CreatedAt,
		updatedAt: d.UpdatedAt,
	}
}

// Getters
func (r *Rule) ID() shared.ID        { return r.id }
func (r *Rule) Type() Type           { return r.ruleType }
func (r *Rule) Name() *string        { return r.name }
func (r *Rule) Repos() []shared.ID   { return r.repos }
func (r *Rule) VCs() []shared.ID     { return r.vcs }
func (r *Rule) IsGlobal() bool       { return r.global }
func (r *Rule) IsActive() bool       { return r.active }
func (r *Rule) Comments() []Comment  { return r.comments }
func (r *Rule) CreatedBy() string    { return r.createdBy }
func (r *Rule) UpdatedBy() string    { return r.updatedBy }
func (r *Rule) CreatedAt() time.Time { return r.createdAt }
func (r *Rule) UpdatedAt() time.Time { return r.updatedAt }

// Patch is a partial update. Nil fields are left unchanged; ClearName drops the name.
type Patch struct {
	Name      *string
	ClearName bool
	Repos     *[]shared.ID
	VCs       *[]shared.ID
	Global    *bool
	Active    *bool
}

// Apply mutates the rule and re-validates. On error the rule is left unchanged.
func (r *Rule) Apply(p Patch, actor string) error {
	next := *r
	if p.ClearName {
		next.name = nil
	} else if p.Name != nil {
		next.name = normalizeName(p.Name)
	}
	if p.Repos != nil {
		next.repos = *p.Repos
	}
	if p.VCs != nil {
		next.vcs = *p.VCs
	}
	if p.Global != nil {
		next.global = *p.Global
	}
	if p.Active != nil {
		next.active = *p.Active
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.updatedBy = actor
	next.updatedAt = time.Now().UTC()
	*r = next
	return nil
}

// AddComment appends a note.
func (r *Rule) AddComment(text, author string) (Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Comment{}, fmt.Errorf("%w: comment text is required", shared.ErrValidation)
	}
	c := Comment{ID: shared.NewID(), Text: text, Author: author, CreatedAt: time.Now().UTC()}
	r.comments = append(r.comments, c)
	return c, nil
}

func (r *Rule) inScope(s Subject) bool {
	if !s.RepositoryID.IsZero() && slices.ContainsFunc(r.repos, s.RepositoryID.Equals) {
		return true
	}
	return !s.VCID.IsZero() && slices.ContainsFunc(r.vcs, s.VCID.Equals)
}

// Match returns the tier at which this rule suppresses the subject.
func (r *Rule) Match(s Subject) Tier {
	if !r.active {
		return TierNone
	}
	if r.name != nil {
		if !s.hasName(*r.name) {
			return TierNone
		}
		if r.global {
			return TierGlobalName
		}
		if r.inScope(s) {
			return TierScopedName
		}
		return TierNone
	}
	if r.inScope(s) {
		return TierScopedBlanket
	}
	return TierNone
}

// Matches reports whether the rule suppresses the subject.
func (r *Rule) Matches(s Subject) bool {
	return r.Match(s) != TierNone
}

// Resolve returns the winning rule for the subject, or nil. Ties within a tier go to the oldest rule.
func Resolve(rules []*Rule, s Subject) *Rule {
	var (
		best     *Rule
		bestTier Tier
	)
	for _, r := range rules {
		tier := r.Match(s)
		if tier == TierNone {
			continue
		}
		if best == nil || tier < bestTier || (tier == bestTier && r.createdAt.Before(best.createdAt)) {
			best, bestTier = r, tier
		}
	}
	return best
}
