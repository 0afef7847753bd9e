package whitelist

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

func strPtr(s string) *string { return &s }

func TestNewRule_Validation(t *testing.T) {
	repo := shared.NewID()
	tests := []struct {
		name    string
		ruleTyp Type
		ruleNm  *string
		repos   []shared.ID
		global  bool
		wantErr bool
	}{
		{"global with name", TypeSecret, strPtr("AKIA123"), nil, true, false},
		{"global without name", TypeSecret, nil, nil, true, true},
		{"global with blank name", TypeSecret, strPtr("  "), nil, true, true},
		{"scoped blanket", TypeSecret, nil, []shared.ID{repo}, false, false},
		{"no scope", TypeVulnerability, strPtr("CVE-1"), nil, false, true},
		{"bad type", Type("OTHER"), strPtr("x"), nil, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.ruleTyp, tt.ruleNm, tt.repos, nil, tt.global, "admin")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, shared.ErrValidation))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRule_Match(t *testing.T) {
	repo, otherRepo, vc := shared.NewID(), shared.NewID(), shared.NewID()
	subject := Subject{Name: "AKIA123", RepositoryID: repo, VCID: vc}

	global, _ := NewRule(TypeSecret, strPtr("AKIA123"), nil, nil, true, "a")
	scoped, _ := NewRule(TypeSecret, strPtr("AKIA123"), nil, []shared.ID{vc}, false, "a")
	blanket, _ := NewRule(TypeSecret, nil, []shared.ID{repo}, nil, false, "a")
	elsewhere, _ := NewRule(TypeSecret, nil, []shared.ID{otherRepo}, nil, false, "a")
	otherName, _ := NewRule(TypeSecret, strPtr("ghp_zzz"), nil, nil, true, "a")

	assert.Equal(t, TierGlobalName, global.Match(subject))
	assert.Equal(t, TierScopedName, scoped.Match(subject))
	assert.Equal(t, TierScopedBlanket, blanket.Match(subject))
	assert.Equal(t, TierNone, elsewhere.Match(subject))
	assert.Equal(t, TierNone, otherName.Match(subject))

	inactive := false
	require.NoError(t, global.Apply(Patch{Active: &inactive}, "a"))
	assert.False(t, global.Matches(subject))
}

func TestRule_MatchVulnerabilityAlias(t *testing.T) {
	repo := shared.NewID()
	r, _ := NewRule(TypeVulnerability, strPtr("CVE-2024-1"), []shared.ID{repo}, nil, false, "a")

	assert.True(t, r.Matches(Subject{Name: "GHSA-abcd", Aliases: []string{"CVE-2024-1"}, RepositoryID: repo}))
	assert.False(t, r.Matches(Subject{Name: "GHSA-abcd", RepositoryID: repo}))
}

func TestResolve_Precedence(t *testing.T) {
	repo := shared.NewID()
	s := Subject{Name: "tok", RepositoryID: repo}

	blanket, _ := NewRule(TypeSecret, nil, []shared.ID{repo}, nil, false, "a")
	scoped, _ := NewRule(TypeSecret, strPtr("tok"), []shared.ID{repo}, nil, false, "a")
	global, _ := NewRule(TypeSecret, strPtr("tok"), nil, nil, true, "a")

	assert.Same(t, global, Resolve([]*Rule{blanket, scoped, global}, s))
	assert.Same(t, scoped, Resolve([]*Rule{blanket, scoped}, s))
	assert.Same(t, blanket, Resolve([]*Rule{blanket}, s))
	assert.Nil(t, Resolve(nil, s))

	older := ReconstituteRule(RuleData{ID: shared.NewID(), Type: TypeSecret, Repos: []shared.ID{repo},
		Active: true, CreatedAt: time.Now().Add(-time.Hour)})
	assert.Same(t, older, Resolve([]*Rule{blanket, older}, s))
}

func TestRule_ApplyRejectsInvalidPatch(t *testing.T) {
	r, err := NewRule(TypeSecret, strPtr("tok"), nil, nil, true, "a")
	require.NoError(t, err)

	err = r.Apply(Patch{ClearName: true}, "b")
	require.Error(t, err)
	assert.NotNil(t, r.Name(), "failed patch must not mutate the rule")
	assert.Equal(t, "a", r.UpdatedBy())
}

func TestRule_AddComment(t *testing.T) {
	r, _ := NewRule(TypeSecret, strPtr("tok"), nil, nil, true, "a")
	_, err := r.AddComment("  ", "a")
	assert.Error(t, err)

	c, err := r.AddComment("test fixture key", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Author)
	assert.Len(t, r.Comments(), 1)
}
