package finding

import (
	"context"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	ID          shared.ID
	Inserted    bool
	Whitelisted bool      // state of the stored row after the upsert
	IncidentID  shared.ID // set only when Inserted
}

// Repository stores findings keyed by natural_key_hash.
//
// Upsert is an atomic insert-or-fetch. A new row creates exactly one OPEN incident and one
// INCIDENT_OPENED activity in the same transaction. A hit fills null cross-links and
// upgrades the whitelist tag if the stored row is not yet whitelisted.
type Repository interface {
	UpsertSecret(ctx context.Context, s *Secret) (UpsertResult, error)
	UpsertVulnerability(ctx context.Context, v *Vulnerability) (UpsertResult, error)

	GetSecret(ctx context.Context, id shared.ID) (*Secret, error)
	GetVulnerability(ctx context.Context, id shared.ID) (*Vulnerability, error)

	// CountOpenForPR counts non-whitelisted secrets and blocking non-whitelisted
	// vulnerabilities (plus all non-whitelisted vulnerabilities) linked to a PR.
	CountOpenForPR(ctx context.Context, prID shared.ID) (PRCounts, error)
}

// PRCounts is the non-whitelisted finding population of a PR.
type PRCounts struct {
	Secrets                 int
	Vulnerabilities         int
	BlockingVulnerabilities int
}
