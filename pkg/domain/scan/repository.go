package scan

import (
	"context"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Repository persists PR scans and live-commit scans.
type Repository interface {
	Create(ctx context.Context, s *Scan) error
	// GetOrCreate returns the existing scan for (target, parent, type) or stores s.
	// Only live-commit scans are unique per parent; PR scans are one row per attempt.
	GetOrCreate(ctx context.Context, s *Scan) (*Scan, bool, error)
	Update(ctx context.Context, s *Scan) error
	GetByID(ctx context.Context, target Target, id shared.ID) (*Scan, error)
}
