package app

import (
	"context"
	"fmt"

	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ScanQueryService reads PR and live-commit scan state.
type ScanQueryService struct {
	scans scan.Repository
}

// NewScanQueryService creates a ScanQueryService.
func NewScanQueryService(scans scan.Repository) *ScanQueryService {
	return &ScanQueryService{scans: scans}
}

// Get returns the scan of the given target kind ("pr" or "live_commit").
func (s *ScanQueryService) Get(ctx context.Context, target, id string) (*scan.Scan, error) {
	t := scan.Target(target)
	if t != scan.TargetPR && t != scan.TargetLiveCommit {
		return nil, fmt.Errorf("%w: unknown scan target %q", shared.ErrValidation, target)
	}
	scanID, err := shared.IDFromString(id)
	if err != nil {
		return nil, err
	}
	return s.scans.GetByID(ctx, t, scanID)
}
