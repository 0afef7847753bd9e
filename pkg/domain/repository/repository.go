// Package repository holds source repositories known to a VC and their full scans.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrNotFound is returned when a repository or repository scan is missing.
var ErrNotFound = fmt.Errorf("%w: repository not found", shared.ErrNotFound)

// Repo is a repository under a VC. Identity is (vc_id, name).
type Repo struct {
	ID            shared.ID
	VCID          shared.ID
	Provider      event.Provider
	Name          string
	FullName      string
	CloneURL      string
	HTMLURL       string
	DefaultBranch string
	Author        string
	Details       json.RawMessage
	LastScanAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScanStatus is the state of a full repository scan.
type ScanStatus string

const (
	ScanPending    ScanStatus = "pending"
	ScanInProgress ScanStatus = "in_progress"
	ScanCompleted  ScanStatus = "completed"
	ScanFailed     ScanStatus = "failed"
)

// Scan is a full default-branch secret scan of a repository.
type Scan struct {
	ID          shared.ID
	RepoID      shared.ID
	VCID        shared.ID
	Status      ScanStatus
	Attempts    int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewScan creates a pending repository scan.
func NewScan(repoID, vcID shared.ID) *Scan {
	now := time.Now().UTC()
	return &Scan{
		ID:        shared.NewID(),
		RepoID:    repoID,
		VCID:      vcID,
		Status:    ScanPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Begin records a new attempt.
func (s *Scan) Begin() {
	now := time.Now().UTC()
	s.Status = ScanInProgress
	s.Attempts++
	s.StartedAt = &now
	s.UpdatedAt = now
}

// Finish marks the scan completed, or failed when err is non-nil.
func (s *Scan) Finish(err error) {
	now := time.Now().UTC()
	s.Status = ScanCompleted
	s.Error = ""
	if err != nil {
		s.Status = ScanFailed
		s.Error = err.Error()
	}
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Repository persists repositories and repository scans.
type Repository interface {
	// Upsert inserts by (vc_id, name) or returns the stored row; inserted reports which.
	Upsert(ctx context.Context, r *Repo) (*Repo, bool, error)
	GetByID(ctx context.Context, id shared.ID) (*Repo, error)
	GetByVCAndName(ctx context.Context, vcID shared.ID, name string) (*Repo, error)
	ListByVC(ctx context.Context, vcID shared.ID) ([]*Repo, error)
	TouchLastScan(ctx context.Context, id shared.ID, at time.Time) error

	CreateScan(ctx context.Context, s *Scan) error
	UpdateScan(ctx context.Context, s *Scan) error
	GetScan(ctx context.Context, id shared.ID) (*Scan, error)
	ListPendingScans(ctx context.Context, limit int) ([]*Scan, error)
}
