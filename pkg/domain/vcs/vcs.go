// Package vcs holds version-control connections and their webhook policy.
package vcs

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/scan"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// ErrNotFound is returned when a VC or its webhook config does not exist.
var ErrNotFound = fmt.Errorf("%w: version control not found", shared.ErrNotFound)

// VersionControl is a connection to one provider account or instance.
type VersionControl struct {
	ID           shared.ID
	Name         string
	Provider     event.Provider
	BaseURL      string // API base; empty means the provider's public cloud
	Username     string // Bitbucket basic auth user
	Token        string
	Active       bool
	BlockMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScanMode selects how much history a PR/commit secret scan covers.
type ScanMode string

const (
	ScanModeLoose      ScanMode = "loose"
	ScanModeAggressive ScanMode = "aggressive"
)

// WebhookConfig is the per-VC webhook policy.
type WebhookConfig struct {
	ID                     shared.ID
	VCID                   shared.ID
	Secret                 string
	GitActions             []event.Action
	ScanMode               ScanMode
	BlockOnSecrets         bool
	BlockOnVulnerabilities bool
	SlackAlertsEnabled     bool
	Active                 bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Allows reports whether the raw provider event is in the allowed action set.
func (c *WebhookConfig) Allows(p event.Provider, rawEvent string) bool {
	return event.Allowed(p, rawEvent, c.GitActions)
}

// AllowsAction reports whether a canonical action is allowed.
func (c *WebhookConfig) AllowsAction(a event.Action) bool {
	return slices.Contains(c.GitActions, a)
}

// Policy returns the blocking policy.
func (c *WebhookConfig) Policy() scan.Policy {
	return scan.Policy{
		BlockOnSecrets:         c.BlockOnSecrets,
		BlockOnVulnerabilities: c.BlockOnVulnerabilities,
	}
}

// Repository reads VC configuration. CRUD for these entities lives outside this service.
type Repository interface {
	GetByID(ctx context.Context, id shared.ID) (*VersionControl, error)
	GetWebhookConfig(ctx context.Context, vcID shared.ID) (*WebhookConfig, error)
	ListActive(ctx context.Context) ([]*VersionControl, error)
}
