package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scangate/pkg/logger"
)

// =============================================================================
// Task Handler Interfaces
// =============================================================================

// EventDispatcher runs the scan pipeline for one delivery.
type EventDispatcher interface {
	Dispatch(ctx context.Context, p WebhookEventPayload) error
}

// RepositoryScanner runs one repository scan. A returned error makes asynq retry it.
type RepositoryScanner interface {
	RunRepositoryScan(ctx context.Context, p RepositoryScanPayload) error
}

// Sweeper enqueues pending repository scans.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Republisher recomputes a PR status after a whitelist change.
type Republisher interface {
	Republish(ctx context.Context, p WhitelistRepublishPayload) error
}

// =============================================================================
// Task Handler
// =============================================================================

// TaskHandler decodes payloads, restores the correlation id and calls the processors.
type TaskHandler struct {
	dispatcher  EventDispatcher
	scanner     RepositoryScanner
	sweeper     Sweeper
	republisher Republisher
	log         *slog.Logger
}

// NewTaskHandler creates a handler. Nil processors leave their task type unregistered.
func NewTaskHandler(d EventDispatcher, s RepositoryScanner, sw Sweeper, r Republisher, log *slog.Logger) *TaskHandler {
	return &TaskHandler{dispatcher: d, scanner: s, sweeper: sw, republisher: r, log: log}
}

// RegisterHandlers registers the task handlers with the asynq server mux.
func (h *TaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	if h.dispatcher != nil {
		mux.HandleFunc(TypeWebhookEvent, h.HandleWebhookEvent)
	}
	if h.scanner != nil {
		mux.HandleFunc(TypeRepositoryScan, h.HandleRepositoryScan)
	}
	if h.sweeper != nil {
		mux.HandleFunc(TypeRepositorySweep, h.HandleRepositorySweep)
	}
	if h.republisher != nil {
		mux.HandleFunc(TypeWhitelistRepublish, h.HandleWhitelistRepublish)
	}
}

// HandleWebhookEvent handles TypeWebhookEvent.
func (h *TaskHandler) HandleWebhookEvent(ctx context.Context, t *asynq.Task) error {
	var p WebhookEventPayload
	if err := decode(t, &p); err != nil {
		h.log.Error("failed to unmarshal webhook event payload", "error", err)
		return err
	}
	if p.Event == nil {
		return fmt.Errorf("webhook event payload has no event: %w", asynq.SkipRetry)
	}
	ctx = logger.WithCorrelationID(ctx, p.CorrelationID)
	if err := h.dispatcher.Dispatch(ctx, p); err != nil {
		h.log.Error("webhook event dispatch failed",
			"correlation_id", p.CorrelationID,
			"vc_id", p.VCID,
			"repo", p.Event.RepoFullName,
			"error", err,
		)
		return err
	}
	return nil
}

// HandleRepositoryScan handles TypeRepositoryScan.
func (h *TaskHandler) HandleRepositoryScan(ctx context.Context, t *asynq.Task) error {
	var p RepositoryScanPayload
	if err := decode(t, &p); err != nil {
		h.log.Error("failed to unmarshal repository scan payload", "error", err)
		return err
	}
	ctx = logger.WithCorrelationID(ctx, p.CorrelationID)
	if err := h.scanner.RunRepositoryScan(ctx, p); err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		h.log.Warn("repository scan failed",
			"correlation_id", p.CorrelationID,
			"scan_id", p.ScanID,
			"retried", retried,
			"max_retry", maxRetry,
			"error", err,
		)
		return err
	}
	return nil
}

// HandleRepositorySweep handles TypeRepositorySweep.
func (h *TaskHandler) HandleRepositorySweep(ctx context.Context, _ *asynq.Task) error {
	return h.sweeper.Sweep(ctx)
}

// HandleWhitelistRepublish handles TypeWhitelistRepublish.
func (h *TaskHandler) HandleWhitelistRepublish(ctx context.Context, t *asynq.Task) error {
	var p WhitelistRepublishPayload
	if err := decode(t, &p); err != nil {
		h.log.Error("failed to unmarshal whitelist republish payload", "error", err)
		return err
	}
	ctx = logger.WithCorrelationID(ctx, p.CorrelationID)
	return h.republisher.Republish(ctx, p)
}

// decode unmarshals the payload; a malformed payload is never retried.
func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}
