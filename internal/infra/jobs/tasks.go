package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scangate/pkg/domain/event"
)

// =============================================================================
// Task Types
// =============================================================================

const (
	// TypeWebhookEvent dispatches one accepted webhook delivery.
	TypeWebhookEvent = "webhook:event"

	// TypeRepositoryScan runs a full default-branch secret scan.
	TypeRepositoryScan = "repository:scan"

	// TypeRepositorySweep enqueues pending repository scans.
	TypeRepositorySweep = "repository:sweep"

	// TypeWhitelistRepublish recomputes and republishes a PR status after a whitelist change.
	TypeWhitelistRepublish = "whitelist:republish"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

const (
	webhookEventTimeout = 30 * time.Minute
	republishTimeout    = 2 * time.Minute
	sweepTimeout        = 5 * time.Minute
)

// =============================================================================
// Task Payloads
// =============================================================================

// WebhookEventPayload carries a normalized delivery to the dispatcher.
type WebhookEventPayload struct {
	CorrelationID   string                `json:"correlation_id"`
	VCID            string                `json:"vc_id"`
	WebhookConfigID string                `json:"webhook_config_id"`
	Event           *event.CanonicalEvent `json:"event"`
}

// RepositoryScanPayload identifies a pending repository scan row.
type RepositoryScanPayload struct {
	CorrelationID string `json:"correlation_id"`
	ScanID        string `json:"scan_id"`
}

// WhitelistRepublishPayload identifies a PR scan whose findings changed whitelist state.
type WhitelistRepublishPayload struct {
	CorrelationID string `json:"correlation_id"`
	PRScanID      string `json:"pr_scan_id"`
	RuleID        string `json:"rule_id"`
}

// =============================================================================
// Task Creators
// =============================================================================

// NewWebhookEventTask creates a dispatch task. It is not retried: a failed
// sub-pipeline is recorded on its scan row and a new delivery starts a new scan.
func NewWebhookEventTask(p WebhookEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook event payload: %w", err)
	}
	return asynq.NewTask(TypeWebhookEvent, data,
		asynq.MaxRetry(0),
		asynq.Timeout(webhookEventTimeout),
		asynq.Queue(QueueCritical),
	), nil
}

// NewRepositoryScanTask creates a repository scan task. The task id is derived
// from the scan id so a scan already waiting in the queue is not enqueued twice.
func NewRepositoryScanTask(p RepositoryScanPayload, timeout time.Duration, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal repository scan payload: %w", err)
	}
	return asynq.NewTask(TypeRepositoryScan, data,
		asynq.TaskID(TypeRepositoryScan+":"+p.ScanID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Queue(QueueLow),
	), nil
}

// NewRepositorySweepTask creates the periodic sweep task.
func NewRepositorySweepTask() *asynq.Task {
	return asynq.NewTask(TypeRepositorySweep, nil,
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
		asynq.Queue(QueueDefault),
		asynq.Unique(sweepTimeout),
	)
}

// NewWhitelistRepublishTask creates a republish task for one PR scan.
func NewWhitelistRepublishTask(p WhitelistRepublishPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal whitelist republish payload: %w", err)
	}
	return asynq.NewTask(TypeWhitelistRepublish, data,
		asynq.MaxRetry(3),
		asynq.Timeout(republishTimeout),
		asynq.Queue(QueueDefault),
	), nil
}

// =============================================================================
// Retry Policy
// =============================================================================

// RetryDelay returns asynq's retry delay function: repository scans back off
// exponentially from base (base, 2*base, 4*base...); other tasks use asynq's default.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if t.Type() == TypeRepositoryScan && base > 0 {
			return backoff(base, n)
		}
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}

// backoff is base * 2^n where n is the number of retries already made.
func backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 16 {
		n = 16
	}
	return base * time.Duration(1<<n)
}
