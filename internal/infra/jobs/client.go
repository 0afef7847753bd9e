package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scangate/pkg/logger"
)

// Client enqueues background tasks.
type Client struct {
	client          *asynq.Client
	logger          *logger.Logger
	repoScanTimeout time.Duration
	repoScanRetries int
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RepositoryScanTimeout time.Duration
	RepositoryScanRetries int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{
		client:          client,
		logger:          log.With("component", "job_client"),
		repoScanTimeout: cfg.RepositoryScanTimeout,
		repoScanRetries: cfg.RepositoryScanRetries,
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueWebhookEvent queues a delivery for the dispatcher.
func (c *Client) EnqueueWebhookEvent(ctx context.Context, p WebhookEventPayload) error {
	task, err := NewWebhookEventTask(p)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue webhook event",
			"correlation_id", p.CorrelationID,
			"vc_id", p.VCID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	c.logger.Info("webhook event queued",
		"task_id", info.ID,
		"correlation_id", p.CorrelationID,
		"vc_id", p.VCID,
		"queue", info.Queue,
	)
	return nil
}

// EnqueueRepositoryScan queues a repository scan. A scan already in the queue is not an error.
func (c *Client) EnqueueRepositoryScan(ctx context.Context, p RepositoryScanPayload) error {
	task, err := NewRepositoryScanTask(p, c.repoScanTimeout, c.repoScanRetries)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Debug("repository scan already queued", "scan_id", p.ScanID)
		return nil
	}
	if err != nil {
		c.logger.Error("failed to enqueue repository scan", "scan_id", p.ScanID, "error", err)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	c.logger.Info("repository scan queued",
		"task_id", info.ID,
		"correlation_id", p.CorrelationID,
		"scan_id", p.ScanID,
	)
	return nil
}

// EnqueueRepositorySweep queues a sweep unless one is already pending.
func (c *Client) EnqueueRepositorySweep(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, NewRepositorySweepTask())
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// EnqueueWhitelistRepublish queues a PR status republish.
func (c *Client) EnqueueWhitelistRepublish(ctx context.Context, p WhitelistRepublishPayload) error {
	task, err := NewWhitelistRepublishTask(p)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		c.logger.Error("failed to enqueue whitelist republish",
			"pr_scan_id", p.PRScanID,
			"rule_id", p.RuleID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
