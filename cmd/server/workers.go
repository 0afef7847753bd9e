package main

import (
	"context"
	"fmt"

	"github.com/openctemio/scangate/internal/config"
	"github.com/openctemio/scangate/internal/infra/jobs"
	"github.com/openctemio/scangate/pkg/logger"
)

// Workers holds the background queue consumer and the sweep scheduler.
type Workers struct {
	JobWorker *jobs.Worker
	Scheduler *jobs.Scheduler
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Services  *Services
	JobClient *jobs.Client
}

// NewWorkers initializes the job worker and the cron scheduler.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services

	taskHandler := jobs.NewTaskHandler(svc.Dispatch, svc.RepositoryScan, svc.RepositoryScan, svc.Republisher, log.Logger)

	w := &Workers{
		JobWorker: jobs.NewWorker(jobs.WorkerConfig{
			RedisAddr:       cfg.Redis.Addr(),
			RedisPassword:   cfg.Redis.Password,
			RedisDB:         cfg.Redis.DB,
			Concurrency:     cfg.Worker.Concurrency,
			QueueCritical:   cfg.Worker.QueueCritical,
			QueueDefault:    cfg.Worker.QueueDefault,
			QueueLow:        cfg.Worker.QueueLow,
			RetryBaseDelay:  cfg.Scan.RetryBaseDelay,
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		}, taskHandler, log),
	}

	if cfg.Scan.SweepSchedule != "" {
		scheduler, err := jobs.NewScheduler(cfg.Scan.SweepSchedule, deps.JobClient, log)
		if err != nil {
			return nil, err
		}
		w.Scheduler = scheduler
		log.Info("repository sweep scheduled", "schedule", cfg.Scan.SweepSchedule)
	}

	return w, nil
}

// Start starts the background workers.
func (w *Workers) Start(_ context.Context, log *logger.Logger) error {
	if err := w.JobWorker.Start(); err != nil {
		return fmt.Errorf("failed to start job worker: %w", err)
	}
	log.Info("job worker started")

	if w.Scheduler != nil {
		w.Scheduler.Start()
	}
	return nil
}

// Stop stops the background workers. The scheduler goes first so no sweep is enqueued
// into a draining worker.
func (w *Workers) Stop(log *logger.Logger) {
	if w.Scheduler != nil {
		w.Scheduler.Stop()
		log.Info("scheduler stopped")
	}
	w.JobWorker.Stop()
	log.Info("job worker stopped")
}
