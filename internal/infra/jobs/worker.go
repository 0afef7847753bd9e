package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scangate/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Concurrency bounds the number of tasks running at once. Deliveries past
	// this limit wait in Redis.
	Concurrency     int
	QueueCritical   int
	QueueDefault    int
	QueueLow        int
	RetryBaseDelay  time.Duration
	ShutdownTimeout time.Duration
}

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker creates a new background job worker.
func NewWorker(cfg WorkerConfig, handler *TaskHandler, log *logger.Logger) *Worker {
	log = log.With("component", "job_worker")
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueCritical: cfg.QueueCritical,
				QueueDefault:  cfg.QueueDefault,
				QueueLow:      cfg.QueueLow,
			},
			RetryDelayFunc:  RetryDelay(cfg.RetryBaseDelay),
			ShutdownTimeout: cfg.ShutdownTimeout,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Error("task failed",
					"type", t.Type(),
					"retried", retried,
					"max_retry", maxRetry,
					"error", err,
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	return &Worker{server: server, mux: mux, logger: log}
}

// Start starts the worker.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run starts the worker and blocks until ctx is cancelled, then drains it.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}
