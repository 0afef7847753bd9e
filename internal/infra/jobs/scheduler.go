package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/scangate/pkg/logger"
)

// SweepEnqueuer enqueues the periodic sweep task.
type SweepEnqueuer interface {
	EnqueueRepositorySweep(ctx context.Context) error
}

// Scheduler enqueues the repository sweep on a cron schedule. Every process may
// run one; the sweep itself holds a distributed lock.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger
}

// cronParser accepts standard five-field specs and descriptors such as @every 10m.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler validates the cron schedule and registers the sweep job.
func NewScheduler(schedule string, enqueuer SweepEnqueuer, log *logger.Logger) (*Scheduler, error) {
	log = log.With("component", "scheduler")
	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(schedule, func() {
		if err := enqueuer.EnqueueRepositorySweep(context.Background()); err != nil {
			log.Error("failed to enqueue repository sweep", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, logger: log}, nil
}

// Start starts the cron loop in the background.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
