package rehydrate

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orderflow/stockhold/internal/system"
	"github.com/orderflow/stockhold/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler runs the rehydration job on a cron schedule.
type Scheduler struct {
	job      *Job
	log      *logger.Logger
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewScheduler creates a scheduler for the given cron expression
// (e.g. "*/5 * * * *").
func NewScheduler(job *Job, schedule string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("rehydration-scheduler")
	}
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	return &Scheduler{job: job, log: log, schedule: schedule, timeout: 5 * time.Minute}
}

func (s *Scheduler) Name() string { return "rehydration-scheduler" }

func (s *Scheduler) Start(_ context.Context) error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		report, err := s.job.RunOnce(ctx)
		if err != nil {
			s.log.WithError(err).Warn("rehydration run failed")
			return
		}
		if report.Skipped {
			return
		}
		s.log.WithFields(map[string]interface{}{
			"scanned":         report.Scanned,
			"corrected":       report.Corrected,
			"max_abs_drift":   report.MaxAbsDrift,
			"total_abs_drift": report.TotalAbsDrift,
			"errors":          report.Errors,
		}).Info("rehydration run completed")
	})
	if err != nil {
		return fmt.Errorf("invalid rehydration schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", s.schedule).Info("rehydration scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	s.cron = nil

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("rehydration scheduler stopped")
	return nil
}
