package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a batch job at the configured posting hours.
type Scheduler struct {
	cron     *cron.Cron
	schedule ScheduleSettings
	job      func(ctx context.Context, limit int)
	logger   *slog.Logger
}

// NewScheduler builds the cron runner. A trigger that fires while the
// previous run is still active is skipped.
func NewScheduler(schedule ScheduleSettings, job func(ctx context.Context, limit int), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		schedule: schedule,
		job:      job,
		logger:   logger,
	}
}

// Run registers the jobs and blocks until ctx is done. Running jobs are
// waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	specs := cronSpecs(s.schedule.PostsPerWeek, s.schedule.PostingHours)
	for _, spec := range specs {
		if _, err := s.cron.AddFunc(spec, func() { s.job(ctx, s.schedule.BatchSize) }); err != nil {
			return fmt.Errorf("registering schedule %q: %w", spec, err)
		}
		s.logger.Info("scheduled batch", "spec", spec, "batch_size", s.schedule.BatchSize)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(specs))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronSpecs returns one standard cron spec per posting hour. Three posts a
// week run on Mon/Wed/Fri, two on Tue/Thu, one on Monday and anything else
// daily.
func cronSpecs(postsPerWeek int, hours []int) []string {
	days := "*"
	switch postsPerWeek {
	case 3:
		days = "mon,wed,fri"
	case 2:
		days = "tue,thu"
	case 1:
		days = "mon"
	}
	specs := make([]string, 0, len(hours))
	for _, h := range hours {
		specs = append(specs, fmt.Sprintf("0 %d * * %s", h, days))
	}
	return specs
}
