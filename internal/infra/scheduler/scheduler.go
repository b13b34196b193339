package scheduler

import (
	"context"
	"fmt"
	"time"

	"renewal_notifier/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type RenewalScheduler struct {
	cronEngine *cron.Cron
	runner     app.Runner
	logger     *logrus.Entry
	cronSpec   string
	jobTimeout time.Duration
}

// NewRenewalScheduler runs the renewal invocation on cronSpec, e.g. "0 9 * * *".
// Overlapping ticks are skipped while a run is still going.
func NewRenewalScheduler(runner app.Runner, logger *logrus.Entry, cronSpec string, loc *time.Location, jobTimeout time.Duration) *RenewalScheduler {
	if loc == nil {
		loc = time.Local
	}
	cronLogger := cron.PrintfLogger(logger)
	return &RenewalScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner:     runner,
		logger:     logger,
		cronSpec:   cronSpec,
		jobTimeout: jobTimeout,
	}
}

func (s *RenewalScheduler) Start() error {
	s.logger.Info("Starting renewal scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, s.executeRun)
	if err != nil {
		return fmt.Errorf("could not add renewal cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("cron_spec", s.cronSpec).Info("Renewal scheduler started")
	return nil
}

func (s *RenewalScheduler) executeRun() {
	s.logger.Info("Cron job triggered for renewal reminders.")
	ctx := context.Background()
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	report := s.runner.Run(ctx)
	if !report.OK {
		s.logger.WithField("run_id", report.RunID).Errorf("Scheduled renewal run failed: %s", report.Error)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"sent":   report.Sent,
		"failed": report.Failed,
	}).Info("Scheduled renewal run finished")
}

func (s *RenewalScheduler) Stop() {
	s.logger.Info("Stopping renewal scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Renewal scheduler gracefully stopped.")
}
