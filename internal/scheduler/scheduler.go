// Package scheduler wires up the cron jobs that keep the matching queue
// moving: a periodic re-scan of queued workers and the session expiry sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"onetime/matching-service/internal/logger"
)

// Jobs is the work the scheduler drives. *matching.Queue implements it.
type Jobs interface {
	Rescan(ctx context.Context) (int, error)
	ExpireSweep(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron and manages the rescan and sweep loops.
type Scheduler struct {
	cron       *cron.Cron
	jobs       Jobs
	log        *logger.Logger
	rescanSpec string // cron spec, e.g. "@every 30s"
	sweepSpec  string
}

// New creates a Scheduler firing a rescan every rescanEvery and a sweep
// every sweepEvery. A run still in progress when the next tick fires is
// skipped rather than overlapped.
func New(jobs Jobs, rescanEvery, sweepEvery time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "Scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		jobs:       jobs,
		log:        log,
		rescanSpec: "@every " + rescanEvery.String(),
		sweepSpec:  "@every " + sweepEvery.String(),
	}
}

// Start registers both jobs and starts the scheduler. Also runs one rescan
// immediately rather than waiting a full interval for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.rescanSpec, func() { s.runRescan(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc rescan: %w", err)
	}
	if _, err := s.cron.AddFunc(s.sweepSpec, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc sweep: %w", err)
	}

	s.cron.Start()
	s.log.Info("cron started", "rescan", s.rescanSpec, "sweep", s.sweepSpec)

	go s.runRescan(ctx)
	return nil
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron stopped")
}

// Trigger runs a rescan now, outside the cron schedule.
func (s *Scheduler) Trigger(ctx context.Context) { s.runRescan(ctx) }

func (s *Scheduler) runRescan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.jobs.Rescan(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Warn("rescan cycle failed", "err", err)
		return
	}
	s.log.Debug("rescan cycle complete", "matched", n)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.jobs.ExpireSweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Warn("expiry sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Info("expired pending sessions", "count", n)
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
