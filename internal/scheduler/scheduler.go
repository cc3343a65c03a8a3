// Package scheduler runs the bot's periodic jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is invoked with the scheduler's context, which is cancelled by Stop.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	names  map[cron.EntryID]string
}

// New creates a scheduler evaluating expressions in UTC. A job that is still
// running when its next tick fires is skipped for that tick.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		names:  make(map[cron.EntryID]string),
	}
}

// AddJob registers fn under a standard five-field cron spec.
func (s *Scheduler) AddJob(name, spec string, fn Job) error {
	id, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		s.logger.Info("scheduled job started", "job", name)
		if err := fn(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Info("scheduled job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.names[id] = name
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("job scheduled", "job", s.names[e.ID], "next", e.Next)
	}
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	entries := s.cron.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.names[e.ID])
	}
	return out
}
