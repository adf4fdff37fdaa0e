// Package scheduler runs the manager's periodic background jobs on cron
// schedules, currently the mod catalog refresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner whose jobs never overlap themselves: a
// tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	c *cron.Cron
}

// New returns an idle scheduler; call Start after adding jobs.
func New() *Scheduler {
	return &Scheduler{c: cron.New()}
}

// Add registers fn under a cron expression. Standard five-field
// expressions and descriptors like "@every 30m" are accepted.
func (s *Scheduler) Add(name, schedule string, fn func(ctx context.Context) error) error {
	var running atomic.Bool
	_, err := s.c.AddFunc(schedule, func() {
		if !running.CompareAndSwap(false, true) {
			slog.Debug("scheduled job still running, tick skipped", "job", name)
			return
		}
		defer running.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("scheduled job failed", "job", name, "err", err)
			return
		}
		slog.Debug("scheduled job completed", "job", name)
	})
	if err != nil {
		return fmt.Errorf("schedule %q for job %s: %w", schedule, name, err)
	}
	return nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
