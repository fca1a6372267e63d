package schedule

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

const defaultTick = time.Minute

// Job is what the runner invokes when the gate says run.
type Job func(ctx context.Context)

// Runner fires a Job at the configured run times. Each run time fires at
// most once per local day, and runs never overlap.
type Runner struct {
	settings *Manager
	job      Job
	clock    Clock
	tick     time.Duration
	logger   *slog.Logger

	lastSlot string
}

// NewRunner creates a Runner that checks the schedule every minute.
func NewRunner(settings *Manager, job Job) *Runner {
	return &Runner{
		settings: settings,
		job:      job,
		clock:    realClock{},
		tick:     defaultTick,
		logger:   slog.Default(),
	}
}

// NewRunnerWithClock creates a Runner with a custom clock and tick (for testing).
func NewRunnerWithClock(settings *Manager, job Job, clock Clock, tick time.Duration) *Runner {
	r := NewRunner(settings, job)
	r.clock = clock
	if tick > 0 {
		r.tick = tick
	}
	return r
}

// Run checks the schedule on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		r.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Tick performs one schedule check. It reports whether the job ran.
func (r *Runner) Tick(ctx context.Context) bool {
	s, err := r.settings.Load(ctx)
	if err != nil {
		r.logger.Error("schedule check failed", "error", err)
		return false
	}

	local := r.clock.Now().In(s.Location())
	hhmm := local.Format("15:04")
	if !slices.Contains(s.RunTimes, hhmm) {
		return false
	}
	slot := local.Format("2006-01-02 ") + hhmm
	if slot == r.lastSlot {
		return false
	}
	r.lastSlot = slot

	d := Evaluate(s, r.clock.Now())
	switch d.Action {
	case ActionPaused, ActionSkip:
		r.logger.Info("scheduled run skipped", "slot", slot, "reason", d.Reason)
		return false
	}

	r.logger.Info("scheduled run starting", "slot", slot, "timezone", s.Timezone)
	r.job(ctx)
	return true
}
