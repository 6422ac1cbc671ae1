// Package reaper runs the daemon's periodic housekeeping on a cron schedule:
// returning expired in-flight queue messages (or dead-lettering them once
// their receive budget is spent) and purging terminal status records older
// than the configured retention.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"assemblyline/internal/config"
	"assemblyline/internal/logging"
	"assemblyline/internal/queue"
)

// QueueReaper requeues expired deliveries.
type QueueReaper interface {
	Reap(ctx context.Context) (queue.ReapResult, error)
}

// StatusPurger removes old terminal records.
type StatusPurger interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// Summary describes one housekeeping pass.
type Summary struct {
	Requeued     int
	DeadLettered int
	Purged       int64
}

// Reaper schedules housekeeping passes.
type Reaper struct {
	queue     QueueReaper
	status    StatusPurger
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New builds a reaper from configuration. Either collaborator may be nil.
func New(cfg *config.Config, q QueueReaper, st StatusPurger, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reaper{
		queue:     q,
		status:    st,
		schedule:  cfg.Reaper.Schedule,
		retention: cfg.Retention(),
		logger:    logging.NewComponentLogger(logger, "reaper"),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for the retention cutoff.
func (r *Reaper) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// RunOnce performs a single housekeeping pass. Both halves run even when the
// first fails; the errors are joined.
func (r *Reaper) RunOnce(ctx context.Context) (Summary, error) {
	var (
		summary Summary
		errs    []error
	)
	if r.queue != nil {
		res, err := r.queue.Reap(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("reap queue: %w", err))
		}
		summary.Requeued = res.Requeued
		summary.DeadLettered = res.DeadLettered
	}
	// Zero retention keeps records forever.
	if r.status != nil && r.retention > 0 {
		purged, err := r.status.PurgeTerminal(ctx, r.now().Add(-r.retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge status: %w", err))
		}
		summary.Purged = purged
	}
	return summary, errors.Join(errs...)
}

// Start schedules RunOnce. Passes never overlap; a pass still running when the
// next tick fires causes that tick to be skipped.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reaper already started")
	}
	adapter := cronLogger{logger: r.logger}
	c := cron.New(cron.WithLogger(adapter), cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)))
	if _, err := c.AddFunc(r.schedule, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reaper scheduled",
		logging.String(logging.FieldEventType, "reaper_started"),
		logging.String("schedule", r.schedule),
		logging.Duration("retention", r.retention),
	)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

func (r *Reaper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	summary, err := r.RunOnce(ctx)
	if err != nil {
		logging.WarnWithContext(r.logger, "housekeeping pass failed", "reaper_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired messages or old records remain until the next pass"),
		)
	}
	if summary.Requeued+summary.DeadLettered > 0 || summary.Purged > 0 {
		r.logger.Info("housekeeping pass",
			logging.String(logging.FieldEventType, "reaper_pass"),
			logging.Int("requeued", summary.Requeued),
			logging.Int("dead_lettered", summary.DeadLettered),
			logging.Int64("purged", summary.Purged),
		)
	}
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
