package jobs

import (
	"context"
	"log/slog"
	"time"
)

// DurableTimer fires on a fixed interval and persists its next due time, so
// a process restart recovers the schedule instead of losing it. The next due
// time is written before fire runs: a crash mid-fire means the firing is
// repeated on recovery and suppressed by the run recorder, never lost.
type DurableTimer struct {
	id       string
	interval time.Duration
	store    ScheduleStore
	logger   *slog.Logger
	clock    func() time.Time
}

// NewDurableTimer constructs a timer. id must be stable across restarts.
func NewDurableTimer(id string, interval time.Duration, store ScheduleStore, logger *slog.Logger) *DurableTimer {
	return &DurableTimer{
		id:       id,
		interval: interval,
		store:    store,
		logger:   logger,
		clock:    time.Now,
	}
}

// Run blocks until ctx is done, invoking fire on schedule. A missed due time
// (downtime) fires immediately once; the schedule then realigns to now.
func (t *DurableTimer) Run(ctx context.Context, fire func(ctx context.Context, now time.Time)) error {
	for {
		now := t.clock().UTC()
		due, err := t.store.NextDue(ctx, t.id)
		if err != nil {
			t.logger.Error("read timer schedule failed", "timer", t.id, "error", err)
			due = now
		}
		if due.IsZero() {
			// First ever run: fire immediately so a fresh deployment does
			// not wait a full interval before its first scan.
			due = now
		}

		if due.After(now) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(due.Sub(now)):
			}
			now = t.clock().UTC()
		}

		// Persist-then-act: the failure mode is an extra firing, which the
		// run recorder absorbs.
		if err := t.store.SetNextDue(ctx, t.id, now.Add(t.interval)); err != nil {
			t.logger.Error("persist timer schedule failed", "timer", t.id, "error", err)
		}

		fire(ctx, now)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
