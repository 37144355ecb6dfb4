package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/platform/metrics"
	"fiscalhub/internal/zreport"
	"fiscalhub/pkg/fiscalerrors"
)

// EventSink receives job outcomes for downstream consumers.
type EventSink interface {
	JobCompleted(ctx context.Context, orgID string, entry *HistoryEntry)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) JobCompleted(context.Context, string, *HistoryEntry) {}

// Runner owns one organization's scheduled compliance work. Two durable
// timers drive it: an hourly check for the daily jobs (close, archive) and a
// 15-minute check for the certificate scan. Scheduled and manual paths share
// the run recorder and history store, so over-firing never duplicates work.
type Runner struct {
	orgID     string
	manager   *fiscal.Manager
	generator *zreport.Generator
	configs   ConfigStore
	recorder  RunRecorder
	history   HistoryStore
	schedule  ScheduleStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    EventSink

	clock            func() time.Time
	historyLimit     int
	closeWindow      time.Duration
	dailyInterval    time.Duration
	frequentInterval time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithHistoryLimit caps retained history entries.
func WithHistoryLimit(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithCloseWindow sets the tolerance around the configured close time.
func WithCloseWindow(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.closeWindow = d
		}
	}
}

// WithIntervals overrides the trigger intervals (tests).
func WithIntervals(daily, frequent time.Duration) RunnerOption {
	return func(r *Runner) {
		if daily > 0 {
			r.dailyInterval = daily
		}
		if frequent > 0 {
			r.frequentInterval = frequent
		}
	}
}

// WithEvents sets the event sink.
func WithEvents(sink EventSink) RunnerOption {
	return func(r *Runner) {
		if sink != nil {
			r.events = sink
		}
	}
}

// NewRunner constructs the runner for one organization.
func NewRunner(
	orgID string,
	manager *fiscal.Manager,
	generator *zreport.Generator,
	configs ConfigStore,
	recorder RunRecorder,
	history HistoryStore,
	schedule ScheduleStore,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		orgID:            orgID,
		manager:          manager,
		generator:        generator,
		configs:          configs,
		recorder:         recorder,
		history:          history,
		schedule:         schedule,
		logger:           logger,
		metrics:          m,
		events:           NopSink{},
		clock:            time.Now,
		historyLimit:     1000,
		closeWindow:      30 * time.Minute,
		dailyInterval:    time.Hour,
		frequentInterval: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is done, driving both durable timers.
func (r *Runner) Run(ctx context.Context) error {
	daily := NewDurableTimer("daily:"+r.orgID, r.dailyInterval, r.schedule, r.logger)
	frequent := NewDurableTimer("frequent:"+r.orgID, r.frequentInterval, r.schedule, r.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return daily.Run(ctx, r.RunDailyJobs)
	})
	g.Go(func() error {
		return frequent.Run(ctx, func(ctx context.Context, now time.Time) {
			if _, err := r.ScanCertificates(ctx); err != nil {
				r.logger.Error("certificate scan failed", "org", r.orgID, "error", err)
			}
		})
	})
	return g.Wait()
}

// ConfigureSite stores a site's job schedule.
func (r *Runner) ConfigureSite(ctx context.Context, cfg *SiteJobConfig) error {
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid time zone", err)
		}
	}
	for _, at := range []string{cfg.DailyCloseAt, cfg.ArchiveAt} {
		if at == "" {
			continue
		}
		if _, err := time.Parse("15:04", at); err != nil {
			return fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid local time (want HH:MM)", err)
		}
	}
	return r.configs.Save(ctx, cfg)
}

// JobHistory lists recent history entries, newest first.
func (r *Runner) JobHistory(ctx context.Context, max int) ([]*HistoryEntry, error) {
	if max <= 0 || max > r.historyLimit {
		max = r.historyLimit
	}
	return r.history.List(ctx, r.orgID, max)
}

// RunDailyJobs is one firing of the daily trigger. For every site whose
// local time is inside the close window and whose business date has not been
// processed yet, the close (and archive, if enabled) runs once. A durable
// timer may fire at odd offsets or replay during recovery; the run key
// absorbs that.
func (r *Runner) RunDailyJobs(ctx context.Context, now time.Time) {
	configs, err := r.configs.ListByOrg(ctx, r.orgID)
	if err != nil {
		r.logger.Error("list job configs failed", "org", r.orgID, "error", err)
		return
	}

	for _, cfg := range configs {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			r.logger.Error("bad time zone in job config",
				"site", cfg.Key.String(), "tz", cfg.Timezone, "error", err)
			continue
		}
		localNow := now.In(loc)
		// The close finalizes yesterday's business date in site-local time.
		// The date is carried downstream as UTC midnight so day-window math
		// in the report and export paths lands on the same calendar date as
		// the suppression key.
		y, m, d := localNow.AddDate(0, 0, -1).Date()
		businessDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

		if cfg.DailyCloseEnabled && r.withinWindow(localNow, cfg.DailyCloseAt) {
			r.runOnce(ctx, JobDailyClose, cfg.Key, businessDate, func(ctx context.Context) (map[string]string, error) {
				return r.executeDailyClose(ctx, cfg.Key, businessDate)
			})
		}
		if cfg.ArchiveEnabled && r.withinWindow(localNow, cfg.ArchiveAt) {
			r.runOnce(ctx, JobArchiveExport, cfg.Key, businessDate, func(ctx context.Context) (map[string]string, error) {
				return r.executeArchiveExport(ctx, cfg.Key, businessDate)
			})
		}
	}
}

// withinWindow checks whether the site-local time is inside the tolerance
// around the configured local target time.
func (r *Runner) withinWindow(localNow time.Time, target string) bool {
	t, err := time.Parse("15:04", target)
	if err != nil {
		return false
	}
	targetToday := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		t.Hour(), t.Minute(), 0, 0, localNow.Location())
	diff := localNow.Sub(targetToday)
	return diff >= -r.closeWindow && diff <= r.closeWindow
}

// runKey scopes suppression to job type, site, and the business date being
// processed. Keying on the business date rather than the calendar day of the
// check means a legitimate late run for a different date is never swallowed
// by clock skew across time zones.
func runKey(jobType JobType, key fiscal.SiteKey, businessDate time.Time) string {
	return fmt.Sprintf("%s:%s:%s", jobType, key, businessDate.Format("2006-01-02"))
}

// runOnce executes a job under its suppression key and records history.
// Failures stay inside this site: one failing site never blocks the rest.
func (r *Runner) runOnce(ctx context.Context, jobType JobType, key fiscal.SiteKey, businessDate time.Time, exec func(ctx context.Context) (map[string]string, error)) {
	first, err := r.recorder.MarkRun(ctx, runKey(jobType, key, businessDate))
	if err != nil {
		r.logger.Error("run recorder failed", "job", string(jobType), "site", key.String(), "error", err)
		return
	}
	if !first {
		return
	}

	entry := &HistoryEntry{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Site:      key,
		StartedAt: r.clock().UTC(),
	}
	metadata, execErr := exec(ctx)
	entry.CompletedAt = r.clock().UTC()
	entry.Metadata = metadata
	if execErr != nil {
		entry.Success = false
		entry.Error = execErr.Error()
		r.metrics.JobsFailed.WithLabelValues(string(jobType)).Inc()
		r.logger.Warn("scheduled job failed",
			"job", string(jobType), "site", key.String(),
			"business_date", businessDate.Format("2006-01-02"), "error", execErr)
	} else {
		entry.Success = true
		r.metrics.JobsRun.WithLabelValues(string(jobType)).Inc()
	}

	if err := r.history.Append(ctx, r.orgID, entry, r.historyLimit); err != nil {
		r.logger.Error("append job history failed", "job", string(jobType), "error", err)
	}
	r.events.JobCompleted(ctx, r.orgID, entry)
}

func (r *Runner) executeDailyClose(ctx context.Context, key fiscal.SiteKey, businessDate time.Time) (map[string]string, error) {
	router, err := r.manager.Router(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := router.PerformDailyClose(ctx, businessDate); err != nil {
		return nil, err
	}

	metadata := map[string]string{"business_date": businessDate.Format("2006-01-02")}
	report, err := r.generator.Generate(ctx, key, businessDate)
	if err != nil {
		if fiscalerrors.HasCode(err, fiscalerrors.CodeAlreadyExists) {
			// Already generated manually; the close itself succeeded.
			metadata["report"] = "already existed"
			return metadata, nil
		}
		return metadata, err
	}
	metadata["report_number"] = fmt.Sprintf("%d", report.ReportNumber)
	return metadata, nil
}

func (r *Runner) executeArchiveExport(ctx context.Context, key fiscal.SiteKey, businessDate time.Time) (map[string]string, error) {
	router, err := r.manager.Router(ctx, key)
	if err != nil {
		return nil, err
	}
	day := businessDate.Truncate(24 * time.Hour)
	data, err := router.GenerateAuditExport(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"business_date": day.Format("2006-01-02"),
		"export_bytes":  fmt.Sprintf("%d", len(data)),
	}, nil
}

// TriggerDailyClose runs a close manually for a specific business date. It
// shares the suppression key with the scheduler: a date already processed
// fails with ALREADY_EXISTS.
func (r *Runner) TriggerDailyClose(ctx context.Context, key fiscal.SiteKey, businessDate time.Time) error {
	ran, err := r.recorder.HasRun(ctx, runKey(JobDailyClose, key, businessDate))
	if err != nil {
		return err
	}
	if ran {
		return fiscalerrors.Newf(fiscalerrors.CodeAlreadyExists,
			"daily close for %s already ran at site %s", businessDate.Format("2006-01-02"), key)
	}
	var execErr error
	r.runOnce(ctx, JobDailyClose, key, businessDate, func(ctx context.Context) (map[string]string, error) {
		md, err := r.executeDailyClose(ctx, key, businessDate)
		execErr = err
		return md, err
	})
	return execErr
}

// TriggerArchiveExport runs an archive export manually for a date range and
// returns the export payload. Range exports bypass the per-date suppression
// key (they are operator-driven and may legitimately repeat) but still land
// in history.
func (r *Runner) TriggerArchiveExport(ctx context.Context, key fiscal.SiteKey, start, end time.Time) ([]byte, error) {
	router, err := r.manager.Router(ctx, key)
	if err != nil {
		return nil, err
	}

	entry := &HistoryEntry{
		ID:        uuid.NewString(),
		JobType:   JobArchiveExport,
		Site:      key,
		StartedAt: r.clock().UTC(),
		Metadata: map[string]string{
			"range_start": start.Format("2006-01-02"),
			"range_end":   end.Format("2006-01-02"),
			"trigger":     "manual",
		},
	}
	data, execErr := router.GenerateAuditExport(ctx, start, end)
	entry.CompletedAt = r.clock().UTC()
	if execErr != nil {
		entry.Error = execErr.Error()
		r.metrics.JobsFailed.WithLabelValues(string(JobArchiveExport)).Inc()
	} else {
		entry.Success = true
		entry.Metadata["export_bytes"] = fmt.Sprintf("%d", len(data))
		r.metrics.JobsRun.WithLabelValues(string(JobArchiveExport)).Inc()
	}
	if err := r.history.Append(ctx, r.orgID, entry, r.historyLimit); err != nil {
		r.logger.Error("append job history failed", "job", string(JobArchiveExport), "error", err)
	}
	r.events.JobCompleted(ctx, r.orgID, entry)
	return data, execErr
}
