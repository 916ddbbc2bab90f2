// Package reminders schedules medication, appointment and custom reminders
// and the periodic health summary.
package reminders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Store persists reminders
type Store interface {
	DueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error)
	SaveReminder(ctx context.Context, r *store.Reminder) error
}

// Notifier delivers reminder and summary notifications
type Notifier interface {
	Reminder(ctx context.Context, userID, title, body string, data map[string]string) error
	Info(ctx context.Context, userID, title, body string) error
}

// Reporter builds a user's health report
type Reporter interface {
	Report(ctx context.Context, userID string) (*vitals.HealthReport, error)
}

// Config holds runner configuration
type Config struct {
	CheckInterval  time.Duration // between due-reminder checks
	MaxConcurrent  int
	ReportSchedule string   // cron spec for the health summary; empty disables it
	ReportUsers    []string // users receiving the summary
}

// Runner fires due reminders on a fixed interval
type Runner struct {
	config   Config
	store    Store
	notifier Notifier
	reporter Reporter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	checking atomic.Bool
}

// Option customizes a Runner
type Option func(*Runner)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMetrics records fired reminders
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner. reporter may be nil when no summary is scheduled.
func NewRunner(config Config, st Store, notifier Notifier, reporter Reporter, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("reminders")
	cronLog := cron.PrintfLogger(zap.NewStdLog(logger))
	r := &Runner{
		config:   config,
		store:    st,
		notifier: notifier,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.cron.AddFunc("@every "+config.CheckInterval.String(), func() {
		r.CheckDue(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid check interval: %w", err)
	}

	if config.ReportSchedule != "" {
		if reporter == nil {
			return nil, fmt.Errorf("report schedule set without a reporter")
		}
		if _, err := r.cron.AddFunc(config.ReportSchedule, func() {
			r.SendSummaries(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("invalid report schedule %q: %w", config.ReportSchedule, err)
		}
	}

	return r, nil
}

// Start starts the scheduler and checks once immediately
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reminder runner already running")
	}
	r.running = true
	r.cron.Start()
	go r.CheckDue(context.Background())
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.logger.Info("Reminder runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CheckDue fires every due reminder and returns how many were delivered.
// A call made while another check is in flight returns 0 without loading
// reminders, so a due reminder is never sent twice.
func (r *Runner) CheckDue(ctx context.Context) int {
	if !r.checking.CompareAndSwap(false, true) {
		r.logger.Debug("Reminder check already running, skipping")
		return 0
	}
	defer r.checking.Store(false)

	now := r.now()
	due, err := r.store.DueReminders(ctx, now)
	if err != nil {
		r.logger.Error("Failed to load due reminders", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	r.logger.Info("Found due reminders", zap.Int("count", len(due)))

	sem := make(chan struct{}, r.config.MaxConcurrent)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for i := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(rem *store.Reminder) {
			defer wg.Done()
			defer func() { <-sem }()

			if r.fire(ctx, rem, now) {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}(&due[i])
	}
	wg.Wait()

	return fired
}

// fire delivers one reminder and schedules its next occurrence. A failed
// delivery leaves the reminder due so the next check retries it.
func (r *Runner) fire(ctx context.Context, rem *store.Reminder, now time.Time) bool {
	data := map[string]string{
		"type":        "reminder",
		"reminder_id": rem.ID,
		"kind":        rem.Kind,
	}
	if err := r.notifier.Reminder(ctx, rem.UserID, rem.Title, rem.Body, data); err != nil {
		r.logger.Warn("Reminder delivery failed",
			zap.String("reminder_id", rem.ID),
			zap.Error(err),
		)
		return false
	}

	rem.LastFiredAt = &now
	rem.FireCount++
	if next, ok := NextDue(rem.DueAt, rem.Recurrence, now); ok {
		rem.DueAt = next
	} else {
		rem.Enabled = false
	}

	if err := r.store.SaveReminder(ctx, rem); err != nil {
		r.logger.Error("Failed to update reminder",
			zap.String("reminder_id", rem.ID),
			zap.Error(err),
		)
	}

	r.metrics.RecordReminder()
	r.logger.Info("Reminder fired",
		zap.String("reminder_id", rem.ID),
		zap.String("kind", rem.Kind),
		zap.Bool("enabled", rem.Enabled),
		zap.Time("next_due", rem.DueAt),
	)
	return true
}

// SendSummaries sends the health summary to every configured user
func (r *Runner) SendSummaries(ctx context.Context) {
	for _, userID := range r.config.ReportUsers {
		report, err := r.reporter.Report(ctx, userID)
		if err != nil {
			r.logger.Error("Failed to build report", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if err := r.notifier.Info(ctx, userID, "Health summary", Summary(report)); err != nil {
			r.logger.Warn("Summary delivery failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// Summary condenses a report into a notification body
func Summary(report *vitals.HealthReport) string {
	parts := []string{
		strconv.Itoa(report.Summary.TotalReadings) + " readings",
		strconv.Itoa(report.Summary.ActiveAlerts) + " active alerts",
	}
	for _, m := range []vitals.Metric{vitals.MetricTemperature, vitals.MetricHeartRate, vitals.MetricOxygenSaturation} {
		t, ok := report.Trends[m]
		if !ok || t.DataPoints == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s avg %.1f (%s)", m, t.Average, t.Direction))
	}
	out := strings.Join(parts, ", ")
	if len(report.Recommendations) > 0 {
		out += ". " + strings.Join(report.Recommendations, ". ")
	}
	return out
}
