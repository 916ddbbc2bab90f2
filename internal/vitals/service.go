package vitals

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalStore is the on-device log of samples and alerts
type LocalStore interface {
	AppendVitals(ctx context.Context, v *VitalSigns) error
	ListVitals(ctx context.Context, userID string, limit int) ([]VitalSigns, error)
	LatestVitals(ctx context.Context, userID string) (*VitalSigns, error)
	AppendAlerts(ctx context.Context, alerts []HealthAlert) error
	ListAlerts(ctx context.Context, userID string) ([]HealthAlert, error)
	AcknowledgeAlert(ctx context.Context, userID, alertID string, at time.Time) (*HealthAlert, bool, error)
}

// Syncer mirrors records to the remote document store
type Syncer interface {
	PushVitals(ctx context.Context, v *VitalSigns) error
	PushAlerts(ctx context.Context, alerts []HealthAlert) error
	MarkAcknowledged(ctx context.Context, alertID string, at time.Time) error
	PullVitals(ctx context.Context, userID string) ([]VitalSigns, error)
	PullAlerts(ctx context.Context, userID string) ([]HealthAlert, error)
}

// Notifier delivers alert notifications to the user's devices
type Notifier interface {
	HealthAlert(ctx context.Context, userID, title, body string, data map[string]string) error
	Emergency(ctx context.Context, userID, title, body string, data map[string]string) error
}

// Publisher fans events out to live subscribers
type Publisher interface {
	Publish(userID string, event Event)
}

// Event kinds pushed to subscribers
const (
	EventVitalsRecorded    = "vitals.recorded"
	EventAlertRaised       = "alert.raised"
	EventAlertAcknowledged = "alert.acknowledged"
)

// Event is a realtime update for one user
type Event struct {
	Kind   string       `json:"kind"`
	Vitals *VitalSigns  `json:"vitals,omitempty"`
	Alert  *HealthAlert `json:"alert,omitempty"`
}

// Options configures a Service. Only Store is required.
type Options struct {
	Store      LocalStore
	Sync       Syncer
	Notifier   Notifier
	Publisher  Publisher
	Thresholds *Thresholds
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Service records samples and manages the alerts they raise
type Service struct {
	store      LocalStore
	sync       Syncer
	notifier   Notifier
	publisher  Publisher
	thresholds *Thresholds
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// RecordResult is what Record hands back to the caller
type RecordResult struct {
	Vitals VitalSigns    `json:"vitals"`
	Alerts []HealthAlert `json:"alerts"`
}

// NewService creates a new vitals service
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("vitals service requires a local store")
	}

	s := &Service{
		store:      opts.Store,
		sync:       opts.Sync,
		notifier:   opts.Notifier,
		publisher:  opts.Publisher,
		thresholds: opts.Thresholds,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Clock,
	}

	if s.thresholds == nil {
		th, err := NewThresholds(nil)
		if err != nil {
			return nil, err
		}
		s.thresholds = th
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// Thresholds returns the active threshold holder
func (s *Service) Thresholds() *Thresholds {
	return s.thresholds
}

// Record stores a sample, evaluates it and dispatches the resulting alerts.
// Storage, sync and delivery failures are logged but never fail the call.
func (s *Service) Record(ctx context.Context, userID string, sample VitalSigns) (*RecordResult, error) {
	if userID == "" {
		return nil, apperrors.Because(apperrors.ErrInvalidVitals, "user id is required")
	}
	if err := sample.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	sample.ID = uuid.New().String()
	sample.UserID = userID
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	if sample.Source == "" {
		sample.Source = SourceManual
	}
	sample.BMI = nil
	fillBMI(&sample)

	if err := s.store.AppendVitals(ctx, &sample); err != nil {
		s.persistFailed("local", err, zap.String("vitals_id", sample.ID))
	}
	if s.sync != nil {
		if err := s.sync.PushVitals(ctx, &sample); err != nil {
			s.persistFailed("sync", err, zap.String("vitals_id", sample.ID))
		}
	}
	s.metrics.RecordVitals(string(sample.Source))

	alerts := Evaluate(&sample, s.thresholds.Get(), now)
	for i := range alerts {
		alerts[i].ID = uuid.New().String()
		s.metrics.RecordAlert(string(alerts[i].Type), string(alerts[i].Severity))
	}

	if len(alerts) > 0 {
		if err := s.store.AppendAlerts(ctx, alerts); err != nil {
			s.persistFailed("local", err, zap.Int("alerts", len(alerts)))
		}
		if s.sync != nil {
			if err := s.sync.PushAlerts(ctx, alerts); err != nil {
				s.persistFailed("sync", err, zap.Int("alerts", len(alerts)))
			}
		}
		s.notify(ctx, alerts)
	}

	s.publish(userID, Event{Kind: EventVitalsRecorded, Vitals: &sample})
	for i := range alerts {
		s.publish(userID, Event{Kind: EventAlertRaised, Alert: &alerts[i]})
	}

	s.logger.Info("Vitals recorded",
		zap.String("user_id", userID),
		zap.String("vitals_id", sample.ID),
		zap.String("source", string(sample.Source)),
		zap.Int("alerts", len(alerts)),
	)

	if alerts == nil {
		alerts = []HealthAlert{}
	}
	return &RecordResult{Vitals: sample, Alerts: alerts}, nil
}

func (s *Service) notify(ctx context.Context, alerts []HealthAlert) {
	if s.notifier == nil {
		return
	}

	for i := range alerts {
		a := &alerts[i]
		body := NotificationBody(a)
		data := NotificationData(a)

		var err error
		if a.IsCritical() {
			err = s.notifier.Emergency(ctx, a.UserID, a.Message, body, data)
		} else {
			err = s.notifier.HealthAlert(ctx, a.UserID, a.Message, body, data)
		}
		if err != nil {
			s.logger.Warn("Alert notification failed",
				zap.String("alert_id", a.ID),
				zap.String("severity", string(a.Severity)),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) publish(userID string, ev Event) {
	if s.publisher != nil {
		s.publisher.Publish(userID, ev)
	}
}

func (s *Service) persistFailed(target string, err error, fields ...zap.Field) {
	s.metrics.RecordPersistenceFailure(target)
	s.logger.Error("Failed to persist",
		append(fields, zap.String("target", target), zap.Error(err))...,
	)
}

// Acknowledge marks an alert as seen. Acknowledging twice is a no-op that
// returns the alert unchanged.
func (s *Service) Acknowledge(ctx context.Context, userID, alertID string) (*HealthAlert, error) {
	at := s.now()
	alert, changed, err := s.store.AcknowledgeAlert(ctx, userID, alertID, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return alert, nil
	}

	if s.sync != nil {
		if err := s.sync.MarkAcknowledged(ctx, alertID, at); err != nil {
			s.persistFailed("sync", err, zap.String("alert_id", alertID))
		}
	}
	s.metrics.RecordAcknowledged()
	s.publish(userID, Event{Kind: EventAlertAcknowledged, Alert: alert})

	return alert, nil
}

// Trend aggregates one metric of the user's log over period
func (s *Service) Trend(ctx context.Context, userID string, metric Metric, period Period) (HealthTrend, error) {
	samples, err := s.store.ListVitals(ctx, userID, 0)
	if err != nil {
		return HealthTrend{}, err
	}
	return CalculateTrend(samples, metric, period, s.now()), nil
}

// History returns the newest samples first; limit <= 0 means all
func (s *Service) History(ctx context.Context, userID string, limit int) ([]VitalSigns, error) {
	return s.store.ListVitals(ctx, userID, limit)
}

// Latest returns the most recent sample or nil
func (s *Service) Latest(ctx context.Context, userID string) (*VitalSigns, error) {
	return s.store.LatestVitals(ctx, userID)
}

// Alerts lists the user's alerts, optionally hiding acknowledged ones
func (s *Service) Alerts(ctx context.Context, userID string, includeAcknowledged bool) ([]HealthAlert, error) {
	all, err := s.store.ListAlerts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if includeAcknowledged {
		return all, nil
	}

	active := make([]HealthAlert, 0, len(all))
	for _, a := range all {
		if !a.Acknowledged {
			active = append(active, a)
		}
	}
	return active, nil
}

// Report builds the weekly health report
func (s *Service) Report(ctx context.Context, userID string) (*HealthReport, error) {
	samples, err := s.store.ListVitals(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	alerts, err := s.store.ListAlerts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildReport(samples, alerts, s.now()), nil
}

// Restore refills an empty local log from the remote store
func (s *Service) Restore(ctx context.Context, userID string) (int, error) {
	if s.sync == nil {
		return 0, nil
	}

	existing, err := s.store.ListVitals(ctx, userID, 1)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	samples, err := s.sync.PullVitals(ctx, userID)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrSyncFailed.Code, "failed to pull vitals")
	}
	for i := range samples {
		if err := s.store.AppendVitals(ctx, &samples[i]); err != nil {
			return i, err
		}
	}

	alerts, err := s.sync.PullAlerts(ctx, userID)
	if err != nil {
		return len(samples), apperrors.Wrap(err, apperrors.ErrSyncFailed.Code, "failed to pull alerts")
	}
	if len(alerts) > 0 {
		if err := s.store.AppendAlerts(ctx, alerts); err != nil {
			return len(samples), err
		}
	}

	s.logger.Info("Restored local log from sync store",
		zap.String("user_id", userID),
		zap.Int("vitals", len(samples)),
		zap.Int("alerts", len(alerts)),
	)
	return len(samples), nil
}
