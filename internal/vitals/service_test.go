package vitals

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory LocalStore
type memStore struct {
	mu        sync.Mutex
	vitals    []VitalSigns
	alerts    []HealthAlert
	failWrite bool
}

func (m *memStore) AppendVitals(ctx context.Context, v *VitalSigns) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("disk full")
	}
	m.vitals = append(m.vitals, *v)
	return nil
}

func (m *memStore) ListVitals(ctx context.Context, userID string, limit int) ([]VitalSigns, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VitalSigns
	for _, v := range m.vitals {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestVitals(ctx context.Context, userID string) (*VitalSigns, error) {
	list, _ := m.ListVitals(ctx, userID, 1)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (m *memStore) AppendAlerts(ctx context.Context, alerts []HealthAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("disk full")
	}
	m.alerts = append(m.alerts, alerts...)
	return nil
}

func (m *memStore) ListAlerts(ctx context.Context, userID string) ([]HealthAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HealthAlert
	for _, a := range m.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AcknowledgeAlert(ctx context.Context, userID, alertID string, at time.Time) (*HealthAlert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		a := &m.alerts[i]
		if a.ID != alertID || a.UserID != userID {
			continue
		}
		if a.Acknowledged {
			cp := *a
			return &cp, false, nil
		}
		a.Acknowledged = true
		a.AcknowledgedAt = &at
		cp := *a
		return &cp, true, nil
	}
	return nil, false, apperrors.ErrAlertNotFound
}

type fakeSync struct {
	mu     sync.Mutex
	vitals []VitalSigns
	alerts []HealthAlert
	acked  []string
	err    error
}

func (f *fakeSync) PushVitals(ctx context.Context, v *VitalSigns) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.vitals = append(f.vitals, *v)
	return nil
}

func (f *fakeSync) PushAlerts(ctx context.Context, alerts []HealthAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alerts...)
	return nil
}

func (f *fakeSync) MarkAcknowledged(ctx context.Context, alertID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, alertID)
	return f.err
}

func (f *fakeSync) PullVitals(ctx context.Context, userID string) ([]VitalSigns, error) {
	return f.vitals, f.err
}

func (f *fakeSync) PullAlerts(ctx context.Context, userID string) ([]HealthAlert, error) {
	return f.alerts, f.err
}

type sent struct {
	kind  string
	title string
	body  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) HealthAlert(ctx context.Context, userID, title, body string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{"alert", title, body})
	return f.err
}

func (f *fakeNotifier) Emergency(ctx context.Context, userID, title, body string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{"emergency", title, body})
	return f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakePublisher) Publish(userID string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fixture struct {
	svc       *Service
	store     *memStore
	sync      *fakeSync
	notifier  *fakeNotifier
	publisher *fakePublisher
	metrics   *metrics.Metrics
	now       time.Time
}

func setupService(t *testing.T) *fixture {
	logger, _ := zap.NewDevelopment()
	f := &fixture{
		store:     &memStore{},
		sync:      &fakeSync{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		metrics:   metrics.New(),
		now:       time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC),
	}

	svc, err := NewService(Options{
		Store:     f.store,
		Sync:      f.sync,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Logger:    logger,
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestRecord_NormalSample(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	res, err := f.svc.Record(ctx, "user_123", normalSample())
	require.NoError(t, err)

	assert.NotEmpty(t, res.Vitals.ID)
	assert.NotEqual(t, "v1", res.Vitals.ID)
	assert.Equal(t, "user_123", res.Vitals.UserID)
	assert.Equal(t, f.now, res.Vitals.Timestamp)
	assert.Equal(t, SourceManual, res.Vitals.Source)
	assert.NotNil(t, res.Alerts)
	assert.Empty(t, res.Alerts)

	assert.Len(t, f.store.vitals, 1)
	assert.Len(t, f.sync.vitals, 1)
	assert.Empty(t, f.notifier.sent)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, EventVitalsRecorded, f.publisher.events[0].Kind)
}

func TestRecord_KeepsProvidedTimestamp(t *testing.T) {
	f := setupService(t)

	sample := normalSample()
	sample.Timestamp = f.now.Add(-2 * time.Hour)

	res, err := f.svc.Record(context.Background(), "user_123", sample)
	require.NoError(t, err)
	assert.Equal(t, sample.Timestamp, res.Vitals.Timestamp)
}

func TestRecord_ComputesBMI(t *testing.T) {
	f := setupService(t)

	sample := normalSample()
	sample.Weight = Float(70)
	sample.Height = Float(175)
	sample.BMI = Float(99)

	res, err := f.svc.Record(context.Background(), "user_123", sample)
	require.NoError(t, err)
	require.NotNil(t, res.Vitals.BMI)
	assert.InDelta(t, 22.857, *res.Vitals.BMI, 0.001)

	sample.Height = nil
	res, err = f.svc.Record(context.Background(), "user_123", sample)
	require.NoError(t, err)
	assert.Nil(t, res.Vitals.BMI)
}

func TestRecord_AlertsAndNotifications(t *testing.T) {
	f := setupService(t)

	sample := normalSample()
	sample.Temperature = 39.2
	sample.HeartRate = 105

	res, err := f.svc.Record(context.Background(), "user_123", sample)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 2)

	for _, a := range res.Alerts {
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, res.Vitals.ID, a.VitalsID)
		assert.Equal(t, f.now, a.Timestamp)
	}

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, sent{"emergency", "Critical temperature: 39.2°C", "Value: 39.2 (threshold: 38.5)"}, f.notifier.sent[0])
	assert.Equal(t, "alert", f.notifier.sent[1].kind)

	assert.Len(t, f.store.alerts, 2)
	assert.Len(t, f.sync.alerts, 2)

	kinds := []string{}
	for _, ev := range f.publisher.events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{EventVitalsRecorded, EventAlertRaised, EventAlertRaised}, kinds)

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.AlertsRaised)
	assert.Equal(t, int64(1), snap.CriticalAlerts)
}

func TestRecord_FailuresDoNotFailCall(t *testing.T) {
	f := setupService(t)
	f.store.failWrite = true
	f.sync.err = errors.New("offline")
	f.notifier.err = errors.New("no route")

	sample := normalSample()
	sample.OxygenSaturation = 85

	res, err := f.svc.Record(context.Background(), "user_123", sample)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, SeverityCritical, res.Alerts[0].Severity)

	assert.Equal(t, int64(4), f.metrics.Snapshot().PersistenceFailures)
}

func TestRecord_RejectsInvalid(t *testing.T) {
	f := setupService(t)

	sample := normalSample()
	sample.Temperature = -3
	_, err := f.svc.Record(context.Background(), "user_123", sample)
	assert.ErrorIs(t, err, apperrors.ErrInvalidVitals)

	_, err = f.svc.Record(context.Background(), "", normalSample())
	assert.ErrorIs(t, err, apperrors.ErrInvalidVitals)

	assert.Empty(t, f.store.vitals)
}

func TestRecord_UsesActiveThresholds(t *testing.T) {
	f := setupService(t)

	table := DefaultTable()
	table[MetricHeartRate] = Threshold{Normal: Band{60, 70}, Critical: Band{50, 120}}
	require.NoError(t, f.svc.Thresholds().Set(table))

	res, err := f.svc.Record(context.Background(), "user_123", normalSample())
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 70.0, res.Alerts[0].Threshold)
}

func TestAcknowledge(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	sample := normalSample()
	sample.Temperature = 38
	res, err := f.svc.Record(ctx, "user_123", sample)
	require.NoError(t, err)
	id := res.Alerts[0].ID

	f.now = f.now.Add(time.Minute)
	alert, err := f.svc.Acknowledge(ctx, "user_123", id)
	require.NoError(t, err)
	assert.True(t, alert.Acknowledged)
	require.NotNil(t, alert.AcknowledgedAt)
	assert.Equal(t, f.now, *alert.AcknowledgedAt)
	assert.Equal(t, []string{id}, f.sync.acked)

	// second acknowledgement changes nothing
	f.now = f.now.Add(time.Minute)
	again, err := f.svc.Acknowledge(ctx, "user_123", id)
	require.NoError(t, err)
	assert.Equal(t, *alert.AcknowledgedAt, *again.AcknowledgedAt)
	assert.Len(t, f.sync.acked, 1)

	active, err := f.svc.Alerts(ctx, "user_123", false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := f.svc.Alerts(ctx, "user_123", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAcknowledge_Unknown(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.Acknowledge(context.Background(), "user_123", "missing")
	assert.ErrorIs(t, err, apperrors.ErrAlertNotFound)
}

func TestTrendAndReport(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	for i, temp := range []float64{36.4, 37.4, 38.4} {
		s := normalSample()
		s.Temperature = temp
		s.Timestamp = f.now.Add(time.Duration(i-3) * time.Hour)
		_, err := f.svc.Record(ctx, "user_123", s)
		require.NoError(t, err)
	}

	trend, err := f.svc.Trend(ctx, "user_123", MetricTemperature, PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 3, trend.DataPoints)
	assert.Equal(t, 37.4, trend.Average)
	assert.Equal(t, DirectionIncreasing, trend.Direction)

	latest, err := f.svc.Latest(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, 38.4, latest.Temperature)

	history, err := f.svc.History(ctx, "user_123", 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	report, err := f.svc.Report(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Summary.TotalReadings)
	assert.Equal(t, 1, report.Summary.ActiveAlerts)
	assert.Contains(t, report.Recommendations, RecommendFever)
}

func TestRestore(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	f.sync.vitals = []VitalSigns{{ID: "r1", UserID: "user_123", Timestamp: f.now, HeartRate: 70}}
	f.sync.alerts = []HealthAlert{{ID: "ra", UserID: "user_123"}}

	n, err := f.svc.Restore(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.store.vitals, 1)
	assert.Len(t, f.store.alerts, 1)

	// local log no longer empty
	n, err = f.svc.Restore(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
