package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu   sync.Mutex
	name string
	err  error
	got  []*Notification
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type staticPrefs map[string]bool

func (p staticPrefs) NotificationsEnabled(ctx context.Context, userID string) bool {
	enabled, ok := p[userID]
	return !ok || enabled
}

func TestDispatcher_NoSenders(t *testing.T) {
	d := NewDispatcher(Options{})
	err := d.HealthAlert(context.Background(), "u1", "t", "b", nil)
	assert.ErrorIs(t, err, apperrors.ErrNoSenders)
}

func TestDispatcher_FansOut(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(Options{Metrics: m})
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b"}
	d.Register(a)
	d.Register(b)

	assert.Equal(t, []string{"a", "b"}, d.Senders())

	data := map[string]string{"alert_id": "x"}
	require.NoError(t, d.HealthAlert(context.Background(), "u1", "Abnormal heart rate", "Value: 110 (threshold: 100)", data))

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
	n := a.got[0]
	assert.Equal(t, KindAlert, n.Kind)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, data, n.Data)
	assert.False(t, n.CreatedAt.IsZero())

	assert.Equal(t, int64(2), m.Snapshot().NotificationsSent)
}

func TestDispatcher_KindsAndPriorities(t *testing.T) {
	d := NewDispatcher(Options{})
	s := &recordingSender{name: "s"}
	d.Register(s)
	ctx := context.Background()

	require.NoError(t, d.Emergency(ctx, "u", "t", "b", nil))
	require.NoError(t, d.Reminder(ctx, "u", "t", "b", nil))
	require.NoError(t, d.Info(ctx, "u", "t", "b"))

	require.Len(t, s.got, 3)
	assert.Equal(t, KindEmergency, s.got[0].Kind)
	assert.Equal(t, PriorityHigh, s.got[0].Priority)
	assert.Equal(t, KindReminder, s.got[1].Kind)
	assert.Equal(t, PriorityMedium, s.got[1].Priority)
	assert.Equal(t, KindInfo, s.got[2].Kind)
	assert.Equal(t, PriorityLow, s.got[2].Priority)
}

func TestDispatcher_PartialFailureSucceeds(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Register(&recordingSender{name: "bad", err: errors.New("boom")})
	ok := &recordingSender{name: "ok"}
	d.Register(ok)

	require.NoError(t, d.HealthAlert(context.Background(), "u", "t", "b", nil))
	assert.Equal(t, 1, ok.count())
}

func TestDispatcher_AllFail(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Register(&recordingSender{name: "a", err: errors.New("a down")})
	d.Register(&recordingSender{name: "b", err: errors.New("b down")})

	err := d.HealthAlert(context.Background(), "u", "t", "b", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "b down")
}

func TestDispatcher_RateLimitSparesEmergencies(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(Options{RatePerMinute: 1, Burst: 1, Metrics: m})
	s := &recordingSender{name: "s"}
	d.Register(s)
	ctx := context.Background()

	require.NoError(t, d.HealthAlert(ctx, "u", "t", "b", nil))
	err := d.HealthAlert(ctx, "u", "t", "b", nil)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Emergency(ctx, "u", "t", "b", nil))
	}
	assert.Equal(t, 4, s.count())
	assert.Equal(t, int64(1), m.Snapshot().NotificationsThrottled)
}

func TestDispatcher_PreferencesToggle(t *testing.T) {
	d := NewDispatcher(Options{Preferences: staticPrefs{"quiet": false}})
	s := &recordingSender{name: "s"}
	d.Register(s)
	ctx := context.Background()

	require.NoError(t, d.HealthAlert(ctx, "quiet", "t", "b", nil))
	assert.Equal(t, 0, s.count())

	require.NoError(t, d.Emergency(ctx, "quiet", "t", "b", nil))
	assert.Equal(t, 1, s.count())

	require.NoError(t, d.HealthAlert(ctx, "loud", "t", "b", nil))
	assert.Equal(t, 2, s.count())
}

func TestDispatcher_BreakerOpensAfterTrips(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(Options{BreakerTrips: 2, BreakerTimeout: time.Hour, Metrics: m})
	bad := &recordingSender{name: "flaky", err: errors.New("down")}
	d.Register(bad)
	d.Register(&recordingSender{name: "ok"})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Emergency(ctx, "u", "t", "b", nil))
	}

	// the breaker short-circuits calls once open
	assert.Equal(t, 2, bad.count())
	assert.Equal(t, int64(4), m.Snapshot().NotificationsFailed)
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(zap.NewNop())
	assert.Equal(t, "log", s.Name())
	assert.NoError(t, s.Send(context.Background(), &Notification{Kind: KindEmergency}))
	assert.NoError(t, s.Send(context.Background(), &Notification{Kind: KindInfo}))
}

// ==================== FCM ====================

type fakeDevices struct {
	devices  []store.Device
	disabled []string
	updated  []store.Device
}

func (f *fakeDevices) ListDevices(ctx context.Context, userID string) ([]store.Device, error) {
	var out []store.Device
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDevices) UpdateDevice(ctx context.Context, d *store.Device) error {
	f.updated = append(f.updated, *d)
	return nil
}

func (f *fakeDevices) DisableDevice(ctx context.Context, token string) error {
	f.disabled = append(f.disabled, token)
	return nil
}

type fakeMulticast struct {
	msg  *messaging.MulticastMessage
	resp *messaging.BatchResponse
	err  error
}

func (f *fakeMulticast) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.msg = m
	return f.resp, f.err
}

func TestFCMSender_Send(t *testing.T) {
	devices := &fakeDevices{devices: []store.Device{
		{UserID: "u", Token: "tok-1"},
		{UserID: "u", Token: "tok-2"},
		{UserID: "other", Token: "tok-3"},
	}}
	client := &fakeMulticast{resp: &messaging.BatchResponse{
		SuccessCount: 2,
		Responses:    []*messaging.SendResponse{{Success: true}, {Success: true}},
	}}
	s := &FCMSender{client: client, devices: devices, logger: zap.NewNop()}

	err := s.Send(context.Background(), &Notification{
		UserID:   "u",
		Kind:     KindEmergency,
		Priority: PriorityHigh,
		Title:    "Critical temperature: 39.2°C",
		Body:     "Value: 39.2 (threshold: 38.5)",
		Data:     map[string]string{"alert_id": "a1"},
	})
	require.NoError(t, err)

	require.NotNil(t, client.msg)
	assert.Equal(t, []string{"tok-1", "tok-2"}, client.msg.Tokens)
	assert.Equal(t, "Critical temperature: 39.2°C", client.msg.Notification.Title)
	assert.Equal(t, "a1", client.msg.Data["alert_id"])
	assert.Equal(t, "emergency", client.msg.Data["kind"])
	assert.Equal(t, "high", client.msg.Android.Priority)
	assert.Equal(t, messaging.PriorityMax, client.msg.Android.Notification.Priority)
	assert.Equal(t, "10", client.msg.APNS.Headers["apns-priority"])
}

func TestFCMSender_NoDevicesIsNoop(t *testing.T) {
	client := &fakeMulticast{}
	s := &FCMSender{client: client, devices: &fakeDevices{}, logger: zap.NewNop()}
	require.NoError(t, s.Send(context.Background(), &Notification{UserID: "u"}))
	assert.Nil(t, client.msg)
}

func TestFCMSender_AllFailed(t *testing.T) {
	devices := &fakeDevices{devices: []store.Device{{UserID: "u", Token: "tok"}}}
	client := &fakeMulticast{resp: &messaging.BatchResponse{
		FailureCount: 1,
		Responses:    []*messaging.SendResponse{{Success: false, Error: errors.New("nope")}},
	}}
	s := &FCMSender{client: client, devices: devices, logger: zap.NewNop()}

	assert.Error(t, s.Send(context.Background(), &Notification{UserID: "u", Priority: PriorityLow}))
	assert.Empty(t, devices.disabled)
	assert.Equal(t, "normal", client.msg.Android.Priority)
}

// ==================== SNS ====================

type fakeSNS struct {
	published []*awssns.PublishInput
	created   int
}

func (f *fakeSNS) Publish(ctx context.Context, in *awssns.PublishInput, _ ...func(*awssns.Options)) (*awssns.PublishOutput, error) {
	f.published = append(f.published, in)
	return &awssns.PublishOutput{MessageId: aws.String("m")}, nil
}

func (f *fakeSNS) CreatePlatformEndpoint(ctx context.Context, in *awssns.CreatePlatformEndpointInput, _ ...func(*awssns.Options)) (*awssns.CreatePlatformEndpointOutput, error) {
	f.created++
	return &awssns.CreatePlatformEndpointOutput{EndpointArn: aws.String("arn:endpoint/" + aws.ToString(in.Token))}, nil
}

func TestSNSSender_Send(t *testing.T) {
	devices := &fakeDevices{devices: []store.Device{
		{ID: "d1", UserID: "u", Token: "tok-1", EndpointARN: "arn:endpoint/existing"},
		{ID: "d2", UserID: "u", Token: "tok-2"},
	}}
	client := &fakeSNS{}
	s := &SNSSender{client: client, platformARN: "arn:app", devices: devices, logger: zap.NewNop()}

	err := s.Send(context.Background(), &Notification{
		UserID: "u",
		Title:  "Abnormal heart rate: 110 bpm",
		Body:   "Value: 110 (threshold: 100)",
		Data:   map[string]string{"type": "heart_rate"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, client.created)
	require.Len(t, devices.updated, 1)
	assert.Equal(t, "arn:endpoint/tok-2", devices.updated[0].EndpointARN)

	require.Len(t, client.published, 2)
	assert.Equal(t, "arn:endpoint/existing", aws.ToString(client.published[0].TargetArn))
	assert.Equal(t, "json", aws.ToString(client.published[0].MessageStructure))

	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.published[0].Message)), &envelope))
	assert.Equal(t, "Value: 110 (threshold: 100)", envelope["default"])

	var gcm struct {
		Notification map[string]string `json:"notification"`
		Data         map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(envelope["GCM"]), &gcm))
	assert.Equal(t, "Abnormal heart rate: 110 bpm", gcm.Notification["title"])
	assert.Equal(t, "heart_rate", gcm.Data["type"])
}
