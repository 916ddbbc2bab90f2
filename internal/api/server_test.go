package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gmsas95/vitalwatch/internal/config"
	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/realtime"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var clock = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type testServer struct {
	srv     *Server
	local   *store.Local
	sync    *store.Sync
	metrics *metrics.Metrics
	token   string
}

func setupServer(t *testing.T, withRegistry bool) *testServer {
	t.Helper()

	local, err := store.OpenLocalInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	m := metrics.New()
	hub := realtime.NewHub(m, zap.NewNop())
	t.Cleanup(hub.Close)

	opts := vitals.Options{
		Store:     local,
		Publisher: hub,
		Metrics:   m,
		Clock:     func() time.Time { return clock },
	}

	ts := &testServer{local: local, metrics: m}
	deps := Deps{
		Config: &config.Config{
			Server:   config.ServerConfig{ReadTimeout: 5, WriteTimeout: 5},
			User:     config.UserConfig{ID: "default"},
			Security: config.SecurityConfig{JWTSecret: "test-secret", AdminPassword: "s3cret", AllowOrigins: []string{"*"}, TokenTTLHours: 1},
		},
		Preferences: local,
		Hub:         hub,
		Metrics:     m,
	}

	if withRegistry {
		sync, err := store.OpenSync("sqlite", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { sync.Close() })
		opts.Sync = sync
		ts.sync = sync
		deps.Registry = sync
	}

	svc, err := vitals.NewService(opts)
	require.NoError(t, err)
	deps.Vitals = svc

	ts.srv = New(deps)
	ts.token = ts.login(t, "s3cret")
	return ts
}

func (ts *testServer) login(t *testing.T, password string) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": password}, "")
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var out loginResponse
	decode(t, resp, &out)
	return out.Token
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.srv.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) authed(t *testing.T, method, path string, body interface{}) *http.Response {
	return ts.do(t, method, path, body, ts.token)
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func errorCode(t *testing.T, resp *http.Response) string {
	var body map[string]string
	decode(t, resp, &body)
	return body["code"]
}

func feverSample() map[string]interface{} {
	return map[string]interface{}{
		"temperature":       39.2,
		"heart_rate":        88,
		"blood_pressure":    map[string]float64{"systolic": 120, "diastolic": 80},
		"oxygen_saturation": 97,
		"respiratory_rate":  16,
		"weight":            70,
		"height":            175,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupServer(t, false)

	resp := ts.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "vitalwatch_")

	resp = ts.do(t, http.MethodGet, "/api/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	ts := setupServer(t, false)
	assert.NotEmpty(t, ts.token)

	resp := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_001", errorCode(t, resp))
}

func TestAuthRequired(t *testing.T) {
	ts := setupServer(t, false)

	resp := ts.do(t, http.MethodGet, "/api/vitals", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/vitals", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/vitals?token="+ts.token, nil)
	r, err := ts.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, r.StatusCode)
}

func TestRecordAndAcknowledge(t *testing.T) {
	ts := setupServer(t, true)

	resp := ts.authed(t, http.MethodPost, "/api/vitals", feverSample())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res vitals.RecordResult
	decode(t, resp, &res)
	assert.NotEmpty(t, res.Vitals.ID)
	assert.Equal(t, "default", res.Vitals.UserID)
	require.NotNil(t, res.Vitals.BMI)
	assert.InDelta(t, 22.86, *res.Vitals.BMI, 0.01)
	require.Len(t, res.Alerts, 1)
	alert := res.Alerts[0]
	assert.Equal(t, vitals.MetricTemperature, alert.Type)
	assert.Equal(t, vitals.SeverityCritical, alert.Severity)
	assert.Equal(t, "Critical temperature: 39.2°C", alert.Message)

	resp = ts.authed(t, http.MethodGet, "/api/vitals/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest vitals.VitalSigns
	decode(t, resp, &latest)
	assert.Equal(t, res.Vitals.ID, latest.ID)

	resp = ts.authed(t, http.MethodGet, "/api/alerts", nil)
	var active []vitals.HealthAlert
	decode(t, resp, &active)
	require.Len(t, active, 1)

	resp = ts.authed(t, http.MethodPost, "/api/alerts/"+alert.ID+"/ack", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acked vitals.HealthAlert
	decode(t, resp, &acked)
	assert.True(t, acked.Acknowledged)
	require.NotNil(t, acked.AcknowledgedAt)

	resp = ts.authed(t, http.MethodGet, "/api/alerts", nil)
	decode(t, resp, &active)
	assert.Empty(t, active)

	resp = ts.authed(t, http.MethodGet, "/api/alerts?all=true", nil)
	decode(t, resp, &active)
	assert.Len(t, active, 1)

	resp = ts.authed(t, http.MethodPost, "/api/alerts/missing/ack", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ALERT_001", errorCode(t, resp))

	pulled, err := ts.sync.PullAlerts(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.True(t, pulled[0].Acknowledged)
}

func TestRecordRejectsInvalid(t *testing.T) {
	ts := setupServer(t, false)

	resp := ts.authed(t, http.MethodPost, "/api/vitals", map[string]interface{}{"heart_rate": -4})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VITALS_001", errorCode(t, resp))

	resp = ts.authed(t, http.MethodPost, "/api/vitals", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.authed(t, http.MethodGet, "/api/vitals/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListVitalsNewestFirst(t *testing.T) {
	ts := setupServer(t, false)

	for i, hr := range []float64{70, 75, 80} {
		s := map[string]interface{}{
			"heart_rate": hr,
			"timestamp":  clock.Add(time.Duration(i-3) * time.Hour),
		}
		resp := ts.authed(t, http.MethodPost, "/api/vitals", s)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.authed(t, http.MethodGet, "/api/vitals?limit=2", nil)
	var list []vitals.VitalSigns
	decode(t, resp, &list)
	require.Len(t, list, 2)
	assert.Equal(t, 80.0, list[0].HeartRate)
	assert.Equal(t, 75.0, list[1].HeartRate)
}

func TestTrendAndReport(t *testing.T) {
	ts := setupServer(t, false)

	for i, temp := range []float64{36.4, 37.4, 38.4} {
		s := map[string]interface{}{
			"temperature": temp,
			"timestamp":   clock.Add(time.Duration(i-3) * time.Hour),
		}
		require.Equal(t, http.StatusCreated, ts.authed(t, http.MethodPost, "/api/vitals", s).StatusCode)
	}

	resp := ts.authed(t, http.MethodGet, "/api/trends/temperature?period=daily", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trend vitals.HealthTrend
	decode(t, resp, &trend)
	assert.Equal(t, 3, trend.DataPoints)
	assert.Equal(t, vitals.DirectionIncreasing, trend.Direction)
	assert.InDelta(t, 37.4, trend.Average, 0.001)

	resp = ts.authed(t, http.MethodGet, "/api/trends/mood", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VITALS_002", errorCode(t, resp))

	resp = ts.authed(t, http.MethodGet, "/api/trends/temperature?period=yearly", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VITALS_003", errorCode(t, resp))

	resp = ts.authed(t, http.MethodGet, "/api/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report vitals.HealthReport
	decode(t, resp, &report)
	assert.Equal(t, 3, report.Summary.TotalReadings)
	assert.Contains(t, report.Recommendations, vitals.RecommendFever)
}

func TestThresholds(t *testing.T) {
	ts := setupServer(t, false)

	resp := ts.authed(t, http.MethodGet, "/api/thresholds", nil)
	var got thresholdsResponse
	decode(t, resp, &got)
	assert.Equal(t, vitals.DefaultTable(), got.Thresholds)

	update := map[string]interface{}{
		"heart_rate": map[string]interface{}{
			"normal":   map[string]float64{"min": 55, "max": 105},
			"critical": map[string]float64{"min": 45, "max": 130},
		},
	}
	resp = ts.authed(t, http.MethodPut, "/api/thresholds", update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &got)
	assert.Equal(t, vitals.Band{Min: 55, Max: 105}, got.Thresholds[vitals.MetricHeartRate].Normal)
	assert.Equal(t, vitals.DefaultTable()[vitals.MetricTemperature], got.Thresholds[vitals.MetricTemperature])

	// a heart rate of 103 no longer raises an alert
	resp = ts.authed(t, http.MethodPost, "/api/vitals", map[string]interface{}{"heart_rate": 103})
	var res vitals.RecordResult
	decode(t, resp, &res)
	assert.Empty(t, res.Alerts)

	bad := map[string]interface{}{
		"heart_rate": map[string]interface{}{
			"normal":   map[string]float64{"min": 40, "max": 100},
			"critical": map[string]float64{"min": 50, "max": 120},
		},
	}
	resp = ts.authed(t, http.MethodPut, "/api/thresholds", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VITALS_004", errorCode(t, resp))
}

func TestDevicesAndToggle(t *testing.T) {
	ts := setupServer(t, true)

	resp := ts.authed(t, http.MethodPost, "/api/devices", map[string]string{"platform": "android", "token": "fcm-token"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var d store.Device
	decode(t, resp, &d)
	assert.Equal(t, "default", d.UserID)
	assert.True(t, d.Enabled)

	resp = ts.authed(t, http.MethodPost, "/api/devices", map[string]string{"platform": "blackberry", "token": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.authed(t, http.MethodPost, "/api/devices", map[string]string{"platform": "ios"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.authed(t, http.MethodPost, "/api/notifications/toggle", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ts.local.NotificationsEnabled(context.Background(), "default"))
}

func TestReminders(t *testing.T) {
	ts := setupServer(t, true)
	due := clock.Add(time.Hour)

	resp := ts.authed(t, http.MethodPost, "/api/reminders", map[string]interface{}{
		"kind":       "medication",
		"medication": "Metformin",
		"dosage":     "850mg",
		"due_at":     due,
		"recurrence": "daily",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var med store.Reminder
	decode(t, resp, &med)
	assert.Equal(t, "Take Metformin - 850mg at 13:00", med.Body)

	resp = ts.authed(t, http.MethodPost, "/api/reminders", map[string]interface{}{
		"kind":      "appointment",
		"doctor":    "Dr. Sow",
		"specialty": "Cardiology",
		"location":  "Room 4",
		"due_at":    due.Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.authed(t, http.MethodPost, "/api/reminders", map[string]interface{}{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.authed(t, http.MethodGet, "/api/reminders", nil)
	var list []store.Reminder
	decode(t, resp, &list)
	require.Len(t, list, 2)
	assert.Equal(t, med.ID, list[0].ID)

	resp = ts.authed(t, http.MethodDelete, "/api/reminders/"+med.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.authed(t, http.MethodDelete, "/api/reminders/"+med.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegistryDisabled(t *testing.T) {
	ts := setupServer(t, false)

	resp := ts.authed(t, http.MethodGet, "/api/reminders", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "STORE_001", errorCode(t, resp))
}

func TestAlertStreamRequiresUpgrade(t *testing.T) {
	ts := setupServer(t, false)

	resp := ts.authed(t, http.MethodGet, "/ws/alerts", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/ws/alerts", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
	assert.Equal(t, http.StatusUpgradeRequired, statusFor(fiber.ErrUpgradeRequired))
	assert.Equal(t, http.StatusNotFound, statusFor(apperrors.ErrReminderNotFound))
}
