package vitals

import (
	"fmt"
	"strconv"
	"time"
)

// metricSpec describes how one evaluated metric is read and reported
type metricSpec struct {
	metric Metric
	family Metric
	label  string
	suffix string
}

// evaluated lists the metrics checked against thresholds, in alert order
var evaluated = []metricSpec{
	{MetricTemperature, MetricTemperature, "temperature", "°C"},
	{MetricHeartRate, MetricHeartRate, "heart rate", " bpm"},
	{MetricSystolic, MetricBloodPressure, "systolic pressure", " mmHg"},
	{MetricDiastolic, MetricBloodPressure, "diastolic pressure", " mmHg"},
	{MetricOxygenSaturation, MetricOxygenSaturation, "oxygen saturation", "%"},
	{MetricRespiratoryRate, MetricRespiratoryRate, "respiratory rate", " breaths/min"},
	{MetricBloodSugar, MetricBloodSugar, "blood sugar", " mg/dL"},
}

func specFor(m Metric) (metricSpec, bool) {
	for _, s := range evaluated {
		if s.metric == m {
			return s, true
		}
	}
	return metricSpec{}, false
}

// classify returns the severity and the breached bound for value, or ok=false
// when the value is inside the normal band.
func classify(value float64, th Threshold) (sev Severity, bound float64, ok bool) {
	switch {
	case value < th.Critical.Min:
		return SeverityCritical, th.Critical.Min, true
	case value > th.Critical.Max:
		return SeverityCritical, th.Critical.Max, true
	case value < th.Normal.Min:
		return SeverityMedium, th.Normal.Min, true
	case value > th.Normal.Max:
		return SeverityMedium, th.Normal.Max, true
	}
	return "", 0, false
}

// Evaluate checks every measured metric of v against table and returns one
// alert per out-of-range metric. The returned alerts carry no ID yet.
func Evaluate(v *VitalSigns, table Table, now time.Time) []HealthAlert {
	var alerts []HealthAlert

	for _, ms := range evaluated {
		value, ok := v.Value(ms.metric)
		if !ok {
			continue
		}
		th, ok := table[ms.metric]
		if !ok {
			continue
		}

		sev, bound, breached := classify(value, th)
		if !breached {
			continue
		}

		alert := HealthAlert{
			UserID:    v.UserID,
			VitalsID:  v.ID,
			Type:      ms.family,
			Severity:  sev,
			Value:     value,
			Threshold: bound,
			Message:   alertMessage(ms, sev, value),
			Timestamp: now,
		}
		if ms.family != ms.metric {
			alert.Component = ms.metric
		}
		alerts = append(alerts, alert)
	}

	return alerts
}

func alertMessage(ms metricSpec, sev Severity, value float64) string {
	prefix := "Abnormal"
	if sev == SeverityCritical {
		prefix = "Critical"
	}
	return fmt.Sprintf("%s %s: %s%s", prefix, ms.label, formatValue(value), ms.suffix)
}

// NotificationBody is the human readable detail line sent with an alert
func NotificationBody(a *HealthAlert) string {
	return fmt.Sprintf("Value: %s (threshold: %s)", formatValue(a.Value), formatValue(a.Threshold))
}

// NotificationData is the key/value payload attached to push notifications
func NotificationData(a *HealthAlert) map[string]string {
	data := map[string]string{
		"type":      string(a.Type),
		"alert_id":  a.ID,
		"severity":  string(a.Severity),
		"value":     formatValue(a.Value),
		"threshold": formatValue(a.Threshold),
	}
	if a.Component != "" {
		data["component"] = string(a.Component)
	}
	return data
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
