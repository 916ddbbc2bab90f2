package vitals

import "time"

// ReportSummary holds the headline numbers of a report
type ReportSummary struct {
	TotalReadings int        `json:"total_readings"`
	ActiveAlerts  int        `json:"active_alerts"`
	LastReading   *time.Time `json:"last_reading"`
}

// HealthReport is the weekly overview shown to the user
type HealthReport struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Summary         ReportSummary          `json:"summary"`
	LatestVitals    *VitalSigns            `json:"latest_vitals"`
	Trends          map[Metric]HealthTrend `json:"trends"`
	Alerts          []HealthAlert          `json:"alerts"`
	Recommendations []string               `json:"recommendations"`
}

var reportMetrics = []Metric{MetricTemperature, MetricHeartRate, MetricOxygenSaturation}

const (
	RecommendFever       = "See a doctor if the fever persists"
	RecommendHeartRate   = "Avoid intense physical activity"
	RecommendVentilation = "Improve the ventilation of your space"
	RecommendConsult     = "Consult a health professional immediately"
)

// BuildReport assembles a report from a user's full sample log and alert list
func BuildReport(samples []VitalSigns, alerts []HealthAlert, now time.Time) *HealthReport {
	report := &HealthReport{
		GeneratedAt:     now,
		Summary:         ReportSummary{TotalReadings: len(samples)},
		Trends:          make(map[Metric]HealthTrend, len(reportMetrics)),
		Alerts:          []HealthAlert{},
		Recommendations: []string{},
	}

	for i := range samples {
		if report.LatestVitals == nil || samples[i].Timestamp.After(report.LatestVitals.Timestamp) {
			latest := samples[i]
			report.LatestVitals = &latest
		}
	}
	if report.LatestVitals != nil {
		ts := report.LatestVitals.Timestamp
		report.Summary.LastReading = &ts
	}

	for _, m := range reportMetrics {
		report.Trends[m] = CalculateTrend(samples, m, PeriodWeekly, now)
	}

	for _, a := range alerts {
		if !a.Acknowledged {
			report.Alerts = append(report.Alerts, a)
		}
	}
	report.Summary.ActiveAlerts = len(report.Alerts)

	report.Recommendations = Recommend(report.Trends, report.Alerts)
	return report
}

// Recommend derives advice from weekly trends and the active alerts
func Recommend(trends map[Metric]HealthTrend, active []HealthAlert) []string {
	recs := []string{}

	if t, ok := trends[MetricTemperature]; ok && t.Direction == DirectionIncreasing && t.Average > 37 {
		recs = append(recs, RecommendFever)
	}
	if t, ok := trends[MetricHeartRate]; ok && t.Direction == DirectionIncreasing && t.Average > 100 {
		recs = append(recs, RecommendHeartRate)
	}
	// no data means no oxygen advice
	if t, ok := trends[MetricOxygenSaturation]; ok && t.DataPoints > 0 && t.Average < 95 {
		recs = append(recs, RecommendVentilation)
	}

	for i := range active {
		if active[i].IsCritical() {
			recs = append(recs, RecommendConsult)
			break
		}
	}

	return recs
}
