package vitals

import (
	"math"
	"sort"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
)

// Period is a trend aggregation window
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Duration returns the window length
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// ParsePeriod validates a period name
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	}
	return "", apperrors.Because(apperrors.ErrUnknownPeriod, "%q", s)
}

// Direction of a trend
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// trendChangeRatio is the relative change between first and last reading
// above which a trend is no longer stable
const trendChangeRatio = 0.05

// HealthTrend summarises one metric over a period
type HealthTrend struct {
	Period     Period    `json:"period"`
	Metric     Metric    `json:"metric"`
	Average    float64   `json:"average"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Direction  Direction `json:"trend"`
	DataPoints int       `json:"data_points"`
}

// CalculateTrend aggregates metric over samples whose age relative to now
// does not exceed period. Samples may be in any order.
func CalculateTrend(samples []VitalSigns, metric Metric, period Period, now time.Time) HealthTrend {
	trend := HealthTrend{
		Period:    period,
		Metric:    metric,
		Direction: DirectionStable,
	}

	window := period.Duration()
	inWindow := make([]VitalSigns, 0, len(samples))
	for _, s := range samples {
		if now.Sub(s.Timestamp) <= window {
			inWindow = append(inWindow, s)
		}
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].Timestamp.Before(inWindow[j].Timestamp)
	})

	values := make([]float64, 0, len(inWindow))
	for i := range inWindow {
		if v, ok := inWindow[i].Value(metric); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return trend
	}

	sum := 0.0
	trend.Min, trend.Max = values[0], values[0]
	for _, v := range values {
		sum += v
		trend.Min = math.Min(trend.Min, v)
		trend.Max = math.Max(trend.Max, v)
	}
	trend.Average = math.Round(sum/float64(len(values))*100) / 100
	trend.DataPoints = len(values)

	if len(values) >= 2 {
		first, last := values[0], values[len(values)-1]
		change := last - first
		if math.Abs(change/first) > trendChangeRatio {
			if change > 0 {
				trend.Direction = DirectionIncreasing
			} else {
				trend.Direction = DirectionDecreasing
			}
		}
	}

	return trend
}
