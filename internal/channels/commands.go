// Package channels holds the chat command set shared by the Telegram and
// Discord bots.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gmsas95/vitalwatch/internal/notify"
	"github.com/gmsas95/vitalwatch/internal/vitals"
)

// Health is the part of the vitals service exposed over chat
type Health interface {
	Latest(ctx context.Context, userID string) (*vitals.VitalSigns, error)
	Alerts(ctx context.Context, userID string, includeAcknowledged bool) ([]vitals.HealthAlert, error)
	Acknowledge(ctx context.Context, userID, alertID string) (*vitals.HealthAlert, error)
	Trend(ctx context.Context, userID string, metric vitals.Metric, period vitals.Period) (vitals.HealthTrend, error)
}

const HelpText = `*VitalWatch Bot*

/latest - Latest vital signs
/alerts - Unacknowledged alerts
/ack <id> - Acknowledge an alert
/trend <metric> [daily|weekly|monthly] - Trend summary
/status - Bot status
/help - Show this help`

// Handle runs one chat command for userID and returns the reply text
func Handle(ctx context.Context, h Health, userID, command string, args []string) string {
	switch command {
	case "start", "help":
		return HelpText

	case "status":
		return "✅ Bot is running and ready!"

	case "latest":
		v, err := h.Latest(ctx, userID)
		if err != nil {
			return "❌ Error: " + err.Error()
		}
		if v == nil {
			return "No vital signs recorded yet."
		}
		return FormatVitals(v)

	case "alerts":
		alerts, err := h.Alerts(ctx, userID, false)
		if err != nil {
			return "❌ Error: " + err.Error()
		}
		if len(alerts) == 0 {
			return "🟢 No active alerts."
		}
		var sb strings.Builder
		sb.WriteString("*Active alerts*\n")
		for i := range alerts {
			sb.WriteString(FormatAlertLine(&alerts[i]))
			sb.WriteString("\n")
		}
		return sb.String()

	case "ack":
		if len(args) == 0 {
			return "Usage: /ack <alert id>"
		}
		a, err := h.Acknowledge(ctx, userID, args[0])
		if err != nil {
			return "❌ " + err.Error()
		}
		return "✔️ Acknowledged: " + a.Message

	case "trend":
		if len(args) == 0 {
			return "Usage: /trend <metric> [daily|weekly|monthly]"
		}
		metric, err := vitals.ParseMetric(args[0])
		if err != nil {
			return "❌ " + err.Error()
		}
		period := vitals.PeriodWeekly
		if len(args) > 1 {
			if period, err = vitals.ParsePeriod(args[1]); err != nil {
				return "❌ " + err.Error()
			}
		}
		t, err := h.Trend(ctx, userID, metric, period)
		if err != nil {
			return "❌ " + err.Error()
		}
		return FormatTrend(t)

	default:
		return "❓ Unknown command. Use /help for available commands."
	}
}

// FormatVitals renders a sample as a short multi-line message
func FormatVitals(v *vitals.VitalSigns) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Vital signs* (%s)\n", v.Timestamp.Format(time.RFC822))
	fmt.Fprintf(&sb, "🌡 Temperature: %.1f°C\n", v.Temperature)
	fmt.Fprintf(&sb, "❤️ Heart rate: %.0f bpm\n", v.HeartRate)
	fmt.Fprintf(&sb, "🩸 Blood pressure: %.0f/%.0f mmHg\n", v.BloodPressure.Systolic, v.BloodPressure.Diastolic)
	fmt.Fprintf(&sb, "🫁 O₂ saturation: %.0f%%\n", v.OxygenSaturation)
	fmt.Fprintf(&sb, "💨 Respiratory rate: %.0f/min\n", v.RespiratoryRate)
	if v.BloodSugar != nil {
		fmt.Fprintf(&sb, "🍬 Blood sugar: %.0f mg/dL\n", *v.BloodSugar)
	}
	if v.BMI != nil {
		fmt.Fprintf(&sb, "⚖️ BMI: %.1f (%s)\n", *v.BMI, vitals.BMICategory(*v.BMI))
	}
	return sb.String()
}

// FormatAlertLine renders one alert with its id for /ack
func FormatAlertLine(a *vitals.HealthAlert) string {
	icon := "⚠️"
	if a.IsCritical() {
		icon = "🚨"
	}
	return fmt.Sprintf("%s %s `%s`", icon, a.Message, a.ID)
}

// FormatTrend renders a trend summary
func FormatTrend(t vitals.HealthTrend) string {
	if t.DataPoints == 0 {
		return fmt.Sprintf("No %s data in the %s window.", t.Metric, t.Period)
	}
	return fmt.Sprintf("*%s (%s)*\nAverage: %.2f\nRange: %.2f - %.2f\nTrend: %s\nSamples: %d",
		t.Metric, t.Period, t.Average, t.Min, t.Max, t.Direction, t.DataPoints)
}

// FormatNotification renders a pushed notification for chat
func FormatNotification(n *notify.Notification) string {
	icon := "ℹ️"
	switch n.Kind {
	case notify.KindEmergency:
		icon = "🚨"
	case notify.KindAlert:
		icon = "⚠️"
	case notify.KindReminder:
		icon = "⏰"
	}
	text := fmt.Sprintf("%s *%s*\n%s", icon, n.Title, n.Body)
	if id := n.Data["alert_id"]; id != "" {
		text += fmt.Sprintf("\n/ack %s", id)
	}
	return text
}

// SplitMessage splits text into chunks no longer than maxLen at line breaks
func SplitMessage(text string, maxLen int) []string {
	var parts []string
	var current strings.Builder

	for _, line := range strings.Split(text, "\n") {
		if current.Len()+len(line)+1 > maxLen && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
