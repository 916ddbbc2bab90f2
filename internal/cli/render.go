package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"golang.org/x/term"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	criticalStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle    = lipgloss.NewStyle().Faint(true)
)

const timeLayout = "2006-01-02 15:04"

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func num(v float64, format string) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf(format, v)
}

func optNum(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return num(*v, format)
}

// RenderVitals renders samples as a table, newest first as given
func RenderVitals(list []vitals.VitalSigns) string {
	if len(list) == 0 {
		return mutedStyle.Render("No vital signs recorded yet.")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "TEMP °C", "HR bpm", "BP mmHg", "SpO2 %", "RR /min", "SUGAR", "BMI", "SOURCE")
	for _, v := range list {
		bp := "-"
		if v.BloodPressure.Systolic > 0 || v.BloodPressure.Diastolic > 0 {
			bp = fmt.Sprintf("%.0f/%.0f", v.BloodPressure.Systolic, v.BloodPressure.Diastolic)
		}
		t.Row(
			v.Timestamp.Local().Format(timeLayout),
			num(v.Temperature, "%.1f"),
			num(v.HeartRate, "%.0f"),
			bp,
			num(v.OxygenSaturation, "%.0f"),
			num(v.RespiratoryRate, "%.0f"),
			optNum(v.BloodSugar, "%.0f"),
			optNum(v.BMI, "%.1f"),
			string(v.Source),
		)
	}
	return t.String()
}

// RenderAlerts lists alerts one per line with their ids
func RenderAlerts(alerts []vitals.HealthAlert) string {
	if len(alerts) == 0 {
		return okStyle.Render("No active alerts.")
	}

	var sb strings.Builder
	for _, a := range alerts {
		style := warnStyle
		if a.IsCritical() {
			style = criticalStyle
		}
		line := fmt.Sprintf("%-8s %s", strings.ToUpper(string(a.Severity)), a.Message)
		sb.WriteString(style.Render(line))
		sb.WriteString(mutedStyle.Render(fmt.Sprintf("  %s  %s", a.Timestamp.Local().Format(timeLayout), a.ID)))
		if a.Acknowledged {
			sb.WriteString(okStyle.Render("  acknowledged"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderTrend renders one trend summary
func RenderTrend(t vitals.HealthTrend) string {
	header := titleStyle.Render(fmt.Sprintf("%s (%s)", t.Metric, t.Period))
	if t.DataPoints == 0 {
		return header + "\n" + mutedStyle.Render("No data in this window.")
	}

	arrow := "→"
	switch t.Direction {
	case vitals.DirectionIncreasing:
		arrow = "↑"
	case vitals.DirectionDecreasing:
		arrow = "↓"
	}

	return fmt.Sprintf("%s\n  average  %.2f\n  range    %.2f - %.2f\n  trend    %s %s\n  samples  %d",
		header, t.Average, t.Min, t.Max, arrow, t.Direction, t.DataPoints)
}

// RenderThresholds renders the active threshold table
func RenderThresholds(tbl vitals.Table) string {
	metrics := make([]string, 0, len(tbl))
	for m := range tbl {
		metrics = append(metrics, string(m))
	}
	sort.Strings(metrics)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("METRIC", "NORMAL", "CRITICAL")
	for _, m := range metrics {
		th := tbl[vitals.Metric(m)]
		t.Row(m,
			fmt.Sprintf("%g - %g", th.Normal.Min, th.Normal.Max),
			fmt.Sprintf("%g - %g", th.Critical.Min, th.Critical.Max),
		)
	}
	return t.String()
}

// ReportMarkdown formats a health report as markdown
func ReportMarkdown(r *vitals.HealthReport) string {
	var sb strings.Builder

	sb.WriteString("# Health report\n\n")
	fmt.Fprintf(&sb, "_Generated %s_\n\n", r.GeneratedAt.Local().Format(timeLayout))

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Readings: **%d**\n", r.Summary.TotalReadings)
	fmt.Fprintf(&sb, "- Active alerts: **%d**\n", r.Summary.ActiveAlerts)
	if r.Summary.LastReading != nil {
		fmt.Fprintf(&sb, "- Last reading: %s\n", r.Summary.LastReading.Local().Format(timeLayout))
	}
	sb.WriteString("\n")

	if v := r.LatestVitals; v != nil {
		sb.WriteString("## Latest vitals\n\n")
		sb.WriteString("| Metric | Value |\n|---|---|\n")
		fmt.Fprintf(&sb, "| Temperature | %s °C |\n", num(v.Temperature, "%.1f"))
		fmt.Fprintf(&sb, "| Heart rate | %s bpm |\n", num(v.HeartRate, "%.0f"))
		fmt.Fprintf(&sb, "| Blood pressure | %s/%s mmHg |\n", num(v.BloodPressure.Systolic, "%.0f"), num(v.BloodPressure.Diastolic, "%.0f"))
		fmt.Fprintf(&sb, "| Oxygen saturation | %s %% |\n", num(v.OxygenSaturation, "%.0f"))
		fmt.Fprintf(&sb, "| Respiratory rate | %s /min |\n", num(v.RespiratoryRate, "%.0f"))
		if v.BMI != nil {
			fmt.Fprintf(&sb, "| BMI | %.1f (%s) |\n", *v.BMI, vitals.BMICategory(*v.BMI))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Weekly trends\n\n")
	sb.WriteString("| Metric | Average | Min | Max | Trend | Samples |\n|---|---|---|---|---|---|\n")
	metrics := make([]string, 0, len(r.Trends))
	for m := range r.Trends {
		metrics = append(metrics, string(m))
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		t := r.Trends[vitals.Metric(m)]
		fmt.Fprintf(&sb, "| %s | %.2f | %.2f | %.2f | %s | %d |\n", m, t.Average, t.Min, t.Max, t.Direction, t.DataPoints)
	}
	sb.WriteString("\n")

	if len(r.Alerts) > 0 {
		sb.WriteString("## Active alerts\n\n")
		for _, a := range r.Alerts {
			fmt.Fprintf(&sb, "- **%s** %s (%s)\n", a.Severity, a.Message, a.Timestamp.Local().Format(time.RFC822))
		}
		sb.WriteString("\n")
	}

	if len(r.Recommendations) > 0 {
		sb.WriteString("## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&sb, "- %s\n", rec)
		}
	}

	return sb.String()
}

// RenderMarkdown renders md for the terminal, or returns it unchanged when
// styled is false or rendering fails.
func RenderMarkdown(md string, styled bool) string {
	if !styled {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
