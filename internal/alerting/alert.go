// Package alerting scores change sets, decides whether they may notify, and
// delivers the resulting alerts.
package alerting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// NewChangeAlert assembles a change alert from a scored cycle. The caller
// applies suppression afterwards.
func NewChangeAlert(monitor domain.MonitorState, changes []domain.Change, findings []domain.AnomalyFinding, res Result, now time.Time) domain.Alert {
	return domain.Alert{
		ID:            ulid.Make().String(),
		MonitorID:     monitor.ID,
		Kind:          domain.AlertKindChange,
		GeneratedAt:   now.UTC(),
		PriorityScore: res.PriorityScore,
		Urgency:       res.Urgency,
		Title:         alertTitle(monitor.Company, changes, findings),
		Message:       alertMessage(changes, findings),
		Reasoning:     res.Reasoning,
		ContentHash:   ContentHash(changes, findings),
		Changes:       changes,
		Findings:      findings,
		ShouldNotify:  res.ShouldNotify,
	}
}

// NewMonitorPausedAlert is emitted once when a monitor enters the error state.
func NewMonitorPausedAlert(monitor domain.MonitorState, now time.Time) domain.Alert {
	title := fmt.Sprintf("%s: monitoring paused after %d consecutive failures", monitor.Company, monitor.ErrorCount)
	return domain.Alert{
		ID:            ulid.Make().String(),
		MonitorID:     monitor.ID,
		Kind:          domain.AlertKindMonitorPaused,
		GeneratedAt:   now.UTC(),
		PriorityScore: 10,
		Urgency:       domain.UrgencyCritical,
		Title:         title,
		Message:       "last error: " + monitor.LastError + "\nresume the monitor once the analysis runner is healthy",
		ContentHash:   ContentHash(nil, nil),
		ShouldNotify:  true,
	}
}

func alertTitle(company string, changes []domain.Change, findings []domain.AnomalyFinding) string {
	var lead string
	switch {
	case len(findings) > 0:
		worst := findings[0]
		for _, f := range findings[1:] {
			if f.Severity > worst.Severity {
				worst = f
			}
		}
		lead = fmt.Sprintf("%s %s anomaly", worst.Metric, strings.ReplaceAll(string(worst.Kind), "_", " "))
	case len(changes) > 0:
		lead = changes[0].Title
	default:
		lead = "no notable changes"
	}
	extra := len(changes) + len(findings) - 1
	if extra > 0 {
		return fmt.Sprintf("%s: %s (+%d more)", company, lead, extra)
	}
	return fmt.Sprintf("%s: %s", company, lead)
}

func alertMessage(changes []domain.Change, findings []domain.AnomalyFinding) string {
	var b strings.Builder
	sorted := append([]domain.AnomalyFinding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Severity > sorted[j].Severity })
	for _, f := range sorted {
		b.WriteString("- ")
		b.WriteString(f.Explanation)
		b.WriteString("\n")
	}
	for _, c := range changes {
		b.WriteString("- ")
		b.WriteString(c.Title)
		switch {
		case c.Previous != "" && c.Current != "":
			fmt.Fprintf(&b, ": %s -> %s", c.Previous, c.Current)
		case c.Current != "":
			fmt.Fprintf(&b, ": %s", c.Current)
		}
		if c.PercentChange != 0 {
			fmt.Fprintf(&b, " (%+.1f%%)", c.PercentChange)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
