package domain

import (
	"fmt"
	"time"
)

// PeriodKind names an aggregation window.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
)

// ParsePeriodKind validates a textual period kind.
func ParsePeriodKind(v string) (PeriodKind, error) {
	switch PeriodKind(v) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return PeriodKind(v), nil
	}
	return "", fmt.Errorf("unknown period kind %q", v)
}

// PeriodStart returns the UTC start of the window containing t.
// Weeks follow ISO 8601 and begin on Monday.
func (k PeriodKind) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch k {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// Next returns the start of the window after the one beginning at start.
func (k PeriodKind) Next(start time.Time) time.Time {
	switch k {
	case PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// TrendLabel summarises the direction of a metric inside a window.
type TrendLabel string

const (
	TrendUp     TrendLabel = "up"
	TrendDown   TrendLabel = "down"
	TrendStable TrendLabel = "stable"
)

// MetricStats holds descriptive statistics for one metric.
type MetricStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Count  int     `json:"count"`
}

// SignificantChange records a metric whose earliest-to-latest change exceeded
// the configured threshold.
type SignificantChange struct {
	Metric        string  `json:"metric"`
	PercentChange float64 `json:"percent_change"`
	Previous      float64 `json:"previous"`
	Current       float64 `json:"current"`
}

// Aggregation is a statistical rollup of snapshots over one period.
type Aggregation struct {
	MonitorID          string                 `json:"monitor_id"`
	Period             PeriodKind             `json:"period"`
	Start              time.Time              `json:"start"`
	End                time.Time              `json:"end"`
	SnapshotCount      int                    `json:"snapshot_count"`
	Stats              map[string]MetricStats `json:"stats"`
	Trends             map[string]TrendLabel  `json:"trends"`
	MovingAverages     map[string]float64     `json:"moving_averages"`
	SignificantChanges []SignificantChange    `json:"significant_changes,omitempty"`
	TopMarketTrends    []string               `json:"top_market_trends,omitempty"`
	MetricErrors       map[string]string      `json:"metric_errors,omitempty"`
	GeneratedAt        time.Time              `json:"generated_at"`
}
