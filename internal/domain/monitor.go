package domain

import (
	"fmt"
	"sort"
	"time"
)

// MonitorStatus is the user-visible lifecycle state.
type MonitorStatus string

const (
	StatusActive MonitorStatus = "active"
	StatusPaused MonitorStatus = "paused"
	StatusError  MonitorStatus = "error"
)

// Frequency is a check cadence: hourly, daily, weekly or any Go duration.
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Duration resolves the cadence to an interval.
func (f Frequency) Duration() (time.Duration, error) {
	switch f {
	case FrequencyHourly:
		return time.Hour, nil
	case FrequencyDaily:
		return 24 * time.Hour, nil
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(string(f))
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q", string(f))
	}
	if d <= 0 {
		return 0, fmt.Errorf("frequency must be positive, got %s", d)
	}
	return d, nil
}

// MonitorState is the persisted configuration and health of one monitor.
type MonitorState struct {
	ID              string        `json:"id"`
	Company         string        `json:"company"`
	Industry        string        `json:"industry"`
	Frequency       Frequency     `json:"frequency"`
	AlertThreshold  float64       `json:"alert_threshold"`
	PriorityTypes   []string      `json:"priority_types,omitempty"`
	Status          MonitorStatus `json:"status"`
	ErrorCount      int           `json:"error_count"`
	LastChecked     *time.Time    `json:"last_checked,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	MetricCatalog   []string      `json:"metric_catalog,omitempty"`
	PausedAlertSent bool          `json:"paused_alert_sent,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ExtendCatalog merges names into the sorted metric catalog.
func (m *MonitorState) ExtendCatalog(names []string) {
	seen := make(map[string]struct{}, len(m.MetricCatalog)+len(names))
	for _, n := range m.MetricCatalog {
		seen[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		m.MetricCatalog = append(m.MetricCatalog, n)
	}
	sort.Strings(m.MetricCatalog)
}

// Due reports whether the monitor should be checked at now.
func (m MonitorState) Due(now time.Time) bool {
	if m.Status != StatusActive {
		return false
	}
	if m.LastChecked == nil {
		return true
	}
	interval, err := m.Frequency.Duration()
	if err != nil {
		return false
	}
	return !now.Before(m.LastChecked.Add(interval))
}

// CheckResult summarises one check cycle.
type CheckResult struct {
	MonitorID     string            `json:"monitor_id"`
	Skipped       bool              `json:"skipped"`
	SkipReason    string            `json:"skip_reason,omitempty"`
	SnapshotAt    *time.Time        `json:"snapshot_at,omitempty"`
	Changes       []Change          `json:"changes,omitempty"`
	Findings      []AnomalyFinding  `json:"findings,omitempty"`
	Alert         *Alert            `json:"alert,omitempty"`
	ThresholdOnly []string          `json:"threshold_only,omitempty"`
	MetricErrors  map[string]string `json:"metric_errors,omitempty"`
	Error         string            `json:"error,omitempty"`
	Duration      time.Duration     `json:"duration"`
}
