package domain

import (
	"fmt"
	"time"
)

// FindingKind classifies an anomaly finding.
type FindingKind string

const (
	FindingPoint           FindingKind = "point"
	FindingContextual      FindingKind = "contextual"
	FindingTrendReversal   FindingKind = "trend_reversal"
	FindingVolatilitySpike FindingKind = "volatility_spike"
)

// ForecastBounds is the forecast and interval a value was judged against.
type ForecastBounds struct {
	Forecast float64 `json:"forecast"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// AnomalyFinding is produced by the detector and consumed by the scorer.
type AnomalyFinding struct {
	Metric      string          `json:"metric"`
	Kind        FindingKind     `json:"kind"`
	Severity    float64         `json:"severity"`
	Confidence  float64         `json:"confidence"`
	Explanation string          `json:"explanation"`
	Observed    float64         `json:"observed"`
	Bounds      *ForecastBounds `json:"bounds,omitempty"`
	Stale       bool            `json:"stale,omitempty"`
}

// Urgency is the coarse priority bucket of an alert.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// UrgencyFor maps a 0-10 priority score onto an urgency level.
func UrgencyFor(score float64) Urgency {
	switch {
	case score >= 8:
		return UrgencyCritical
	case score >= 6:
		return UrgencyHigh
	case score >= 4:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// SuppressionReason explains why an alert was persisted without notifying.
type SuppressionReason string

const (
	SuppressionNone           SuppressionReason = ""
	SuppressionBelowThreshold SuppressionReason = "below_threshold"
	SuppressionDuplicate      SuppressionReason = "duplicate"
	SuppressionThrottled      SuppressionReason = "throttled"
	SuppressionDailyCap       SuppressionReason = "daily_cap"
)

// AlertKind separates change alerts from lifecycle alerts.
type AlertKind string

const (
	AlertKindChange        AlertKind = "change"
	AlertKindMonitorPaused AlertKind = "monitor_paused"
)

// Feedback is a user's verdict on an alert.
type Feedback string

const (
	FeedbackHelpful       Feedback = "helpful"
	FeedbackNotHelpful    Feedback = "not_helpful"
	FeedbackFalsePositive Feedback = "false_positive"
)

// ParseFeedback validates a textual feedback value.
func ParseFeedback(v string) (Feedback, error) {
	switch Feedback(v) {
	case FeedbackHelpful, FeedbackNotHelpful, FeedbackFalsePositive:
		return Feedback(v), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFeedback, v)
}

// Alert is always persisted, whether or not it was notified.
type Alert struct {
	ID                string            `json:"id"`
	MonitorID         string            `json:"monitor_id"`
	Kind              AlertKind         `json:"kind"`
	GeneratedAt       time.Time         `json:"generated_at"`
	PriorityScore     float64           `json:"priority_score"`
	Urgency           Urgency           `json:"urgency"`
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	Reasoning         []string          `json:"reasoning,omitempty"`
	ContentHash       string            `json:"content_hash"`
	Changes           []Change          `json:"changes,omitempty"`
	Findings          []AnomalyFinding  `json:"findings,omitempty"`
	ShouldNotify      bool              `json:"should_notify"`
	SuppressionReason SuppressionReason `json:"suppression_reason,omitempty"`
	Feedback          Feedback          `json:"feedback,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
}

// FeedbackSignal is one tuning record per (monitor, change type).
type FeedbackSignal struct {
	MonitorID  string    `json:"monitor_id"`
	AlertID    string    `json:"alert_id"`
	ChangeType string    `json:"change_type"`
	Feedback   Feedback  `json:"feedback"`
	Urgency    Urgency   `json:"urgency"`
	Score      float64   `json:"priority_score"`
	RecordedAt time.Time `json:"recorded_at"`
}
