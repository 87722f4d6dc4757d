package alerting

import (
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// ThrottlePolicy limits how often a monitor may notify.
type ThrottlePolicy struct {
	Intervals map[domain.Urgency]time.Duration
	DailyCap  int
}

// DefaultThrottlePolicy: critical 1h, high and medium 4h, low 24h, five
// notifications per rolling day.
func DefaultThrottlePolicy() ThrottlePolicy {
	return ThrottlePolicy{
		Intervals: map[domain.Urgency]time.Duration{
			domain.UrgencyCritical: time.Hour,
			domain.UrgencyHigh:     4 * time.Hour,
			domain.UrgencyMedium:   4 * time.Hour,
			domain.UrgencyLow:      24 * time.Hour,
		},
		DailyCap: 5,
	}
}

// Interval returns the minimum spacing for urgency.
func (p ThrottlePolicy) Interval(u domain.Urgency) time.Duration {
	if d, ok := p.Intervals[u]; ok && d > 0 {
		return d
	}
	return DefaultThrottlePolicy().Intervals[u]
}

// IsDuplicate reports whether recent holds a notified alert of the same
// monitor with the same content hash inside the throttle window of alert's
// urgency. Suppressed alerts never count.
func (p ThrottlePolicy) IsDuplicate(alert domain.Alert, recent []domain.Alert) bool {
	since := alert.GeneratedAt.Add(-p.Interval(alert.Urgency))
	for _, r := range recent {
		if r.ID == alert.ID || r.MonitorID != alert.MonitorID || r.Kind != alert.Kind || !r.ShouldNotify {
			continue
		}
		if r.ContentHash == alert.ContentHash && !r.GeneratedAt.Before(since) && !r.GeneratedAt.After(alert.GeneratedAt) {
			return true
		}
	}
	return false
}

// Throttle returns the reason a notifying alert must be held back, or
// SuppressionNone. Only alerts that were notified count against the limits.
func (p ThrottlePolicy) Throttle(alert domain.Alert, recent []domain.Alert) domain.SuppressionReason {
	since := alert.GeneratedAt.Add(-p.Interval(alert.Urgency))
	dayAgo := alert.GeneratedAt.Add(-24 * time.Hour)
	notifiedToday := 0
	throttled := false
	for _, r := range recent {
		if r.ID == alert.ID || r.MonitorID != alert.MonitorID || !r.ShouldNotify {
			continue
		}
		if r.GeneratedAt.After(alert.GeneratedAt) {
			continue
		}
		if r.Urgency == alert.Urgency && !r.GeneratedAt.Before(since) {
			throttled = true
		}
		if r.GeneratedAt.After(dayAgo) {
			notifiedToday++
		}
	}
	switch {
	case throttled:
		return domain.SuppressionThrottled
	case p.DailyCap > 0 && notifiedToday >= p.DailyCap:
		return domain.SuppressionDailyCap
	}
	return domain.SuppressionNone
}

// Apply evaluates the suppression rules in order (threshold, duplicate,
// throttle, daily cap) and updates alert in place.
func (p ThrottlePolicy) Apply(alert *domain.Alert, recent []domain.Alert) {
	var reason domain.SuppressionReason
	switch {
	case !alert.ShouldNotify:
		reason = domain.SuppressionBelowThreshold
	case p.IsDuplicate(*alert, recent):
		reason = domain.SuppressionDuplicate
	default:
		reason = p.Throttle(*alert, recent)
	}
	alert.SuppressionReason = reason
	if reason != domain.SuppressionNone {
		alert.ShouldNotify = false
	}
}
