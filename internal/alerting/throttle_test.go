package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func alertAt(id string, at time.Time, urgency domain.Urgency, hash string, notified bool) domain.Alert {
	return domain.Alert{
		ID:           id,
		MonitorID:    "m1",
		Kind:         domain.AlertKindChange,
		GeneratedAt:  at,
		Urgency:      urgency,
		ContentHash:  hash,
		ShouldNotify: notified,
	}
}

func TestApplyBelowThreshold(t *testing.T) {
	a := alertAt("new", now, domain.UrgencyLow, "h", false)
	DefaultThrottlePolicy().Apply(&a, nil)
	assert.Equal(t, domain.SuppressionBelowThreshold, a.SuppressionReason)
	assert.False(t, a.ShouldNotify)
}

func TestDuplicateWithinWindowCollapses(t *testing.T) {
	p := DefaultThrottlePolicy()
	recent := []domain.Alert{alertAt("old", now.Add(-30*time.Minute), domain.UrgencyCritical, "same", true)}

	a := alertAt("new", now, domain.UrgencyCritical, "same", true)
	p.Apply(&a, recent)
	assert.Equal(t, domain.SuppressionDuplicate, a.SuppressionReason)
	assert.False(t, a.ShouldNotify)

	// outside the one hour critical window the same content notifies again
	later := alertAt("later", now.Add(2*time.Hour), domain.UrgencyCritical, "same", true)
	p.Apply(&later, recent)
	assert.Equal(t, domain.SuppressionNone, later.SuppressionReason)
	assert.True(t, later.ShouldNotify)

	// other monitors never collide
	foreign := alertAt("f", now, domain.UrgencyCritical, "same", true)
	foreign.MonitorID = "m2"
	assert.False(t, p.IsDuplicate(foreign, recent))
}

func TestSuppressedAlertDoesNotDeduplicate(t *testing.T) {
	p := DefaultThrottlePolicy()
	quiet := alertAt("quiet", now.Add(-30*time.Minute), domain.UrgencyLow, "h", false)
	quiet.SuppressionReason = domain.SuppressionBelowThreshold

	a := alertAt("new", now, domain.UrgencyMedium, "h", true)
	p.Apply(&a, []domain.Alert{quiet})
	assert.Equal(t, domain.SuppressionNone, a.SuppressionReason)
	assert.True(t, a.ShouldNotify)

	// a chain of suppressed repeats does not keep the block alive
	var (
		recent  []domain.Alert
		reasons []domain.SuppressionReason
	)
	for i := 0; i < 4; i++ {
		next := alertAt(string(rune('a'+i)), now.Add(time.Duration(i)*50*time.Minute), domain.UrgencyCritical, "h", true)
		p.Apply(&next, recent)
		reasons = append(reasons, next.SuppressionReason)
		recent = append(recent, next)
	}
	assert.Equal(t, []domain.SuppressionReason{
		domain.SuppressionNone, domain.SuppressionDuplicate,
		domain.SuppressionNone, domain.SuppressionDuplicate,
	}, reasons)
}

func TestThrottlePerUrgency(t *testing.T) {
	p := DefaultThrottlePolicy()
	recent := []domain.Alert{alertAt("old", now.Add(-3*time.Hour), domain.UrgencyHigh, "a", true)}

	high := alertAt("new", now, domain.UrgencyHigh, "b", true)
	p.Apply(&high, recent)
	assert.Equal(t, domain.SuppressionThrottled, high.SuppressionReason)

	critical := alertAt("crit", now, domain.UrgencyCritical, "b", true)
	p.Apply(&critical, recent)
	assert.Equal(t, domain.SuppressionNone, critical.SuppressionReason)

	// suppressed alerts do not throttle
	quiet := []domain.Alert{alertAt("old", now.Add(-time.Minute), domain.UrgencyHigh, "a", false)}
	again := alertAt("again", now, domain.UrgencyHigh, "b", true)
	p.Apply(&again, quiet)
	assert.True(t, again.ShouldNotify)
}

func TestDailyCap(t *testing.T) {
	p := DefaultThrottlePolicy()
	var recent []domain.Alert
	for i := 0; i < 5; i++ {
		recent = append(recent, alertAt(string(rune('a'+i)), now.Add(-time.Duration(2+i*4)*time.Hour), domain.UrgencyCritical, string(rune('a'+i)), true))
	}

	a := alertAt("sixth", now, domain.UrgencyCritical, "new", true)
	p.Apply(&a, recent)
	assert.Equal(t, domain.SuppressionDailyCap, a.SuppressionReason)
	assert.False(t, a.ShouldNotify)

	// the oldest falls out of the rolling day
	b := alertAt("later", now.Add(7*time.Hour), domain.UrgencyCritical, "new", true)
	p.Apply(&b, recent)
	assert.Equal(t, domain.SuppressionNone, b.SuppressionReason)
}

func TestAtMostDailyCapNotifiedPerDay(t *testing.T) {
	p := DefaultThrottlePolicy()
	var recent []domain.Alert
	notified := 0
	for i := 0; i < 10; i++ {
		a := alertAt(string(rune('a'+i)), now.Add(time.Duration(i)*2*time.Hour), domain.UrgencyCritical, string(rune('a'+i)), true)
		p.Apply(&a, recent)
		if a.ShouldNotify {
			notified++
		} else {
			assert.Equal(t, domain.SuppressionDailyCap, a.SuppressionReason, "alert %d", i)
		}
		recent = append(recent, a)
	}
	assert.Equal(t, p.DailyCap, notified)
}

func TestIncorporateFeedback(t *testing.T) {
	alert := alertAt("a1", now, domain.UrgencyHigh, "h", true)
	alert.PriorityScore = 6.5
	alert.Changes = []domain.Change{
		{Type: domain.ChangeMetric, Subject: "revenue"},
		{Type: domain.ChangeMetric, Subject: "margin"},
		{Type: domain.ChangeTrendAdded, Subject: "ai"},
	}

	signals, err := IncorporateFeedback(alert, "false_positive", now)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "metric_change", signals[0].ChangeType)
	assert.Equal(t, "trend_added", signals[1].ChangeType)
	assert.Equal(t, domain.FeedbackFalsePositive, signals[0].Feedback)
	assert.Equal(t, "a1", signals[0].AlertID)
	assert.Equal(t, 6.5, signals[1].Score)

	_, err = IncorporateFeedback(alert, "meh", now)
	assert.ErrorIs(t, err, domain.ErrInvalidFeedback)

	paused := alertAt("p", now, domain.UrgencyCritical, "", true)
	paused.Kind = domain.AlertKindMonitorPaused
	signals, err = IncorporateFeedback(paused, "helpful", now)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "monitor_paused", signals[0].ChangeType)
}

func TestNewChangeAlert(t *testing.T) {
	monitor := domain.MonitorState{ID: "m1", Company: "Acme Corp"}
	changes := []domain.Change{revenueChange(60)}
	changes[0].Previous, changes[0].Current = "1e+06", "1.6e+06"
	findings := []domain.AnomalyFinding{{Metric: "revenue", Kind: domain.FindingPoint, Severity: 10, Explanation: "revenue far above range"}}
	res := Result{PriorityScore: 8.4, Urgency: domain.UrgencyCritical, ShouldNotify: true}

	a := NewChangeAlert(monitor, changes, findings, res, now)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "Acme Corp: revenue point anomaly (+1 more)", a.Title)
	assert.Equal(t, ContentHash(changes, findings), a.ContentHash)
	assert.Contains(t, a.Message, "revenue increased: 1e+06 -> 1.6e+06 (+60.0%)")
	assert.True(t, a.ShouldNotify)

	monitor.ErrorCount = 5
	monitor.LastError = "runner timeout"
	p := NewMonitorPausedAlert(monitor, now)
	assert.Equal(t, domain.AlertKindMonitorPaused, p.Kind)
	assert.Contains(t, p.Message, "runner timeout")
}
