package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rish2jain/consultantOS-sub009/internal/aggregation"
	"github.com/rish2jain/consultantOS-sub009/internal/alerting"
	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/runner"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
	"github.com/rish2jain/consultantOS-sub009/internal/storage/memory"
	"github.com/rish2jain/consultantOS-sub009/internal/timeseries"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *recordingNotifier) Name() string { return "recorder" }

func (n *recordingNotifier) Notify(_ context.Context, alert domain.Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) delivered() []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Alert(nil), n.alerts...)
}

type fixture struct {
	svc      *Service
	ts       *timeseries.Optimizer
	runner   *runner.Static
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, run runner.Runner) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	backend := memory.New()
	repo := storage.NewRepository(backend)
	ts := timeseries.New(backend, timeseries.Options{}, logger)
	agg := aggregation.New(ts, repo, aggregation.Options{}, logger)

	f := &fixture{ts: ts, notifier: &recordingNotifier{}, now: t0.AddDate(0, 0, 20)}
	if run == nil {
		f.runner = runner.NewStatic()
		run = f.runner
	}
	clock := func() time.Time { return f.now }
	ts.SetClock(clock)
	agg.SetClock(clock)

	f.svc = New(Deps{
		Monitors:   repo,
		Alerts:     repo,
		Feedback:   repo,
		TimeSeries: ts,
		Aggregator: agg,
		Runner:     run,
		Dispatcher: alerting.NewDispatcher([]alerting.Notifier{f.notifier}, alerting.DispatchOptions{}, logger),
	}, Options{DefaultThreshold: 0.7, AlertsEnabled: true, Compress: true}, logger)
	f.svc.SetClock(clock)
	return f
}

func (f *fixture) register(t *testing.T, company string) domain.MonitorState {
	t.Helper()
	m, err := f.svc.RegisterMonitor(context.Background(), RegisterRequest{
		Company:   company,
		Industry:  "Software",
		Frequency: domain.FrequencyDaily,
	})
	require.NoError(t, err)
	return m
}

// seedRevenue stores days daily snapshots alternating 5% around one million.
func (f *fixture) seedRevenue(t *testing.T, monitorID string, days int) {
	t.Helper()
	for i := 0; i < days; i++ {
		value := 1_050_000.0
		if i%2 == 1 {
			value = 950_000.0
		}
		require.NoError(t, f.ts.Store(context.Background(), domain.Snapshot{
			MonitorID: monitorID,
			Timestamp: t0.AddDate(0, 0, i),
			Company:   "Acme",
			Metrics:   domain.Metrics{"revenue": value},
		}, timeseries.StoreOptions{}))
	}
}

func TestCheckNowRaisesCriticalAlertOnRevenueSpike(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000}})

	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.ThresholdOnly)

	require.NotEmpty(t, res.Findings)
	assert.Equal(t, "revenue", res.Findings[0].Metric)
	assert.Equal(t, domain.FindingPoint, res.Findings[0].Kind)
	assert.GreaterOrEqual(t, res.Findings[0].Severity, 8.0)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, domain.ChangeMetric, res.Changes[0].Type)

	require.NotNil(t, res.Alert)
	assert.GreaterOrEqual(t, res.Alert.PriorityScore, 8.0)
	assert.Equal(t, domain.UrgencyCritical, res.Alert.Urgency)
	assert.True(t, res.Alert.ShouldNotify)
	assert.NotNil(t, res.Alert.DeliveredAt)

	delivered := f.notifier.delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, res.Alert.ID, delivered[0].ID)

	stored, err := f.svc.ListAlerts(ctx, m.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotNil(t, stored[0].DeliveredAt)

	updated, err := f.svc.GetMonitor(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastChecked)
	assert.Equal(t, []string{"revenue"}, updated.MetricCatalog)
	assert.Zero(t, updated.ErrorCount)
}

func TestCheckNowDailyCadenceModelIsFresh(t *testing.T) {
	f := newFixture(t, nil)
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)
	f.now = f.now.Add(2 * time.Minute)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000}})

	res, err := f.svc.CheckNow(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, res.Findings)
	for _, finding := range res.Findings {
		assert.False(t, finding.Stale, finding.Kind)
	}
	assert.Empty(t, res.MetricErrors)
}

func TestCheckNowKeepsGoingPastNonFiniteMetric(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000, "margin": math.NaN()}})

	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	assert.Contains(t, res.MetricErrors["margin"], "non-finite")
	require.NotNil(t, res.Alert)
	assert.Equal(t, domain.UrgencyCritical, res.Alert.Urgency)
	assert.Len(t, f.notifier.delivered(), 1)

	state, err := f.svc.GetMonitor(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, state.ErrorCount)
	assert.Equal(t, domain.StatusActive, state.Status)

	latest, err := f.ts.GetLatestSnapshot(ctx, m.ID, true)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, math.IsNaN(latest.Metrics["margin"]))
	assert.Equal(t, 1_600_000.0, latest.Metrics["revenue"])
}

func TestCheckNowRepeatedAlertIsSuppressed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000}})

	_, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 2_600_000}})
	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	assert.False(t, res.Alert.ShouldNotify)
	assert.NotEqual(t, domain.SuppressionNone, res.Alert.SuppressionReason)
	assert.Len(t, f.notifier.delivered(), 1)

	stored, err := f.svc.ListAlerts(ctx, m.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCheckNowWithShortHistoryFallsBackToThresholds(t *testing.T) {
	f := newFixture(t, nil)
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 3)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000}})

	res, err := f.svc.CheckNow(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue"}, res.ThresholdOnly)
	assert.Empty(t, res.Findings)
	require.Len(t, res.Changes, 1)
	require.NotNil(t, res.Alert)
}

func TestCheckNowFirstSnapshotHasNoAlert(t *testing.T) {
	f := newFixture(t, nil)
	m := f.register(t, "Acme")
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 100}})

	res, err := f.svc.CheckNow(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Nil(t, res.Alert)
	require.NotNil(t, res.SnapshotAt)
	assert.True(t, res.SnapshotAt.Equal(f.now))
}

func TestCheckNowBumpsCollidingTimestamp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	require.NoError(t, f.ts.Store(ctx, domain.Snapshot{
		MonitorID: m.ID, Timestamp: f.now, Metrics: domain.Metrics{"revenue": 1},
	}, timeseries.StoreOptions{}))
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1}})

	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.SnapshotAt)
	assert.True(t, res.SnapshotAt.Equal(f.now.Add(time.Millisecond)))
}

func TestRepeatedFailuresPauseMonitorOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.runner.SetError(errors.New("upstream unavailable"))

	for i := 1; i <= 5; i++ {
		_, err := f.svc.CheckNow(ctx, m.ID)
		var runErr *domain.AnalysisRunnerError
		require.ErrorAs(t, err, &runErr, "attempt %d", i)
		f.now = f.now.Add(time.Minute)
	}

	state, err := f.svc.GetMonitor(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, 5, state.ErrorCount)
	assert.Contains(t, state.LastError, "upstream unavailable")
	assert.True(t, state.PausedAlertSent)

	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	alerts, err := f.svc.ListAlerts(ctx, m.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertKindMonitorPaused, alerts[0].Kind)
	assert.Len(t, f.notifier.delivered(), 1)

	resumed, err := f.svc.ResumeMonitor(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, resumed.Status)
	assert.Zero(t, resumed.ErrorCount)
	assert.False(t, resumed.PausedAlertSent)
}

func TestPausedMonitorIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")

	_, err := f.svc.PauseMonitor(ctx, m.ID)
	require.NoError(t, err)

	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "monitor is paused", res.SkipReason)

	due, err := f.svc.DueMonitors(ctx, f.now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCheckNowRejectsConcurrentCheck(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := runner.Func(func(ctx context.Context, cfg runner.MonitorConfig) (*domain.Snapshot, error) {
		close(started)
		<-release
		return &domain.Snapshot{Metrics: domain.Metrics{"revenue": 1}}, nil
	})
	f := newFixture(t, blocking)
	ctx := context.Background()
	m := f.register(t, "Acme")

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.CheckNow(ctx, m.ID)
		done <- err
	}()
	<-started

	_, err := f.svc.CheckNow(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrCheckInProgress)
	assert.ErrorIs(t, f.svc.DeleteMonitor(ctx, m.ID), domain.ErrCheckInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = f.svc.GetMonitor(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMonitor(ctx, m.ID))
}

func TestRegisterMonitorValidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.RegisterMonitor(ctx, RegisterRequest{Company: "  "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	bad := 1.5
	_, err = f.svc.RegisterMonitor(ctx, RegisterRequest{Company: "Acme", AlertThreshold: &bad})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = f.svc.RegisterMonitor(ctx, RegisterRequest{Company: "Acme", Frequency: "fortnightly"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	m, err := f.svc.RegisterMonitor(ctx, RegisterRequest{Company: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyDaily, m.Frequency)
	assert.InDelta(t, 0.7, m.AlertThreshold, 1e-9)
	assert.Equal(t, domain.StatusActive, m.Status)
}

func TestSubmitAlertFeedback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000}})

	res, err := f.svc.CheckNow(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Alert)

	_, err = f.svc.SubmitAlertFeedback(ctx, res.Alert.ID, "meh")
	assert.ErrorIs(t, err, domain.ErrInvalidFeedback)

	signals, err := f.svc.SubmitAlertFeedback(ctx, res.Alert.ID, "helpful")
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, string(domain.ChangeMetric), signals[0].ChangeType)

	stored, err := f.svc.ListFeedback(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	alerts, err := f.svc.ListAlerts(ctx, m.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.FeedbackHelpful, alerts[0].Feedback)
}

func TestDeleteMonitorRemovesHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 5)

	require.NoError(t, f.svc.DeleteMonitor(ctx, m.ID))

	_, err := f.svc.GetMonitor(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMonitorNotFound)
	latest, err := f.ts.GetLatestSnapshot(ctx, m.ID, false)
	require.NoError(t, err)
	assert.Nil(t, latest)

	assert.ErrorIs(t, f.svc.DeleteMonitor(ctx, m.ID), domain.ErrMonitorNotFound)
}

func TestGetForecastFitsLazily(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)

	points, err := f.svc.GetForecast(ctx, m.ID, "revenue", 3)
	require.NoError(t, err)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.Less(t, p.Lower, p.Forecast)
		assert.Greater(t, p.Upper, p.Forecast)
	}

	_, err = f.svc.GetForecast(ctx, m.ID, "headcount", 3)
	assert.Error(t, err)
}

func TestGetAggregationGeneratesOnDemand(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)

	agg, err := f.svc.GetAggregation(ctx, m.ID, domain.PeriodWeekly, t0.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodWeekly, agg.Period)
	assert.Positive(t, agg.SnapshotCount)

	_, err = f.svc.GetAggregation(ctx, m.ID, domain.PeriodDaily, t0.AddDate(1, 0, 0))
	assert.ErrorIs(t, err, domain.ErrAggregationNotFound)
}

func TestRunDueChecksActiveMonitors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.register(t, "Acme")
	second := f.register(t, "Globex")
	_, err := f.svc.PauseMonitor(ctx, second.ID)
	require.NoError(t, err)
	f.runner.Push(domain.Snapshot{Metrics: domain.Metrics{"revenue": 10}})

	require.NoError(t, f.svc.RunDue(ctx, f.now))

	checked, err := f.svc.GetMonitor(ctx, first.ID)
	require.NoError(t, err)
	assert.NotNil(t, checked.LastChecked)
	skipped, err := f.svc.GetMonitor(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, skipped.LastChecked)

	due, err := f.svc.DueMonitors(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRunMaintenanceRollsUpAndCleansUp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.register(t, "Acme")
	f.seedRevenue(t, m.ID, 20)

	f.now = t0.AddDate(0, 0, 100)
	n, err := f.svc.Cleanup(ctx, 90, true)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	f.now = t0.AddDate(0, 0, 20)
	report, err := f.svc.RunMaintenance(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Aggregations)
	assert.Zero(t, report.Deleted)
}
