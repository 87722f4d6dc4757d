package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rish2jain/consultantOS-sub009/internal/alerting"
	"github.com/rish2jain/consultantOS-sub009/internal/anomaly"
	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/observability"
	"github.com/rish2jain/consultantOS-sub009/internal/runner"
	"github.com/rish2jain/consultantOS-sub009/internal/stats"
	"github.com/rish2jain/consultantOS-sub009/internal/timeseries"
)

const recentAlertWindow = 24 * time.Hour

// RunDue checks every due monitor once. With a locker configured only the
// instance holding the advisory lock does the work for this tick.
func (s *Service) RunDue(ctx context.Context, tick time.Time) error {
	if s.deps.Locker != nil {
		unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			s.logger.Debug().Time("tick", tick).Msg("skipping tick, advisory lock held elsewhere")
			return nil
		}
		defer unlock()
	}

	due, err := s.DueMonitors(ctx, tick)
	if err != nil {
		return err
	}
	s.logger.Info().Time("tick", tick).Int("due", len(due)).Msg("running due checks")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelChecks)
	for _, m := range due {
		monitorID := m.ID
		g.Go(func() error {
			_, err := s.CheckNow(gctx, monitorID)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.refreshErrorGauge(ctx)
	return nil
}

func (s *Service) refreshErrorGauge(ctx context.Context) {
	all, err := s.deps.Monitors.ListMonitors(ctx)
	if err != nil {
		return
	}
	count := 0
	for _, m := range all {
		if m.Status == domain.StatusError {
			count++
		}
	}
	observability.MonitorsInError.Set(float64(count))
}

func (s *Service) begin(monitorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[monitorID]; busy {
		return false
	}
	s.inflight[monitorID] = struct{}{}
	return true
}

func (s *Service) end(monitorID string) {
	s.mu.Lock()
	delete(s.inflight, monitorID)
	s.mu.Unlock()
}

// CheckNow runs one check cycle for a monitor. Paused and errored monitors
// are skipped. Concurrent checks of the same monitor fail with
// ErrCheckInProgress.
func (s *Service) CheckNow(ctx context.Context, monitorID string) (domain.CheckResult, error) {
	if !s.begin(monitorID) {
		return domain.CheckResult{MonitorID: monitorID}, fmt.Errorf("%w: %s", domain.ErrCheckInProgress, monitorID)
	}
	defer s.end(monitorID)

	started := time.Now()
	monitor, err := s.deps.Monitors.GetMonitor(ctx, monitorID)
	if err != nil {
		return domain.CheckResult{MonitorID: monitorID}, err
	}
	if monitor.Status != domain.StatusActive {
		observability.ChecksTotal.WithLabelValues("skipped").Inc()
		return domain.CheckResult{
			MonitorID:  monitorID,
			Skipped:    true,
			SkipReason: "monitor is " + string(monitor.Status),
		}, nil
	}

	logger := s.logger.With().Str("monitor_id", monitorID).Str("company", monitor.Company).Logger()
	res, err := s.runCycle(ctx, &monitor)
	res.MonitorID = monitorID
	res.Duration = time.Since(started)
	observability.CheckDuration.Observe(res.Duration.Seconds())

	if err != nil {
		res.Error = err.Error()
		observability.ChecksTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Int("error_count", monitor.ErrorCount+1).Msg("check failed")
		if ferr := s.recordFailure(ctx, monitor, err); ferr != nil {
			return res, errors.Join(err, ferr)
		}
		return res, err
	}

	observability.ChecksTotal.WithLabelValues("ok").Inc()
	event := logger.Info().Int("changes", len(res.Changes)).Int("findings", len(res.Findings)).
		Dur("duration", res.Duration)
	if res.Alert != nil {
		event = event.Str("alert_id", res.Alert.ID).Float64("priority_score", res.Alert.PriorityScore).
			Bool("notified", res.Alert.ShouldNotify)
	}
	event.Msg("check completed")
	return res, nil
}

func (s *Service) runCycle(ctx context.Context, monitor *domain.MonitorState) (domain.CheckResult, error) {
	var res domain.CheckResult

	history, err := s.history(ctx, monitor.ID)
	if err != nil {
		return res, err
	}
	var prev *domain.Snapshot
	if n := len(history); n > 0 {
		last := history[n-1]
		prev = &last
	} else {
		prev, err = s.deps.TimeSeries.GetLatestSnapshot(ctx, monitor.ID, true)
		if err != nil {
			return res, err
		}
	}

	det := s.detector(monitor.ID)
	metrics := metricUniverse(monitor.MetricCatalog, history)
	for metric, ferr := range det.FitAll(ctx, history, metrics) {
		if anomaly.IsInsufficientData(ferr) {
			res.ThresholdOnly = append(res.ThresholdOnly, metric)
			continue
		}
		addMetricError(&res, metric, ferr)
	}
	sort.Strings(res.ThresholdOnly)

	snap, err := s.fetch(ctx, *monitor)
	if err != nil {
		return res, err
	}
	if prev != nil && !snap.Timestamp.After(prev.Timestamp) {
		snap.Timestamp = prev.Timestamp.Add(time.Millisecond)
	}
	if err := s.deps.TimeSeries.Store(ctx, *snap, timeseries.StoreOptions{Compress: s.opts.Compress}); err != nil {
		return res, err
	}
	stamped := snap.Timestamp
	res.SnapshotAt = &stamped

	for _, name := range snap.Metrics.Names() {
		if v := snap.Metrics[name]; !stats.Finite(v) && !det.Trained(name) {
			addMetricError(&res, name, fmt.Errorf("non-finite value %v", v))
		}
	}

	res.Changes = s.differ.Diff(prev, snap)
	findings, detectErrs := det.Detect(*snap)
	res.Findings = findings
	for _, derr := range detectErrs {
		var stale domain.StaleModelWarning
		if errors.As(derr, &stale) {
			addMetricError(&res, stale.Metric, derr)
			continue
		}
		metric, msg, ok := strings.Cut(derr.Error(), ": ")
		if !ok {
			metric, msg = "detector", derr.Error()
		}
		addMetricError(&res, metric, errors.New(msg))
	}

	if len(res.Changes) > 0 || len(res.Findings) > 0 {
		alert, err := s.raiseAlert(ctx, *monitor, res.Changes, res.Findings)
		if err != nil {
			return res, err
		}
		res.Alert = alert
	}

	now := s.now()
	monitor.ErrorCount = 0
	monitor.LastError = ""
	monitor.LastChecked = &now
	monitor.UpdatedAt = now
	monitor.ExtendCatalog(snap.Metrics.Names())
	if err := s.deps.Monitors.SaveMonitor(ctx, *monitor); err != nil {
		return res, &domain.StoreUnavailableError{Op: "save monitor", Err: err}
	}
	return res, nil
}

func (s *Service) fetch(ctx context.Context, monitor domain.MonitorState) (*domain.Snapshot, error) {
	timeout := s.opts.RunnerTimeout
	if every, err := monitor.Frequency.Duration(); err == nil && every < timeout {
		timeout = every
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := s.deps.Runner.Run(rctx, runner.MonitorConfig{
		MonitorID:     monitor.ID,
		Company:       monitor.Company,
		Industry:      monitor.Industry,
		PriorityTypes: monitor.PriorityTypes,
		Metrics:       monitor.MetricCatalog,
	})
	if err != nil {
		var runErr *domain.AnalysisRunnerError
		if errors.As(err, &runErr) {
			return nil, err
		}
		return nil, &domain.AnalysisRunnerError{MonitorID: monitor.ID, Err: err}
	}
	if snap == nil {
		return nil, &domain.AnalysisRunnerError{MonitorID: monitor.ID, Err: errors.New("runner returned no snapshot")}
	}

	out := snap.Clone()
	out.MonitorID = monitor.ID
	out.Company = monitor.Company
	out.Industry = monitor.Industry
	out.Timestamp = s.now()
	if out.Metrics == nil {
		out.Metrics = domain.Metrics{}
	}
	return &out, nil
}

// raiseAlert scores the cycle, applies suppression, persists the alert and
// delivers it when it survives.
func (s *Service) raiseAlert(ctx context.Context, monitor domain.MonitorState, changes []domain.Change, findings []domain.AnomalyFinding) (*domain.Alert, error) {
	now := s.now()
	scored := s.scorer.Score(changes, findings, alerting.ScoreConfig{
		AlertThreshold: monitor.AlertThreshold,
		PriorityTypes:  monitor.PriorityTypes,
	})
	alert := alerting.NewChangeAlert(monitor, changes, findings, scored, now)

	recent, err := s.deps.Alerts.ListAlertsSince(ctx, monitor.ID, now.Add(-recentAlertWindow))
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: "recent alerts", Err: err}
	}
	s.opts.Throttle.Apply(&alert, recent)

	if err := s.deps.Alerts.InsertAlert(ctx, alert); err != nil {
		return nil, &domain.StoreUnavailableError{Op: "insert alert", Err: err}
	}
	observability.AlertsGenerated.WithLabelValues(string(alert.Urgency), string(alert.SuppressionReason)).Inc()

	if alert.ShouldNotify {
		s.deliver(ctx, &alert)
	}
	return &alert, nil
}

// deliver dispatches alert and stamps DeliveredAt when at least one channel
// accepted it. Delivery failures never fail the check.
func (s *Service) deliver(ctx context.Context, alert *domain.Alert) {
	if !s.opts.AlertsEnabled || s.deps.Dispatcher == nil {
		return
	}
	report, err := s.deps.Dispatcher.Dispatch(ctx, *alert)
	if err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("alert delivery incomplete")
	}
	if len(report.Delivered) == 0 {
		return
	}
	delivered := s.now()
	alert.DeliveredAt = &delivered
	if err := s.deps.Alerts.UpdateAlert(ctx, *alert); err != nil {
		s.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to record alert delivery")
	}
}

// recordFailure bumps the failure counter. Reaching the limit moves the
// monitor to the error state and raises a single monitor-paused alert.
func (s *Service) recordFailure(ctx context.Context, monitor domain.MonitorState, cause error) error {
	now := s.now()
	monitor.ErrorCount++
	monitor.LastError = cause.Error()
	monitor.LastChecked = &now
	monitor.UpdatedAt = now

	var paused *domain.Alert
	if monitor.ErrorCount >= s.opts.MaxConsecutiveFailures {
		monitor.Status = domain.StatusError
		if !monitor.PausedAlertSent {
			alert := alerting.NewMonitorPausedAlert(monitor, now)
			paused = &alert
			monitor.PausedAlertSent = true
		}
	}
	if err := s.deps.Monitors.SaveMonitor(ctx, monitor); err != nil {
		return &domain.StoreUnavailableError{Op: "save monitor", Err: err}
	}
	if paused == nil {
		return nil
	}

	s.logger.Warn().Str("monitor_id", monitor.ID).Int("error_count", monitor.ErrorCount).
		Msg("monitor moved to error state after repeated failures")
	if err := s.deps.Alerts.InsertAlert(ctx, *paused); err != nil {
		return &domain.StoreUnavailableError{Op: "insert alert", Err: err}
	}
	observability.AlertsGenerated.WithLabelValues(string(paused.Urgency), string(paused.SuppressionReason)).Inc()
	s.deliver(ctx, paused)
	return nil
}

func addMetricError(res *domain.CheckResult, metric string, err error) {
	if res.MetricErrors == nil {
		res.MetricErrors = make(map[string]string)
	}
	if prev, ok := res.MetricErrors[metric]; ok {
		res.MetricErrors[metric] = prev + "; " + err.Error()
		return
	}
	res.MetricErrors[metric] = err.Error()
}
