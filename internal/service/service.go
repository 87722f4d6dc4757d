// Package service implements the intelligence monitor: monitor lifecycle,
// check cycles and the query surface over snapshots, rollups and alerts.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rish2jain/consultantOS-sub009/internal/aggregation"
	"github.com/rish2jain/consultantOS-sub009/internal/alerting"
	"github.com/rish2jain/consultantOS-sub009/internal/anomaly"
	"github.com/rish2jain/consultantOS-sub009/internal/changes"
	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/runner"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
	"github.com/rish2jain/consultantOS-sub009/internal/timeseries"
)

// Deps are the collaborators of the service. Dispatcher and Locker are
// optional.
type Deps struct {
	Monitors   storage.MonitorStore
	Alerts     storage.AlertStore
	Feedback   storage.FeedbackStore
	TimeSeries *timeseries.Optimizer
	Aggregator *aggregation.Aggregator
	Runner     runner.Runner
	Dispatcher *alerting.Dispatcher
	Locker     storage.AdvisoryLocker
}

// Options tune the service.
type Options struct {
	DefaultThreshold       float64
	AlertsEnabled          bool
	Compress               bool
	RunnerTimeout          time.Duration
	HistoryDays            int
	RetentionDays          int
	MaxParallelChecks      int
	MaxConsecutiveFailures int
	AdvisoryLockKey        int64
	Detector               anomaly.Options
	Changes                changes.Options
	Weights                alerting.Weights
	Throttle               alerting.ThrottlePolicy
}

func (o Options) withDefaults() Options {
	if o.RunnerTimeout <= 0 {
		o.RunnerTimeout = 2 * time.Minute
	}
	if o.HistoryDays <= 0 {
		o.HistoryDays = 30
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 90
	}
	if o.MaxParallelChecks <= 0 {
		o.MaxParallelChecks = 8
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = 5
	}
	if o.Throttle.Intervals == nil {
		o.Throttle = alerting.DefaultThrottlePolicy()
	}
	return o
}

// RegisterRequest describes a new monitor. A nil AlertThreshold uses the
// configured default.
type RegisterRequest struct {
	Company        string
	Industry       string
	Frequency      domain.Frequency
	AlertThreshold *float64
	PriorityTypes  []string
}

// Service orchestrates monitors.
type Service struct {
	deps   Deps
	opts   Options
	differ *changes.Differ
	scorer *alerting.Scorer
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	detectors map[string]*anomaly.Detector
	inflight  map[string]struct{}
}

// New constructs the monitoring service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	opts = opts.withDefaults()
	return &Service{
		deps:      deps,
		opts:      opts,
		differ:    changes.New(opts.Changes),
		scorer:    alerting.NewScorer(opts.Weights),
		logger:    logger.With().Str("component", "service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		detectors: make(map[string]*anomaly.Detector),
		inflight:  make(map[string]struct{}),
	}
}

// SetClock overrides the wall clock, including the one of detectors created
// afterwards.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) detector(monitorID string) *anomaly.Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.detectors[monitorID]
	if !ok {
		d = anomaly.NewDetector(nil, s.opts.Detector, s.logger)
		d.SetClock(s.now)
		s.detectors[monitorID] = d
	}
	return d
}

func (s *Service) dropDetector(monitorID string) {
	s.mu.Lock()
	delete(s.detectors, monitorID)
	s.mu.Unlock()
}

// RegisterMonitor validates and persists a new active monitor.
func (s *Service) RegisterMonitor(ctx context.Context, req RegisterRequest) (domain.MonitorState, error) {
	company := strings.TrimSpace(req.Company)
	if company == "" {
		return domain.MonitorState{}, fmt.Errorf("%w: company is required", storage.ErrInvalidInput)
	}
	if req.Frequency == "" {
		req.Frequency = domain.FrequencyDaily
	}
	if _, err := req.Frequency.Duration(); err != nil {
		return domain.MonitorState{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	threshold := s.opts.DefaultThreshold
	if req.AlertThreshold != nil {
		threshold = *req.AlertThreshold
	}
	if threshold < 0 || threshold > 1 {
		return domain.MonitorState{}, fmt.Errorf("%w: alert threshold must be within [0,1]", storage.ErrInvalidInput)
	}

	now := s.now()
	state := domain.MonitorState{
		ID:             uuid.NewString(),
		Company:        company,
		Industry:       strings.TrimSpace(req.Industry),
		Frequency:      req.Frequency,
		AlertThreshold: threshold,
		PriorityTypes:  req.PriorityTypes,
		Status:         domain.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Monitors.SaveMonitor(ctx, state); err != nil {
		return domain.MonitorState{}, &domain.StoreUnavailableError{Op: "register monitor", Err: err}
	}
	s.logger.Info().Str("monitor_id", state.ID).Str("company", state.Company).
		Str("frequency", string(state.Frequency)).Msg("monitor registered")
	return state, nil
}

// GetMonitor loads one monitor.
func (s *Service) GetMonitor(ctx context.Context, monitorID string) (domain.MonitorState, error) {
	return s.deps.Monitors.GetMonitor(ctx, monitorID)
}

// ListMonitors returns every monitor.
func (s *Service) ListMonitors(ctx context.Context) ([]domain.MonitorState, error) {
	return s.deps.Monitors.ListMonitors(ctx)
}

// DueMonitors returns the active monitors whose next check is due at now.
func (s *Service) DueMonitors(ctx context.Context, now time.Time) ([]domain.MonitorState, error) {
	all, err := s.deps.Monitors.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}
	due := make([]domain.MonitorState, 0, len(all))
	for _, m := range all {
		if m.Due(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

// PauseMonitor stops scheduled checks until resumed.
func (s *Service) PauseMonitor(ctx context.Context, monitorID string) (domain.MonitorState, error) {
	return s.updateMonitor(ctx, monitorID, func(m *domain.MonitorState) {
		m.Status = domain.StatusPaused
	})
}

// ResumeMonitor reactivates a paused or errored monitor and clears its
// failure history.
func (s *Service) ResumeMonitor(ctx context.Context, monitorID string) (domain.MonitorState, error) {
	return s.updateMonitor(ctx, monitorID, func(m *domain.MonitorState) {
		m.Status = domain.StatusActive
		m.ErrorCount = 0
		m.LastError = ""
		m.PausedAlertSent = false
	})
}

func (s *Service) updateMonitor(ctx context.Context, monitorID string, mutate func(*domain.MonitorState)) (domain.MonitorState, error) {
	m, err := s.deps.Monitors.GetMonitor(ctx, monitorID)
	if err != nil {
		return domain.MonitorState{}, err
	}
	mutate(&m)
	m.UpdatedAt = s.now()
	if err := s.deps.Monitors.SaveMonitor(ctx, m); err != nil {
		return domain.MonitorState{}, &domain.StoreUnavailableError{Op: "update monitor", Err: err}
	}
	s.logger.Info().Str("monitor_id", m.ID).Str("status", string(m.Status)).Msg("monitor updated")
	return m, nil
}

// DeleteMonitor removes a monitor with its snapshots, alerts, feedback and
// rollups. It fails with ErrCheckInProgress while the monitor is being
// checked.
func (s *Service) DeleteMonitor(ctx context.Context, monitorID string) error {
	if !s.begin(monitorID) {
		return fmt.Errorf("%w: %s", domain.ErrCheckInProgress, monitorID)
	}
	defer s.end(monitorID)

	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return err
	}
	removed, err := s.deps.TimeSeries.DeleteAll(ctx, monitorID)
	if err != nil {
		return err
	}
	if err := s.deps.Monitors.DeleteMonitor(ctx, monitorID); err != nil {
		return err
	}
	s.dropDetector(monitorID)
	s.logger.Info().Str("monitor_id", monitorID).Int("snapshots", removed).Msg("monitor deleted")
	return nil
}

// GetSnapshotRange returns the monitor's snapshots in [start, end).
func (s *Service) GetSnapshotRange(ctx context.Context, monitorID string, start, end time.Time, limit int) ([]domain.Snapshot, error) {
	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return nil, err
	}
	return s.deps.TimeSeries.GetSnapshotsInRange(ctx, monitorID, start, end, timeseries.RangeOptions{Limit: limit})
}

// GetTrendData returns per-metric series over the last days.
func (s *Service) GetTrendData(ctx context.Context, monitorID string, days int, metric string) (map[string][]timeseries.TrendPoint, error) {
	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return nil, err
	}
	return s.deps.TimeSeries.GetTrendData(ctx, monitorID, days, metric)
}

// GetAggregation returns the stored rollup of the period containing start,
// generating it on first request.
func (s *Service) GetAggregation(ctx context.Context, monitorID string, kind domain.PeriodKind, start time.Time) (domain.Aggregation, error) {
	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return domain.Aggregation{}, err
	}
	agg, err := s.deps.Aggregator.GetAggregation(ctx, monitorID, kind, start)
	if err == nil || !errors.Is(err, domain.ErrAggregationNotFound) {
		return agg, err
	}
	generated, genErr := s.deps.Aggregator.Generate(ctx, monitorID, kind, start)
	if genErr != nil {
		return domain.Aggregation{}, genErr
	}
	if generated == nil {
		return domain.Aggregation{}, err
	}
	return *generated, nil
}

// BackfillAggregations regenerates rollups for a date range.
func (s *Service) BackfillAggregations(ctx context.Context, monitorID string, from, to time.Time, kinds []domain.PeriodKind) (map[domain.PeriodKind]int, error) {
	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return nil, err
	}
	return s.deps.Aggregator.BackfillAggregations(ctx, monitorID, from, to, kinds)
}

// GetForecast projects metric forward, fitting the model from history when
// the detector has not seen it yet.
func (s *Service) GetForecast(ctx context.Context, monitorID, metric string, periods int) ([]anomaly.ForecastPoint, error) {
	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return nil, err
	}
	d := s.detector(monitorID)
	if !d.Trained(metric) {
		history, err := s.history(ctx, monitorID)
		if err != nil {
			return nil, err
		}
		if err := d.FitModel(metric, anomaly.SeriesFromSnapshots(history, metric)); err != nil {
			return nil, err
		}
	}
	return d.GetForecast(metric, periods)
}

// ListAlerts returns a monitor's alerts generated at or after since.
func (s *Service) ListAlerts(ctx context.Context, monitorID string, since time.Time) ([]domain.Alert, error) {
	if _, err := s.deps.Monitors.GetMonitor(ctx, monitorID); err != nil {
		return nil, err
	}
	return s.deps.Alerts.ListAlertsSince(ctx, monitorID, since)
}

// SubmitAlertFeedback records the user's verdict on an alert.
func (s *Service) SubmitAlertFeedback(ctx context.Context, alertID, feedback string) ([]domain.FeedbackSignal, error) {
	alert, err := s.deps.Alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	signals, err := alerting.IncorporateFeedback(alert, feedback, s.now())
	if err != nil {
		return nil, err
	}
	for _, sig := range signals {
		if err := s.deps.Feedback.SaveFeedback(ctx, sig); err != nil {
			return nil, &domain.StoreUnavailableError{Op: "save feedback", Err: err}
		}
	}
	alert.Feedback = signals[0].Feedback
	if err := s.deps.Alerts.UpdateAlert(ctx, alert); err != nil {
		return nil, &domain.StoreUnavailableError{Op: "update alert", Err: err}
	}
	s.logger.Info().Str("alert_id", alertID).Str("feedback", string(alert.Feedback)).
		Int("signals", len(signals)).Msg("alert feedback recorded")
	return signals, nil
}

// ListFeedback returns the tuning signals of a monitor.
func (s *Service) ListFeedback(ctx context.Context, monitorID string) ([]domain.FeedbackSignal, error) {
	return s.deps.Feedback.ListFeedback(ctx, monitorID)
}

func (s *Service) history(ctx context.Context, monitorID string) ([]domain.Snapshot, error) {
	start := s.now().AddDate(0, 0, -s.opts.HistoryDays)
	return s.deps.TimeSeries.GetSnapshotsInRange(ctx, monitorID, start, time.Time{}, timeseries.RangeOptions{})
}

func metricUniverse(catalog []string, history []domain.Snapshot) []string {
	seen := make(map[string]struct{}, len(catalog))
	for _, name := range catalog {
		seen[name] = struct{}{}
	}
	for _, snap := range history {
		for name := range snap.Metrics {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
