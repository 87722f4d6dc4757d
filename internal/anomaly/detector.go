// Package anomaly fits per-metric forecasts for one monitor and flags point
// anomalies, trend reversals and volatility spikes.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/observability"
	"github.com/rish2jain/consultantOS-sub009/internal/stats"
)

// Sensitivity selects the prediction interval width.
type Sensitivity string

const (
	Conservative Sensitivity = "conservative"
	Balanced     Sensitivity = "balanced"
	Aggressive   Sensitivity = "aggressive"
)

// ParseSensitivity validates a textual sensitivity.
func ParseSensitivity(v string) (Sensitivity, error) {
	switch Sensitivity(v) {
	case Conservative, Balanced, Aggressive:
		return Sensitivity(v), nil
	}
	return "", fmt.Errorf("unknown sensitivity %q", v)
}

// Z returns the two-sided normal quantile: 95%, 80% and 60% intervals.
func (s Sensitivity) Z() float64 {
	switch s {
	case Conservative:
		return 1.959964
	case Aggressive:
		return 0.841621
	default:
		return 1.281552
	}
}

// minReversalConfidence keeps noise-level slope flips out of the findings.
const minReversalConfidence = 0.5

// Options tune a Detector.
type Options struct {
	Sensitivity        Sensitivity
	MinPoints          int
	MaxModelAge        time.Duration
	MaxGap             time.Duration
	RecentWindowDays   int
	BaselineWindowDays int
	VolatilityRatio    float64
	FitConcurrency     int
}

func (o Options) withDefaults() Options {
	if o.Sensitivity == "" {
		o.Sensitivity = Balanced
	}
	if o.MinPoints <= 0 {
		o.MinPoints = 14
	}
	if o.MaxModelAge <= 0 {
		o.MaxModelAge = 24 * time.Hour
	}
	if o.MaxGap <= 0 {
		o.MaxGap = 7 * 24 * time.Hour
	}
	if o.RecentWindowDays <= 0 {
		o.RecentWindowDays = 7
	}
	if o.BaselineWindowDays <= 0 {
		o.BaselineWindowDays = 30
	}
	if o.VolatilityRatio <= 0 {
		o.VolatilityRatio = 2
	}
	if o.FitConcurrency <= 0 {
		o.FitConcurrency = 4
	}
	return o
}

type trained struct {
	model  Model
	series []stats.Point
}

// TrendAnalysis compares the slope of the recent window with the window
// before it. Slopes are per day.
type TrendAnalysis struct {
	Metric           string  `json:"metric"`
	RecentSlope      float64 `json:"recent_slope"`
	HistoricalSlope  float64 `json:"historical_slope"`
	RecentPoints     int     `json:"recent_points"`
	HistoricalPoints int     `json:"historical_points"`
	ReversalDetected bool    `json:"reversal_detected"`
	Confidence       float64 `json:"confidence"`
}

// Detector holds the models of a single monitor. It is safe for concurrent
// use.
type Detector struct {
	forecaster Forecaster
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	models map[string]trained
}

// NewDetector builds a detector. A nil forecaster uses the linear forecaster
// at the configured sensitivity.
func NewDetector(forecaster Forecaster, opts Options, logger zerolog.Logger) *Detector {
	opts = opts.withDefaults()
	if forecaster == nil {
		forecaster = NewLinearForecaster(opts.Sensitivity)
	}
	return &Detector{
		forecaster: forecaster,
		opts:       opts,
		logger:     logger.With().Str("component", "anomaly").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		models:     make(map[string]trained),
	}
}

// SetClock overrides the wall clock used by IsStale.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// FitModel trains the model of metric. With fewer than MinPoints finite
// points it returns *domain.InsufficientDataError and keeps the prior model.
func (d *Detector) FitModel(metric string, series []stats.Point) error {
	prepared := d.prepare(series)
	if len(prepared.points) < d.opts.MinPoints {
		observability.ModelFits.WithLabelValues("insufficient").Inc()
		return &domain.InsufficientDataError{Metric: metric, Have: len(prepared.points), Need: d.opts.MinPoints}
	}

	model, err := d.forecaster.Fit(prepared.filled)
	if err != nil {
		observability.ModelFits.WithLabelValues("error").Inc()
		return fmt.Errorf("fit %s: %w", metric, err)
	}

	d.mu.Lock()
	d.models[metric] = trained{model: model, series: prepared.filled}
	d.mu.Unlock()

	observability.ModelFits.WithLabelValues("ok").Inc()
	d.logger.Debug().Str("metric", metric).Int("points", len(prepared.points)).
		Int("interpolated", len(prepared.filled)-len(prepared.points)).Msg("model fitted")
	return nil
}

// FitAll fits every metric in metrics from history concurrently and returns
// the per-metric failures.
func (d *Detector) FitAll(ctx context.Context, history []domain.Snapshot, metrics []string) map[string]error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.FitConcurrency)
	for _, metric := range metrics {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.FitModel(metric, SeriesFromSnapshots(history, metric)); err != nil {
				mu.Lock()
				errs[metric] = err
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, metric := range metrics {
			if _, ok := errs[metric]; !ok && !d.Trained(metric) {
				errs[metric] = err
			}
		}
	}
	return errs
}

// Trained reports whether metric has a fitted model.
func (d *Detector) Trained(metric string) bool {
	_, ok := d.get(metric)
	return ok
}

// Metrics lists trained metric names.
func (d *Detector) Metrics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.models))
	for name := range d.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Detector) get(metric string) (trained, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.models[metric]
	return t, ok
}

// IsStale reports whether the newest point behind the model is older than
// MaxModelAge plus one cadence step, so a model refitted through the latest
// stored snapshot stays fresh while the next one is judged. Untrained metrics
// are not stale.
func (d *Detector) IsStale(metric string) bool {
	t, ok := d.get(metric)
	if !ok {
		return false
	}
	allowed := d.opts.MaxModelAge
	if step := t.model.Step(); step > 0 {
		allowed += step
	}
	return d.now().Sub(t.model.LastObserved()) > allowed
}

// DetectAnomalies checks value against the one-step forecast at ts. It
// returns nil when the metric is untrained or the value is inside the
// interval.
func (d *Detector) DetectAnomalies(metric string, value float64, ts time.Time) *domain.AnomalyFinding {
	t, ok := d.get(metric)
	if !ok || !stats.Finite(value) {
		return nil
	}
	predicted := d.forecaster.Predict(t.model, []time.Time{ts})
	if len(predicted) == 0 {
		return nil
	}
	p := predicted[0]

	var dist float64
	switch {
	case value > p.Upper:
		dist = value - p.Upper
	case value < p.Lower:
		dist = p.Lower - value
	default:
		return nil
	}

	half := p.HalfWidth()
	severity := 10.0
	if half > 0 {
		severity = stats.Clamp(10*dist/(5*half), 0, 10)
	}
	confidence := stats.Clamp(0.5+severity/20, 0, 1)
	direction := "above"
	if value < p.Lower {
		direction = "below"
	}

	return &domain.AnomalyFinding{
		Metric:     metric,
		Kind:       domain.FindingPoint,
		Severity:   severity,
		Confidence: confidence,
		Explanation: fmt.Sprintf("%s observed %.4g is %s the expected range [%.4g, %.4g] (forecast %.4g)",
			metric, value, direction, p.Lower, p.Upper, p.Forecast),
		Observed: value,
		Bounds:   &domain.ForecastBounds{Forecast: p.Forecast, Lower: p.Lower, Upper: p.Upper},
		Stale:    d.IsStale(metric),
	}
}

// TrendAnalysis compares the slope of the last recentWindowDays of the fitted
// series with the BaselineWindowDays before it. A zero window uses the
// configured default.
func (d *Detector) TrendAnalysis(metric string, recentWindowDays int) (TrendAnalysis, error) {
	if recentWindowDays <= 0 {
		recentWindowDays = d.opts.RecentWindowDays
	}
	t, ok := d.get(metric)
	if !ok {
		return TrendAnalysis{Metric: metric}, fmt.Errorf("%w: %s", domain.ErrModelNotTrained, metric)
	}

	recent, baseline := d.split(t.series, recentWindowDays)
	res := TrendAnalysis{Metric: metric, RecentPoints: len(recent), HistoricalPoints: len(baseline)}
	if len(recent) < 3 || len(baseline) < 3 {
		return res, nil
	}

	r := stats.LinearRegression(recent)
	h := stats.LinearRegression(baseline)
	const day = 24 * 60 * 60
	res.RecentSlope = r.Slope * day
	res.HistoricalSlope = h.Slope * day

	if res.RecentSlope*res.HistoricalSlope < 0 {
		res.ReversalDetected = true
		coverage := math.Min(1, float64(min(len(recent), len(baseline)))/7)
		res.Confidence = coverage * (r.R2 + h.R2) / 2
	}
	return res, nil
}

// CheckVolatility compares the sample deviation of the recent window with the
// baseline window. It returns nil when there is no spike.
func (d *Detector) CheckVolatility(metric string) *domain.AnomalyFinding {
	t, ok := d.get(metric)
	if !ok {
		return nil
	}
	recent, baseline := d.split(t.series, d.opts.RecentWindowDays)
	if len(recent) < 3 || len(baseline) < 3 {
		return nil
	}
	recentSigma := stats.SampleStdDev(stats.Values(recent))
	baseSigma := stats.SampleStdDev(stats.Values(baseline))
	if baseSigma == 0 {
		return nil
	}
	ratio := recentSigma / baseSigma
	if ratio <= d.opts.VolatilityRatio {
		return nil
	}
	return &domain.AnomalyFinding{
		Metric:      metric,
		Kind:        domain.FindingVolatilitySpike,
		Severity:    math.Min(10, 2.5*ratio),
		Confidence:  math.Min(1, float64(min(len(recent), len(baseline)))/7),
		Explanation: fmt.Sprintf("%s volatility is %.1fx its %d-day baseline", metric, ratio, d.opts.BaselineWindowDays),
		Stale:       d.IsStale(metric),
	}
}

// GetForecast projects periods steps past the newest observation.
func (d *Detector) GetForecast(metric string, periods int) ([]ForecastPoint, error) {
	if periods <= 0 {
		return nil, fmt.Errorf("periods must be positive, got %d", periods)
	}
	t, ok := d.get(metric)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotTrained, metric)
	}
	step := t.model.Step()
	if step <= 0 {
		step = 24 * time.Hour
	}
	at := make([]time.Time, periods)
	for i := range at {
		at[i] = t.model.LastObserved().Add(time.Duration(i+1) * step)
	}
	return d.forecaster.Predict(t.model, at), nil
}

// Detect runs the point, trend-reversal and volatility checks for every
// trained metric present in snap. Metrics with a context flag on the
// snapshot are reported as contextual with unchanged severity.
func (d *Detector) Detect(snap domain.Snapshot) ([]domain.AnomalyFinding, []error) {
	var (
		findings []domain.AnomalyFinding
		errs     []error
	)
	for _, metric := range snap.Metrics.Names() {
		if !d.Trained(metric) {
			continue
		}
		value := snap.Metrics[metric]
		if !stats.Finite(value) {
			errs = append(errs, fmt.Errorf("%s: non-finite value", metric))
			continue
		}

		if f := d.DetectAnomalies(metric, value, snap.Timestamp); f != nil {
			if snap.HasContext() {
				f.Kind = domain.FindingContextual
			}
			findings = append(findings, *f)
		}

		trend, err := d.TrendAnalysis(metric, 0)
		if err != nil {
			errs = append(errs, err)
		} else if trend.ReversalDetected && trend.Confidence >= minReversalConfidence {
			findings = append(findings, domain.AnomalyFinding{
				Metric:     metric,
				Kind:       domain.FindingTrendReversal,
				Severity:   3 + 4*trend.Confidence,
				Confidence: trend.Confidence,
				Explanation: fmt.Sprintf("%s slope changed from %.4g/day to %.4g/day",
					metric, trend.HistoricalSlope, trend.RecentSlope),
				Stale: d.IsStale(metric),
			})
		}

		if f := d.CheckVolatility(metric); f != nil {
			findings = append(findings, *f)
		}

		if d.IsStale(metric) {
			errs = append(errs, domain.StaleModelWarning{Metric: metric})
		}
	}
	return findings, errs
}

// split returns the recent window and the baseline window before it, both
// anchored at the newest point.
func (d *Detector) split(series []stats.Point, recentDays int) (recent, baseline []stats.Point) {
	if len(series) == 0 {
		return nil, nil
	}
	last := series[len(series)-1].Timestamp
	recentStart := last.AddDate(0, 0, -recentDays)
	baseStart := recentStart.AddDate(0, 0, -d.opts.BaselineWindowDays)
	for _, p := range series {
		switch {
		case p.Timestamp.After(recentStart):
			recent = append(recent, p)
		case p.Timestamp.After(baseStart):
			baseline = append(baseline, p)
		}
	}
	return recent, baseline
}

type preparedSeries struct {
	points []stats.Point // finite observations
	filled []stats.Point // points plus interpolated gap fillers
}

// prepare sorts, drops non-finite values and fills gaps wider than 1.5x the
// median step but no wider than MaxGap.
func (d *Detector) prepare(series []stats.Point) preparedSeries {
	points := make([]stats.Point, 0, len(series))
	for _, p := range series {
		if stats.Finite(p.Value) && !p.Timestamp.IsZero() {
			points = append(points, p)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	step := medianStep(points)
	if step <= 0 || len(points) < 2 {
		return preparedSeries{points: points, filled: points}
	}

	filled := make([]stats.Point, 0, len(points))
	filled = append(filled, points[0])
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		gap := cur.Timestamp.Sub(prev.Timestamp)
		if gap > step*3/2 && gap <= d.opts.MaxGap {
			for ts := prev.Timestamp.Add(step); cur.Timestamp.Sub(ts) > step/2; ts = ts.Add(step) {
				frac := float64(ts.Sub(prev.Timestamp)) / float64(gap)
				filled = append(filled, stats.Point{Timestamp: ts, Value: prev.Value + frac*(cur.Value-prev.Value)})
			}
		}
		filled = append(filled, cur)
	}
	return preparedSeries{points: points, filled: filled}
}

// SeriesFromSnapshots extracts one metric's observations from history.
func SeriesFromSnapshots(history []domain.Snapshot, metric string) []stats.Point {
	out := make([]stats.Point, 0, len(history))
	for _, snap := range history {
		if v, ok := snap.Metrics[metric]; ok {
			out = append(out, stats.Point{Timestamp: snap.Timestamp, Value: v})
		}
	}
	return out
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *domain.InsufficientDataError
	return errors.As(err, &target)
}
