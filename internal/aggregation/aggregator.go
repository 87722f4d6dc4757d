// Package aggregation rolls snapshots up into daily, weekly and monthly
// statistics.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/stats"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
	"github.com/rish2jain/consultantOS-sub009/internal/timeseries"
)

// SnapshotSource reads snapshots in a half-open time range.
type SnapshotSource interface {
	GetSnapshotsInRange(ctx context.Context, monitorID string, start, end time.Time, opts timeseries.RangeOptions) ([]domain.Snapshot, error)
}

var _ SnapshotSource = (*timeseries.Optimizer)(nil)

// Options tune the rollup math.
type Options struct {
	SignificantChangePct float64
	TrendEpsilon         float64
	MovingAverageWindow  int
	TopTrends            int
}

func (o Options) withDefaults() Options {
	if o.SignificantChangePct <= 0 {
		o.SignificantChangePct = 10
	}
	if o.TrendEpsilon <= 0 {
		o.TrendEpsilon = 0.01
	}
	if o.MovingAverageWindow <= 0 {
		o.MovingAverageWindow = 3
	}
	if o.TopTrends <= 0 {
		o.TopTrends = 5
	}
	return o
}

// Aggregator builds and persists rollups.
type Aggregator struct {
	source SnapshotSource
	store  storage.AggregationStore
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs an Aggregator.
func New(source SnapshotSource, store storage.AggregationStore, opts Options, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		source: source,
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "aggregation").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the wall clock used for GeneratedAt.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// GenerateDailyAggregation rolls up the UTC day containing targetDate. It
// returns nil when the day has no snapshots.
func (a *Aggregator) GenerateDailyAggregation(ctx context.Context, monitorID string, targetDate time.Time) (*domain.Aggregation, error) {
	return a.Generate(ctx, monitorID, domain.PeriodDaily, targetDate)
}

// GenerateWeeklyAggregation rolls up the ISO week containing weekStart.
func (a *Aggregator) GenerateWeeklyAggregation(ctx context.Context, monitorID string, weekStart time.Time) (*domain.Aggregation, error) {
	return a.Generate(ctx, monitorID, domain.PeriodWeekly, weekStart)
}

// GenerateMonthlyAggregation rolls up the calendar month containing monthStart.
func (a *Aggregator) GenerateMonthlyAggregation(ctx context.Context, monitorID string, monthStart time.Time) (*domain.Aggregation, error) {
	return a.Generate(ctx, monitorID, domain.PeriodMonthly, monthStart)
}

// Generate builds the rollup of the period of the given kind containing at and
// replaces any stored rollup for the same bucket.
func (a *Aggregator) Generate(ctx context.Context, monitorID string, kind domain.PeriodKind, at time.Time) (*domain.Aggregation, error) {
	start := kind.PeriodStart(at)
	end := kind.Next(start)

	snapshots, err := a.source.GetSnapshotsInRange(ctx, monitorID, start, end, timeseries.RangeOptions{})
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	agg := a.compute(snapshots)
	agg.MonitorID = monitorID
	agg.Period = kind
	agg.Start = start
	agg.End = end
	agg.GeneratedAt = a.now()

	if err := a.store.SaveAggregation(ctx, agg); err != nil {
		return nil, &domain.StoreUnavailableError{Op: "save aggregation", Err: err}
	}

	a.logger.Debug().Str("monitor_id", monitorID).Str("period", string(kind)).Time("start", start).
		Int("snapshots", agg.SnapshotCount).Int("metric_errors", len(agg.MetricErrors)).Msg("aggregation stored")
	return &agg, nil
}

// GetAggregation reads a stored rollup.
func (a *Aggregator) GetAggregation(ctx context.Context, monitorID string, kind domain.PeriodKind, start time.Time) (domain.Aggregation, error) {
	return a.store.GetAggregation(ctx, monitorID, kind, kind.PeriodStart(start))
}

// BackfillAggregations generates every non-empty bucket of each kind between
// startDate and endDate. Individual failures are logged and joined into the
// returned error without stopping the run.
func (a *Aggregator) BackfillAggregations(ctx context.Context, monitorID string, startDate, endDate time.Time, periods []domain.PeriodKind) (map[domain.PeriodKind]int, error) {
	if !startDate.Before(endDate) {
		return nil, fmt.Errorf("%w: backfill range is empty", storage.ErrInvalidInput)
	}

	counts := make(map[domain.PeriodKind]int, len(periods))
	var errs []error
	for _, kind := range periods {
		counts[kind] = 0
		for bucket := kind.PeriodStart(startDate); bucket.Before(endDate); bucket = kind.Next(bucket) {
			if err := ctx.Err(); err != nil {
				return counts, err
			}
			agg, err := a.Generate(ctx, monitorID, kind, bucket)
			if err != nil {
				a.logger.Error().Err(err).Str("monitor_id", monitorID).Str("period", string(kind)).Time("bucket", bucket).Msg("backfill bucket failed")
				errs = append(errs, fmt.Errorf("%s %s: %w", kind, bucket.Format(time.DateOnly), err))
				continue
			}
			if agg != nil {
				counts[kind]++
			}
		}
	}

	a.logger.Info().Str("monitor_id", monitorID).Interface("counts", counts).Int("failed", len(errs)).Msg("backfill finished")
	return counts, errors.Join(errs...)
}

func (a *Aggregator) compute(snapshots []domain.Snapshot) domain.Aggregation {
	agg := domain.Aggregation{
		SnapshotCount:  len(snapshots),
		Stats:          make(map[string]domain.MetricStats),
		Trends:         make(map[string]domain.TrendLabel),
		MovingAverages: make(map[string]float64),
	}

	series := make(map[string][]float64)
	bad := make(map[string]bool)
	for _, snap := range snapshots {
		for _, name := range snap.Metrics.Names() {
			v := snap.Metrics[name]
			if !stats.Finite(v) {
				bad[name] = true
				continue
			}
			series[name] = append(series[name], v)
		}
	}

	names := make([]string, 0, len(series)+len(bad))
	for name := range series {
		names = append(names, name)
	}
	for name := range bad {
		if _, ok := series[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if bad[name] {
			if agg.MetricErrors == nil {
				agg.MetricErrors = make(map[string]string)
			}
			agg.MetricErrors[name] = "non-finite value"
			continue
		}
		values := series[name]
		agg.Stats[name] = describe(values)
		agg.Trends[name] = trendLabel(values, a.opts.TrendEpsilon)
		agg.MovingAverages[name] = movingAverage(values, a.opts.MovingAverageWindow)

		first, last := values[0], values[len(values)-1]
		if pct, ok := stats.PercentChange(first, last); ok && math.Abs(pct) > a.opts.SignificantChangePct {
			agg.SignificantChanges = append(agg.SignificantChanges, domain.SignificantChange{
				Metric:        name,
				PercentChange: pct,
				Previous:      first,
				Current:       last,
			})
		}
	}

	agg.TopMarketTrends = topTrends(snapshots, a.opts.TopTrends)
	return agg
}

func describe(values []float64) domain.MetricStats {
	s := domain.MetricStats{
		Min:    values[0],
		Max:    values[0],
		Mean:   stats.Mean(values),
		StdDev: stats.SampleStdDev(values),
		Count:  len(values),
	}
	for _, v := range values[1:] {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	return s
}

// trendLabel compares the mean of the first half of the window with the mean
// of the second half.
func trendLabel(values []float64, epsilon float64) domain.TrendLabel {
	if len(values) < 2 {
		return domain.TrendStable
	}
	half := len(values) / 2
	early, late := stats.Mean(values[:half]), stats.Mean(values[half:])

	var rel float64
	if early == 0 {
		rel = late
	} else {
		rel = (late - early) / math.Abs(early)
	}
	switch {
	case rel > epsilon:
		return domain.TrendUp
	case rel < -epsilon:
		return domain.TrendDown
	default:
		return domain.TrendStable
	}
}

func movingAverage(values []float64, window int) float64 {
	if len(values) > window {
		values = values[len(values)-window:]
	}
	return stats.Mean(values)
}

func topTrends(snapshots []domain.Snapshot, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, snap := range snapshots {
		for _, trend := range snap.MarketTrends {
			if _, ok := counts[trend]; !ok {
				order = append(order, trend)
			}
			counts[trend]++
		}
	}
	// stable sort keeps first-seen order among ties
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}
