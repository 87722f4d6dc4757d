package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/rish2jain/consultantOS-sub009/internal/anomaly"
	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// forecastPeriods is how far a single-metric chart projects ahead.
const forecastPeriods = 7

// ExportOptions hold parameters for exporting a monitor's metric history.
type ExportOptions struct {
	MonitorID string
	Metrics   []string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Export renders metric history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -a.Config.TimeSeries.RetentionDays)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	snaps, err := st.svc.GetSnapshotRange(ctx, opts.MonitorID, from, to, 0)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Str("monitor_id", opts.MonitorID).Msg("no snapshots found for export window")
		return nil
	}

	metrics := opts.Metrics
	if len(metrics) == 0 {
		metrics = metricNames(snaps)
	}
	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).
		Strs("metrics", metrics).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled, metrics); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		var forecast []anomaly.ForecastPoint
		if len(metrics) == 1 {
			forecast, err = st.svc.GetForecast(ctx, opts.MonitorID, metrics[0], forecastPeriods)
			if err != nil {
				a.Logger.Warn().Err(err).Str("metric", metrics[0]).Msg("chart rendered without forecast band")
				forecast = nil
			}
		}
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled, metrics, forecast); err != nil {
			return err
		}
	}
	return nil
}

func metricNames(snaps []domain.Snapshot) []string {
	seen := make(map[string]struct{})
	for _, snap := range snaps {
		for name := range snap.Metrics {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func downsampleSnapshots(snaps []domain.Snapshot, max int) []domain.Snapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]domain.Snapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []domain.Snapshot, metrics []string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append([]string{"timestamp"}, metrics...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		record := make([]string, 0, len(header))
		record = append(record, snap.Timestamp.UTC().Format(time.RFC3339))
		for _, name := range metrics {
			value, ok := snap.Metrics[name]
			if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
				record = append(record, "")
				continue
			}
			record = append(record, decimal.NewFromFloat(value).String())
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path string, snaps []domain.Snapshot, metrics []string, forecast []anomaly.ForecastPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	series := make([]chart.Series, 0, len(metrics))
	for _, name := range metrics {
		var (
			x []time.Time
			y []float64
		)
		for _, snap := range snaps {
			value, ok := snap.Metrics[name]
			if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			x = append(x, snap.Timestamp)
			y = append(y, value)
		}
		// go-chart needs at least two points per series
		if len(x) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{Name: name, XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return errors.New("not enough data points to render a chart")
	}
	if len(forecast) >= 2 {
		x := make([]time.Time, len(forecast))
		mid := make([]float64, len(forecast))
		lower := make([]float64, len(forecast))
		upper := make([]float64, len(forecast))
		for i, p := range forecast {
			x[i] = p.Timestamp
			mid[i] = p.Forecast
			lower[i] = p.Lower
			upper[i] = p.Upper
		}
		dashed := chart.Style{StrokeDashArray: []float64{5, 5}}
		series = append(series,
			chart.TimeSeries{Name: "Forecast", XValues: x, YValues: mid},
			chart.TimeSeries{Name: "Lower bound", XValues: x, YValues: lower, Style: dashed},
			chart.TimeSeries{Name: "Upper bound", XValues: x, YValues: upper, Style: dashed},
		)
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Value",
			ValueFormatter: valueFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
