package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/service"
)

// RegisterOptions describe a monitor to create.
type RegisterOptions struct {
	Company        string
	Industry       string
	Frequency      string
	AlertThreshold *float64
	PriorityTypes  []string
}

// Register creates a monitor and prints its id.
func (a *App) Register(ctx context.Context, opts RegisterOptions) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	m, err := st.svc.RegisterMonitor(ctx, service.RegisterRequest{
		Company:        opts.Company,
		Industry:       opts.Industry,
		Frequency:      domain.Frequency(opts.Frequency),
		AlertThreshold: opts.AlertThreshold,
		PriorityTypes:  opts.PriorityTypes,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "registered monitor %s for %s (%s)\n", m.ID, m.Company, m.Frequency)
	return nil
}

// Check runs one check cycle now and prints the result as JSON.
func (a *App) Check(ctx context.Context, monitorID string) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	res, err := st.svc.CheckNow(ctx, monitorID)
	if printErr := a.printJSON(res); printErr != nil {
		return printErr
	}
	return err
}

// SetStatus pauses or resumes a monitor.
func (a *App) SetStatus(ctx context.Context, monitorID string, pause bool) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	var m domain.MonitorState
	if pause {
		m, err = st.svc.PauseMonitor(ctx, monitorID)
	} else {
		m, err = st.svc.ResumeMonitor(ctx, monitorID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "monitor %s is %s\n", m.ID, m.Status)
	return nil
}

// Delete removes a monitor and all of its data.
func (a *App) Delete(ctx context.Context, monitorID string) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.svc.DeleteMonitor(ctx, monitorID); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "monitor %s deleted\n", monitorID)
	return nil
}

// ListMonitors prints every monitor.
func (a *App) ListMonitors(ctx context.Context) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	monitors, err := st.svc.ListMonitors(ctx)
	if err != nil {
		return err
	}
	if len(monitors) == 0 {
		fmt.Fprintln(a.Out, "no monitors registered")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCompany\tFrequency\tStatus\tThreshold\tErrors\tLast checked (UTC)\tLast error")
	for _, m := range monitors {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID,
			m.Company,
			m.Frequency,
			m.Status,
			formatDecimal(decimal.NewFromFloat(m.AlertThreshold), 2),
			m.ErrorCount,
			formatTime(m.LastChecked),
			sanitizeInline(m.LastError),
		)
	}
	return writer.Flush()
}

// SnapshotOptions select a snapshot range.
type SnapshotOptions struct {
	MonitorID string
	From      time.Time
	To        time.Time
	Limit     int
}

// Snapshots prints the metrics of stored snapshots.
func (a *App) Snapshots(ctx context.Context, opts SnapshotOptions) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	snaps, err := st.svc.GetSnapshotRange(ctx, opts.MonitorID, opts.From, opts.To, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(a.Out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tMetrics\tTrends")
	for _, snap := range snaps {
		parts := make([]string, 0, len(snap.Metrics))
		for _, name := range snap.Metrics.Names() {
			parts = append(parts, name+"="+decimal.NewFromFloat(snap.Metrics[name]).String())
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			snap.Timestamp.UTC().Format(time.RFC3339),
			strings.Join(parts, " "),
			strings.Join(snap.MarketTrends, "; "),
		)
	}
	return writer.Flush()
}

// Alerts prints a monitor's alerts generated within the last window.
func (a *App) Alerts(ctx context.Context, monitorID string, window time.Duration) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	since := time.Time{}
	if window > 0 {
		since = time.Now().UTC().Add(-window)
	}
	alerts, err := st.svc.ListAlerts(ctx, monitorID, since)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tGenerated (UTC)\tUrgency\tScore\tNotified\tSuppression\tFeedback\tTitle")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			alert.ID,
			alert.GeneratedAt.UTC().Format(time.RFC3339),
			alert.Urgency,
			formatDecimal(decimal.NewFromFloat(alert.PriorityScore), 1),
			alert.DeliveredAt != nil,
			alert.SuppressionReason,
			alert.Feedback,
			sanitizeInline(alert.Title),
		)
	}
	return writer.Flush()
}

// Feedback records a verdict on an alert.
func (a *App) Feedback(ctx context.Context, alertID, verdict string) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	signals, err := st.svc.SubmitAlertFeedback(ctx, alertID, verdict)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "recorded %s feedback for %d change type(s)\n", verdict, len(signals))
	return nil
}

// AggregateOptions select rollups to show or backfill.
type AggregateOptions struct {
	MonitorID string
	Period    domain.PeriodKind
	From      time.Time
	To        time.Time
	Backfill  bool
}

// Aggregate prints one rollup, or regenerates every rollup in a range when
// Backfill is set.
func (a *App) Aggregate(ctx context.Context, opts AggregateOptions) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if opts.Backfill {
		counts, err := st.svc.BackfillAggregations(ctx, opts.MonitorID, opts.From, opts.To, []domain.PeriodKind{opts.Period})
		for kind, n := range counts {
			fmt.Fprintf(a.Out, "%s: %d rollups generated\n", kind, n)
		}
		if err != nil {
			a.Logger.Error().Err(err).Str("monitor_id", opts.MonitorID).Msg("部分聚合回填失败，请检查日志")
			return err
		}
		a.Logger.Info().Str("monitor_id", opts.MonitorID).Str("period", string(opts.Period)).Msg("聚合回填完成")
		return nil
	}

	agg, err := st.svc.GetAggregation(ctx, opts.MonitorID, opts.Period, opts.From)
	if err != nil {
		return err
	}
	return a.printJSON(agg)
}

// Forecast prints the next periods of a metric's forecast.
func (a *App) Forecast(ctx context.Context, monitorID, metric string, periods int) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	points, err := st.svc.GetForecast(ctx, monitorID, metric, periods)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tForecast\tLower\tUpper")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			p.Timestamp.UTC().Format(time.RFC3339),
			formatDecimal(decimal.NewFromFloat(p.Forecast), 2),
			formatDecimal(decimal.NewFromFloat(p.Lower), 2),
			formatDecimal(decimal.NewFromFloat(p.Upper), 2),
		)
	}
	return writer.Flush()
}

// Cleanup applies snapshot retention across all monitors.
func (a *App) Cleanup(ctx context.Context, retentionDays int, dryRun bool) error {
	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	n, err := st.svc.Cleanup(ctx, retentionDays, dryRun)
	if err != nil {
		return err
	}
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	fmt.Fprintf(a.Out, "%s %d snapshot(s)\n", verb, n)
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
