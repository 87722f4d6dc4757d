package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rish2jain/consultantOS-sub009/internal/app"
	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

var (
	snapshotsFrom  string
	snapshotsTo    string
	snapshotsLimit int

	alertsWindow time.Duration

	aggregatePeriod   string
	aggregateFrom     string
	aggregateTo       string
	aggregateBackfill bool

	forecastPeriods int

	cleanupRetention int
	cleanupDryRun    bool
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <monitor-id>",
	Short: "Display stored snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotsLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		opts := app.SnapshotOptions{MonitorID: args[0], Limit: snapshotsLimit}
		if snapshotsFrom != "" {
			from, err := parseTime("from", snapshotsFrom)
			if err != nil {
				return err
			}
			opts.From = from
		}
		if snapshotsTo != "" {
			to, err := parseTime("to", snapshotsTo)
			if err != nil {
				return err
			}
			opts.To = to
		}
		return getApp().Snapshots(cmd.Context(), opts)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts <monitor-id>",
	Short: "Display generated alerts, including suppressed ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Alerts(cmd.Context(), args[0], alertsWindow)
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <monitor-id>",
	Short: "Show a daily, weekly or monthly rollup, or backfill a range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := domain.ParsePeriodKind(aggregatePeriod)
		if err != nil {
			return err
		}
		if aggregateFrom == "" {
			return fmt.Errorf("--from must be provided")
		}
		from, err := parseTime("from", aggregateFrom)
		if err != nil {
			return err
		}
		opts := app.AggregateOptions{MonitorID: args[0], Period: period, From: from, Backfill: aggregateBackfill}
		if aggregateBackfill {
			if aggregateTo == "" {
				return fmt.Errorf("--to must be provided with --backfill")
			}
			to, err := parseTime("to", aggregateTo)
			if err != nil {
				return err
			}
			opts.To = to
		}
		return getApp().Aggregate(cmd.Context(), opts)
	},
}

var forecastCmd = &cobra.Command{
	Use:   "forecast <monitor-id> <metric>",
	Short: "Forecast a metric with prediction intervals",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if forecastPeriods <= 0 {
			return fmt.Errorf("--periods must be greater than zero")
		}
		return getApp().Forecast(cmd.Context(), args[0], args[1], forecastPeriods)
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <alert-id> <helpful|not_helpful|false_positive>",
	Short: "Record feedback on an alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Feedback(cmd.Context(), args[0], args[1])
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshots older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context(), cleanupRetention, cleanupDryRun)
	},
}

func init() {
	snapshotsCmd.Flags().StringVar(&snapshotsFrom, "from", "", "Start timestamp (inclusive)")
	snapshotsCmd.Flags().StringVar(&snapshotsTo, "to", "", "End timestamp (exclusive)")
	snapshotsCmd.Flags().IntVar(&snapshotsLimit, "limit", 50, "Maximum snapshots to display (0 for all)")

	alertsCmd.Flags().DurationVar(&alertsWindow, "window", 7*24*time.Hour, "Only show alerts generated within this window (0 for all)")

	aggregateCmd.Flags().StringVar(&aggregatePeriod, "period", "daily", "Rollup period: daily, weekly or monthly")
	aggregateCmd.Flags().StringVar(&aggregateFrom, "from", "", "Any time inside the period, or the range start with --backfill")
	aggregateCmd.Flags().StringVar(&aggregateTo, "to", "", "Range end (exclusive) with --backfill")
	aggregateCmd.Flags().BoolVar(&aggregateBackfill, "backfill", false, "Regenerate every rollup in [from, to)")

	forecastCmd.Flags().IntVar(&forecastPeriods, "periods", 7, "Number of future periods")

	cleanupCmd.Flags().IntVar(&cleanupRetention, "retention-days", 0, "Retention in days (defaults to config)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Only count the snapshots that would be deleted")
}
