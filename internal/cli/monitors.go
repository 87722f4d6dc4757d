package cli

import (
	"github.com/spf13/cobra"

	"github.com/rish2jain/consultantOS-sub009/internal/app"
)

var (
	registerIndustry      string
	registerFrequency     string
	registerThreshold     float64
	registerPriorityTypes []string
)

var registerCmd = &cobra.Command{
	Use:   "register <company>",
	Short: "Register a company for monitoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RegisterOptions{
			Company:       args[0],
			Industry:      registerIndustry,
			Frequency:     registerFrequency,
			PriorityTypes: registerPriorityTypes,
		}
		if cmd.Flags().Changed("threshold") {
			opts.AlertThreshold = &registerThreshold
		}
		return getApp().Register(cmd.Context(), opts)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <monitor-id>",
	Short: "Run a check cycle immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), args[0])
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <monitor-id>",
	Short: "Pause scheduled checks of a monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetStatus(cmd.Context(), args[0], true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <monitor-id>",
	Short: "Resume a paused or failed monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetStatus(cmd.Context(), args[0], false)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <monitor-id>",
	Short: "Delete a monitor with its snapshots, alerts and rollups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Delete(cmd.Context(), args[0])
	},
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List registered monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListMonitors(cmd.Context())
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerIndustry, "industry", "", "Industry of the company")
	registerCmd.Flags().StringVar(&registerFrequency, "frequency", "daily", "Check cadence: hourly, daily, weekly or a duration such as 6h")
	registerCmd.Flags().Float64Var(&registerThreshold, "threshold", 0, "Alert threshold in [0,1] (defaults to config)")
	registerCmd.Flags().StringSliceVar(&registerPriorityTypes, "priority", nil, "Change types that raise the priority score")
}
