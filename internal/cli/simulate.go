package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rish2jain/consultantOS-sub009/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次指标突变并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.Baseline <= 0 || simulateOpts.Spike <= 0 {
			return errors.New("--baseline 与 --spike 必须大于 0")
		}
		if simulateOpts.Jitter < 0 || simulateOpts.Jitter >= 1 {
			return errors.New("--jitter 必须位于 [0,1) 区间")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Company, "company", "Acme Corp", "告警中的公司名称")
	simulateCmd.Flags().StringVar(&simulateOpts.Metric, "metric", "revenue", "Metric to spike")
	simulateCmd.Flags().Float64Var(&simulateOpts.Baseline, "baseline", 1_000_000, "基线指标值")
	simulateCmd.Flags().Float64Var(&simulateOpts.Spike, "spike", 1_600_000, "模拟检查的观测值")
	simulateCmd.Flags().IntVar(&simulateOpts.Days, "days", 20, "Days of synthetic history")
	simulateCmd.Flags().Float64Var(&simulateOpts.Jitter, "jitter", 0.05, "Relative swing of alternate history days")
}
