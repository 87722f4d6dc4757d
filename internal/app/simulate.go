package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/runner"
	"github.com/rish2jain/consultantOS-sub009/internal/service"
	"github.com/rish2jain/consultantOS-sub009/internal/storage/memory"
	"github.com/rish2jain/consultantOS-sub009/internal/timeseries"
)

// SimulateOptions describe a synthetic metric history ending in a spike.
type SimulateOptions struct {
	Company  string
	Metric   string
	Baseline float64
	Spike    float64
	Days     int
	// Jitter is the relative swing applied to alternate baseline days.
	Jitter float64
}

// SimulateAlert 用内存存储与合成历史模拟一次指标突变，并通过已配置的告警通道发送结果。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if opts.Days < 1 {
		return errors.New("--days 必须至少为 1")
	}
	if opts.Metric == "" {
		opts.Metric = "revenue"
	}

	static := runner.NewStatic(domain.Snapshot{
		Metrics: domain.Metrics{opts.Metric: opts.Spike},
	})
	st, err := a.buildStack(memory.New(), nil, static)
	if err != nil {
		return err
	}
	defer st.close()

	m, err := st.svc.RegisterMonitor(ctx, service.RegisterRequest{
		Company:   opts.Company,
		Frequency: domain.FrequencyDaily,
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := opts.Days; i >= 1; i-- {
		value := opts.Baseline * (1 + opts.Jitter)
		if i%2 == 0 {
			value = opts.Baseline * (1 - opts.Jitter)
		}
		err := st.timeseries.Store(ctx, domain.Snapshot{
			MonitorID: m.ID,
			Timestamp: now.AddDate(0, 0, -i),
			Company:   m.Company,
			Metrics:   domain.Metrics{opts.Metric: value},
		}, timeseries.StoreOptions{})
		if err != nil {
			return fmt.Errorf("seed history: %w", err)
		}
	}

	res, err := st.svc.CheckNow(ctx, m.ID)
	if err != nil {
		return err
	}
	if res.Alert == nil {
		a.Logger.Info().Msg("模拟未产生告警")
	}
	return a.printJSON(res)
}
