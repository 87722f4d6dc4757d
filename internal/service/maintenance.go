package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// MaintenanceReport summarises one maintenance pass.
type MaintenanceReport struct {
	Flushed      int
	FlushFailed  int
	Aggregations int
	Deleted      int
}

// RunMaintenance flushes buffered writes, rolls up the previous day, week and
// month of every monitor and applies snapshot retention.
func (s *Service) RunMaintenance(ctx context.Context, now time.Time) (MaintenanceReport, error) {
	var report MaintenanceReport
	var errs []error

	flush, err := s.deps.TimeSeries.FlushPendingWrites(ctx)
	report.Flushed = flush.Stored
	report.FlushFailed = len(flush.Failed)
	if err != nil {
		errs = append(errs, err)
	}

	monitors, err := s.deps.Monitors.ListMonitors(ctx)
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}

	yesterday := now.UTC().AddDate(0, 0, -1)
	periods := []struct {
		kind domain.PeriodKind
		at   time.Time
	}{
		{domain.PeriodDaily, yesterday},
		{domain.PeriodWeekly, domain.PeriodWeekly.PeriodStart(now).AddDate(0, 0, -7)},
		{domain.PeriodMonthly, domain.PeriodMonthly.PeriodStart(now).AddDate(0, -1, 0)},
	}
	for _, m := range monitors {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, p := range periods {
			agg, err := s.deps.Aggregator.Generate(ctx, m.ID, p.kind, p.at)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s rollup: %w", m.ID, p.kind, err))
				continue
			}
			if agg != nil {
				report.Aggregations++
			}
		}
	}

	deleted, err := s.Cleanup(ctx, s.opts.RetentionDays, false)
	report.Deleted = deleted
	if err != nil {
		errs = append(errs, err)
	}

	s.logger.Info().Int("flushed", report.Flushed).Int("flush_failed", report.FlushFailed).
		Int("aggregations", report.Aggregations).Int("deleted", report.Deleted).Msg("maintenance completed")
	return report, errors.Join(errs...)
}

// Cleanup removes snapshots older than retentionDays across all monitors.
// With dryRun set it only counts them.
func (s *Service) Cleanup(ctx context.Context, retentionDays int, dryRun bool) (int, error) {
	if retentionDays <= 0 {
		retentionDays = s.opts.RetentionDays
	}
	monitors, err := s.deps.Monitors.ListMonitors(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range monitors {
		n, err := s.deps.TimeSeries.CleanupOldSnapshots(ctx, m.ID, retentionDays, dryRun)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
