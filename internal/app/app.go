package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rish2jain/consultantOS-sub009/internal/aggregation"
	"github.com/rish2jain/consultantOS-sub009/internal/alerting"
	"github.com/rish2jain/consultantOS-sub009/internal/anomaly"
	"github.com/rish2jain/consultantOS-sub009/internal/changes"
	"github.com/rish2jain/consultantOS-sub009/internal/config"
	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/observability"
	"github.com/rish2jain/consultantOS-sub009/internal/runner"
	"github.com/rish2jain/consultantOS-sub009/internal/scheduler"
	"github.com/rish2jain/consultantOS-sub009/internal/service"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
	"github.com/rish2jain/consultantOS-sub009/internal/storage/memory"
	"github.com/rish2jain/consultantOS-sub009/internal/storage/postgres"
	"github.com/rish2jain/consultantOS-sub009/internal/storage/sqlite"
	"github.com/rish2jain/consultantOS-sub009/internal/timeseries"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// openBackend opens the configured store. The locker is nil unless the
// backend supports advisory locks.
func (a *App) openBackend(ctx context.Context) (storage.Backend, storage.AdvisoryLocker, error) {
	db := a.Config.Database
	switch db.Driver {
	case "memory":
		a.Logger.Warn().Msg("using in-memory storage; data is lost on exit")
		return memory.New(), nil, nil
	case "sqlite":
		backend, err := sqlite.Open(db.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		if db.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		backend := postgres.NewBackend(pool)
		return backend, backend, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", db.Driver)
}

func (a *App) newRunner() runner.Runner {
	cfg := a.Config.Runner
	if cfg.BaseURL == "" {
		a.Logger.Warn().Msg("runner.base_url not configured; checks will fail until it is set")
	}
	return runner.NewHTTPRunner(runner.HTTPOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

// newNotifiers builds the configured channels. The closer releases channel
// resources such as Kafka connections.
func (a *App) newNotifiers() ([]alerting.Notifier, func()) {
	cfg := a.Config.Alerting
	var (
		notifiers []alerting.Notifier
		closers   []func() error
	)
	for _, channel := range cfg.Channels {
		switch strings.TrimSpace(strings.ToLower(channel)) {
		case "telegram":
			if !cfg.Telegram.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			tg := cfg.Telegram
			notifiers = append(notifiers, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, a.Logger))
		case "kafka":
			if !cfg.Kafka.Enabled {
				a.Logger.Warn().Msg("kafka channel listed but alerting.kafka.enabled is false")
				continue
			}
			kn := alerting.NewKafkaNotifier(alerting.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout), a.Logger)
			notifiers = append(notifiers, kn)
			closers = append(closers, kn.Close)
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
	}
	return notifiers, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close alert channel")
			}
		}
	}
}

// stack is a fully wired monitoring service plus its resources.
type stack struct {
	svc        *service.Service
	timeseries *timeseries.Optimizer
	close      func()
}

func (a *App) buildStack(backend storage.Backend, locker storage.AdvisoryLocker, run runner.Runner) (*stack, error) {
	cfg := a.Config
	sensitivity, err := anomaly.ParseSensitivity(cfg.Detector.Sensitivity)
	if err != nil {
		return nil, err
	}

	repo := storage.NewRepository(backend)
	ts := timeseries.New(backend, timeseries.Options{
		CompressionThreshold: cfg.TimeSeries.CompressionThreshold,
		BatchSize:            cfg.TimeSeries.BatchSize,
		CacheTTL:             cfg.TimeSeries.CacheTTL,
		PageSize:             cfg.TimeSeries.PageSize,
	}, a.Logger)
	agg := aggregation.New(ts, repo, aggregation.Options{
		SignificantChangePct: cfg.Aggregation.SignificantChangePct,
		TrendEpsilon:         cfg.Aggregation.TrendEpsilon,
		MovingAverageWindow:  cfg.Aggregation.MovingAverageWindow,
		TopTrends:            cfg.Aggregation.TopTrends,
	}, a.Logger)

	notifiers, closeNotifiers := a.newNotifiers()
	dispatcher := alerting.NewDispatcher(notifiers, alerting.DispatchOptions{
		RatePerSecond: cfg.Alerting.RatePerSecond,
		RetryAttempts: cfg.Alerting.RetryAttempts,
		RetryDelay:    cfg.Alerting.RetryDelay,
	}, a.Logger)

	svc := service.New(service.Deps{
		Monitors:   repo,
		Alerts:     repo,
		Feedback:   repo,
		TimeSeries: ts,
		Aggregator: agg,
		Runner:     run,
		Dispatcher: dispatcher,
		Locker:     locker,
	}, service.Options{
		DefaultThreshold:  cfg.Alerting.DefaultThreshold,
		AlertsEnabled:     cfg.Alerting.Enabled,
		Compress:          true,
		RunnerTimeout:     cfg.Runner.RequestTimeout,
		HistoryDays:       cfg.TimeSeries.HistoryDays,
		RetentionDays:     cfg.TimeSeries.RetentionDays,
		MaxParallelChecks: cfg.Scheduler.MaxParallelChecks,
		AdvisoryLockKey:   cfg.Scheduler.AdvisoryLockKey,
		Detector: anomaly.Options{
			Sensitivity:        sensitivity,
			MinPoints:          cfg.Detector.MinPoints,
			MaxModelAge:        cfg.Detector.MaxModelAge,
			MaxGap:             cfg.Detector.MaxGap,
			RecentWindowDays:   cfg.Detector.RecentWindowDays,
			BaselineWindowDays: cfg.Detector.BaselineWindowDays,
			VolatilityRatio:    cfg.Detector.VolatilityRatio,
		},
		Changes: changes.Options{
			ThresholdPct: cfg.Changes.ThresholdPct,
			Categories:   cfg.Changes.Categories,
		},
		Weights: alerting.Weights{
			Anomaly:    cfg.Alerting.Weights.Anomaly,
			Change:     cfg.Alerting.Weights.Change,
			Importance: cfg.Alerting.Weights.Importance,
			Priority:   cfg.Alerting.Weights.Priority,
		},
		Throttle: alerting.ThrottlePolicy{
			Intervals: map[domain.Urgency]time.Duration{
				domain.UrgencyCritical: cfg.Alerting.Throttle.Critical,
				domain.UrgencyHigh:     cfg.Alerting.Throttle.High,
				domain.UrgencyMedium:   cfg.Alerting.Throttle.Medium,
				domain.UrgencyLow:      cfg.Alerting.Throttle.Low,
			},
			DailyCap: cfg.Alerting.DailyCap,
		},
	}, a.Logger)

	return &stack{
		svc:        svc,
		timeseries: ts,
		close: func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if report, err := ts.FlushPendingWrites(flushCtx); err != nil {
				a.Logger.Warn().Err(err).Int("failed", len(report.Failed)).Msg("pending snapshots not flushed")
			}
			closeNotifiers()
			if err := backend.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close store")
			}
		},
	}, nil
}

// open wires the service against the configured store and runner.
func (a *App) open(ctx context.Context) (*stack, error) {
	backend, locker, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.buildStack(backend, locker, a.newRunner())
	if err != nil {
		backend.Close()
		return nil, err
	}
	return st, nil
}

// Run executes the long-running monitoring service: due checks, periodic
// maintenance and, when configured, the metrics endpoint.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	checks, err := scheduler.New(scheduler.Options{
		Name:         "checks",
		Interval:     a.Config.Scheduler.Interval,
		Align:        a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    true,
	}, a.Logger)
	if err != nil {
		return err
	}
	maintenance, err := scheduler.New(scheduler.Options{
		Name:     "maintenance",
		Interval: a.Config.Scheduler.MaintenanceInterval,
		Align:    true,
	}, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return checks.Run(gctx, st.svc.RunDue)
	})
	g.Go(func() error {
		return maintenance.Run(gctx, func(ctx context.Context, tick time.Time) error {
			_, err := st.svc.RunMaintenance(ctx, tick)
			return err
		})
	})
	if addr := a.Config.Metrics.Listen; addr != "" {
		g.Go(func() error {
			return observability.Serve(gctx, addr, a.Logger)
		})
	}

	a.Logger.Info().Str("driver", a.Config.Database.Driver).Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}
