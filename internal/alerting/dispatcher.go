package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/observability"
)

// DispatchOptions tune delivery.
type DispatchOptions struct {
	RatePerSecond float64
	RetryAttempts int
	RetryDelay    time.Duration
}

// DispatchReport lists the channels that accepted an alert.
type DispatchReport struct {
	Delivered []string
	Failed    map[string]error
}

// Dispatcher fans an alert out to every channel with retries under a shared
// rate limit.
type Dispatcher struct {
	notifiers []Notifier
	limiter   *rate.Limiter
	attempts  int
	delay     time.Duration
	logger    zerolog.Logger
}

// NewDispatcher builds a dispatcher. A non-positive rate disables limiting.
func NewDispatcher(notifiers []Notifier, opts DispatchOptions, logger zerolog.Logger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Dispatcher{
		notifiers: notifiers,
		limiter:   limiter,
		attempts:  attempts,
		delay:     opts.RetryDelay,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Channels lists the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Dispatch delivers alert to every channel. The error joins the failures of
// channels that exhausted their retries.
func (d *Dispatcher) Dispatch(ctx context.Context, alert domain.Alert) (DispatchReport, error) {
	report := DispatchReport{Failed: make(map[string]error)}
	var errs []error
	for _, n := range d.notifiers {
		err := d.retry(ctx, func() error {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			return n.Notify(ctx, alert)
		})
		if err != nil {
			observability.NotificationsSent.WithLabelValues(n.Name(), "failed").Inc()
			d.logger.Error().Err(err).Str("channel", n.Name()).Str("alert_id", alert.ID).Msg("alert delivery failed")
			report.Failed[n.Name()] = err
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		observability.NotificationsSent.WithLabelValues(n.Name(), "ok").Inc()
		report.Delivered = append(report.Delivered, n.Name())
	}
	return report, errors.Join(errs...)
}

func (d *Dispatcher) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", d.attempts).Msg("delivery attempt failed")
		if attempt < d.attempts && d.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.delay):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", d.attempts, lastErr)
}

// LogNotifier writes alerts to the log. It backs the dispatcher when no
// external channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, alert domain.Alert) error {
	n.logger.Warn().Str("alert_id", alert.ID).
		Str("monitor_id", alert.MonitorID).
		Str("urgency", string(alert.Urgency)).
		Float64("priority_score", alert.PriorityScore).
		Msg(alert.Title)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
