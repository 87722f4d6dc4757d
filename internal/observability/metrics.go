// Package observability exposes Prometheus instrumentation for the monitor.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelmon",
		Name:      "checks_total",
		Help:      "Monitor check cycles by result",
	}, []string{"result"})

	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "intelmon",
		Name:      "check_duration_seconds",
		Help:      "Duration of monitor check cycles",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	SnapshotsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "intelmon",
		Name:      "snapshots_stored_total",
		Help:      "Snapshots written to the backing store",
	})

	SnapshotCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelmon",
		Name:      "snapshot_cache_lookups_total",
		Help:      "Range query cache lookups by outcome",
	}, []string{"outcome"})

	ModelFits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelmon",
		Name:      "model_fits_total",
		Help:      "Detector model fits by outcome",
	}, []string{"outcome"})

	AlertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelmon",
		Name:      "alerts_generated_total",
		Help:      "Alerts persisted by urgency and suppression reason",
	}, []string{"urgency", "suppression"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelmon",
		Name:      "notifications_total",
		Help:      "Notification attempts by channel and result",
	}, []string{"channel", "result"})

	MonitorsInError = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "intelmon",
		Name:      "monitors_in_error",
		Help:      "Monitors currently paused by consecutive failures",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
