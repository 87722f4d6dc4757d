// Package timeseries stores monitor snapshots with compression, batched
// writes, a range-query cache and retention.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/observability"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
)

// Options tune the optimizer.
type Options struct {
	CompressionThreshold int
	BatchSize            int
	CacheTTL             time.Duration
	PageSize             int
}

func (o Options) withDefaults() Options {
	if o.CompressionThreshold <= 0 {
		o.CompressionThreshold = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 300 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	return o
}

// StoreOptions control a single write.
type StoreOptions struct {
	Compress bool
	Batch    bool
}

// RangeOptions control a range read. Limit zero means unlimited; PageSize
// zero uses the configured page size.
type RangeOptions struct {
	Limit    int
	PageSize int
}

// TrendPoint is one observation of one metric.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BatchFailure reports a batched snapshot that could not be stored.
type BatchFailure struct {
	MonitorID string
	Timestamp time.Time
	Err       error
}

// FlushReport summarises a flush of pending writes.
type FlushReport struct {
	Stored int
	Failed []BatchFailure
}

type pendingWrite struct {
	monitorID string
	timestamp time.Time
	record    storage.Record
}

// Optimizer fronts the backing store for snapshot reads and writes.
type Optimizer struct {
	backend storage.Backend
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time

	locks sync.Map // monitor id -> *sync.Mutex

	mu      sync.Mutex
	pending []pendingWrite
	latest  map[string]time.Time

	cache *rangeCache
}

// New constructs an Optimizer.
func New(backend storage.Backend, opts Options, logger zerolog.Logger) *Optimizer {
	opts = opts.withDefaults()
	return &Optimizer{
		backend: backend,
		opts:    opts,
		logger:  logger.With().Str("component", "timeseries").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		latest:  make(map[string]time.Time),
		cache:   newRangeCache(opts.CacheTTL),
	}
}

// SetClock overrides the wall clock.
func (o *Optimizer) SetClock(now func() time.Time) {
	o.now = now
	o.cache.now = now
}

func (o *Optimizer) monitorLock(monitorID string) *sync.Mutex {
	l, _ := o.locks.LoadOrStore(monitorID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Store persists a snapshot, or buffers it when opts.Batch is set. The
// timestamp must be strictly after every stored or pending snapshot of the
// same monitor.
func (o *Optimizer) Store(ctx context.Context, snap domain.Snapshot, opts StoreOptions) error {
	if snap.MonitorID == "" || snap.Timestamp.IsZero() {
		return fmt.Errorf("%w: snapshot requires monitor id and timestamp", storage.ErrInvalidInput)
	}

	lock := o.monitorLock(snap.MonitorID)
	lock.Lock()
	defer lock.Unlock()

	last, err := o.lastTimestamp(ctx, snap.MonitorID)
	if err != nil {
		return err
	}
	if !last.IsZero() && !snap.Timestamp.After(last) {
		return fmt.Errorf("%w: %s <= %s", domain.ErrNonMonotonicTimestamp,
			snap.Timestamp.UTC().Format(time.RFC3339Nano), last.UTC().Format(time.RFC3339Nano))
	}

	rec, compressed, err := encodeSnapshot(snap, opts.Compress, o.opts.CompressionThreshold)
	if err != nil {
		return err
	}

	if opts.Batch {
		o.mu.Lock()
		o.pending = append(o.pending, pendingWrite{monitorID: snap.MonitorID, timestamp: snap.Timestamp, record: rec})
		o.latest[snap.MonitorID] = snap.Timestamp
		full := len(o.pending) >= o.opts.BatchSize
		o.mu.Unlock()

		if full {
			report, err := o.FlushPendingWrites(ctx)
			if err != nil {
				o.logger.Warn().Err(err).Int("stored", report.Stored).Int("failed", len(report.Failed)).Msg("batch flush at capacity had failures")
			}
		}
		return nil
	}

	if err := o.backend.Put(ctx, rec); err != nil {
		return &domain.StoreUnavailableError{Op: "store snapshot", Err: err}
	}

	o.mu.Lock()
	o.latest[snap.MonitorID] = snap.Timestamp
	o.mu.Unlock()
	o.cache.invalidate(snap.MonitorID)
	observability.SnapshotsStored.Inc()

	o.logger.Debug().Str("monitor_id", snap.MonitorID).Time("timestamp", snap.Timestamp).
		Bool("compressed", compressed).Msg("snapshot stored")
	return nil
}

// lastTimestamp returns the newest known timestamp for a monitor, consulting
// the backend on first use.
func (o *Optimizer) lastTimestamp(ctx context.Context, monitorID string) (time.Time, error) {
	o.mu.Lock()
	ts, ok := o.latest[monitorID]
	o.mu.Unlock()
	if ok {
		return ts, nil
	}

	recs, err := o.backend.QueryRange(ctx, storage.RangeQuery{
		Collection:   storage.CollectionSnapshots,
		PartitionKey: monitorID,
		Order:        storage.Descending,
		Limit:        1,
	})
	if err != nil {
		return time.Time{}, &domain.StoreUnavailableError{Op: "latest snapshot", Err: err}
	}
	if len(recs) == 0 {
		return time.Time{}, nil
	}

	o.mu.Lock()
	if cur, ok := o.latest[monitorID]; !ok || recs[0].SortKey.After(cur) {
		o.latest[monitorID] = recs[0].SortKey
	}
	ts = o.latest[monitorID]
	o.mu.Unlock()
	return ts, nil
}

// PendingCount reports buffered writes.
func (o *Optimizer) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// FlushPendingWrites stores buffered snapshots in submission order. Each entry
// is retried once; a failing entry never prevents its siblings from being
// written.
func (o *Optimizer) FlushPendingWrites(ctx context.Context) (FlushReport, error) {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	var report FlushReport
	if len(batch) == 0 {
		return report, nil
	}

	touched := make(map[string]struct{})
	var errs []error
	for _, w := range batch {
		err := o.backend.Put(ctx, w.record)
		if err != nil {
			err = o.backend.Put(ctx, w.record)
		}
		if err != nil {
			report.Failed = append(report.Failed, BatchFailure{MonitorID: w.monitorID, Timestamp: w.timestamp, Err: err})
			errs = append(errs, fmt.Errorf("%s@%s: %w", w.monitorID, w.timestamp.UTC().Format(time.RFC3339), err))
			o.mu.Lock()
			// re-read from the backend on the next write
			delete(o.latest, w.monitorID)
			o.mu.Unlock()
			continue
		}
		report.Stored++
		touched[w.monitorID] = struct{}{}
		observability.SnapshotsStored.Inc()
	}

	for monitorID := range touched {
		o.cache.invalidate(monitorID)
	}

	o.logger.Info().Int("stored", report.Stored).Int("failed", len(report.Failed)).Msg("pending snapshot writes flushed")
	if len(errs) > 0 {
		return report, &domain.StoreUnavailableError{Op: "flush pending writes", Err: errors.Join(errs...)}
	}
	return report, nil
}

// GetLatestSnapshot returns the newest stored snapshot, or nil when none
// exists. Buffered writes become visible once flushed.
func (o *Optimizer) GetLatestSnapshot(ctx context.Context, monitorID string, decompress bool) (*domain.Snapshot, error) {
	recs, err := o.backend.QueryRange(ctx, storage.RangeQuery{
		Collection:   storage.CollectionSnapshots,
		PartitionKey: monitorID,
		Order:        storage.Descending,
		Limit:        1,
	})
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: "latest snapshot", Err: err}
	}
	if len(recs) == 0 {
		return nil, nil
	}
	snap, err := decodeSnapshot(recs[0], decompress)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetSnapshotsInRange returns snapshots with timestamps in [start, end),
// oldest first. Results are cached per (monitor, start, end, limit) and every
// caller receives its own copy.
func (o *Optimizer) GetSnapshotsInRange(ctx context.Context, monitorID string, start, end time.Time, opts RangeOptions) ([]domain.Snapshot, error) {
	key := cacheKey{monitorID: monitorID, start: start.UnixNano(), end: end.UnixNano(), limit: opts.Limit}
	if cached, ok := o.cache.get(key); ok {
		observability.SnapshotCache.WithLabelValues("hit").Inc()
		return cloneAll(cached), nil
	}
	observability.SnapshotCache.WithLabelValues("miss").Inc()
	gen := o.cache.generation(monitorID)

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = o.opts.PageSize
	}

	snapshots := make([]domain.Snapshot, 0)
	offset := 0
	for {
		size := pageSize
		if opts.Limit > 0 && opts.Limit-len(snapshots) < size {
			size = opts.Limit - len(snapshots)
		}
		if size <= 0 {
			break
		}

		page, err := o.backend.QueryRange(ctx, storage.RangeQuery{
			Collection:   storage.CollectionSnapshots,
			PartitionKey: monitorID,
			Start:        start,
			End:          end,
			Order:        storage.Ascending,
			Limit:        size,
			Offset:       offset,
		})
		if err != nil {
			return nil, &domain.StoreUnavailableError{Op: "snapshot range", Err: err}
		}
		for _, rec := range page {
			snap, err := decodeSnapshot(rec, true)
			if err != nil {
				return nil, err
			}
			snapshots = append(snapshots, snap)
		}
		if len(page) < size {
			break
		}
		offset += len(page)
	}

	o.cache.put(key, gen, cloneAll(snapshots))
	return snapshots, nil
}

// GetTrendData extracts per-metric series for the last days. An empty metric
// name returns every metric.
func (o *Optimizer) GetTrendData(ctx context.Context, monitorID string, days int, metric string) (map[string][]TrendPoint, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", storage.ErrInvalidInput)
	}
	end := o.now()
	start := end.AddDate(0, 0, -days)
	snapshots, err := o.GetSnapshotsInRange(ctx, monitorID, start, end.Add(time.Nanosecond), RangeOptions{})
	if err != nil {
		return nil, err
	}

	series := make(map[string][]TrendPoint)
	for _, snap := range snapshots {
		for name, value := range snap.Metrics {
			if metric != "" && name != metric {
				continue
			}
			series[name] = append(series[name], TrendPoint{Timestamp: snap.Timestamp, Value: value})
		}
	}
	return series, nil
}

// CleanupOldSnapshots deletes snapshots older than now minus retentionDays
// and returns how many were (or, with dryRun, would be) removed.
func (o *Optimizer) CleanupOldSnapshots(ctx context.Context, monitorID string, retentionDays int, dryRun bool) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive", storage.ErrInvalidInput)
	}
	cutoff := o.now().AddDate(0, 0, -retentionDays)

	recs, err := o.backend.QueryRange(ctx, storage.RangeQuery{
		Collection:   storage.CollectionSnapshots,
		PartitionKey: monitorID,
		End:          cutoff,
	})
	if err != nil {
		return 0, &domain.StoreUnavailableError{Op: "retention scan", Err: err}
	}
	if dryRun || len(recs) == 0 {
		return len(recs), nil
	}

	lock := o.monitorLock(monitorID)
	lock.Lock()
	defer lock.Unlock()

	deleted := 0
	for _, rec := range recs {
		if err := o.backend.Delete(ctx, rec.Collection, rec.PartitionKey, rec.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			o.cache.invalidate(monitorID)
			return deleted, &domain.StoreUnavailableError{Op: "retention delete", Err: err}
		}
		deleted++
	}
	o.cache.invalidate(monitorID)

	o.logger.Info().Str("monitor_id", monitorID).Int("deleted", deleted).Time("cutoff", cutoff).Msg("old snapshots removed")
	return deleted, nil
}

// DeleteAll removes every snapshot of a monitor.
func (o *Optimizer) DeleteAll(ctx context.Context, monitorID string) (int, error) {
	lock := o.monitorLock(monitorID)
	lock.Lock()
	defer lock.Unlock()

	n, err := o.backend.DeletePartition(ctx, storage.CollectionSnapshots, monitorID)
	if err != nil {
		return 0, &domain.StoreUnavailableError{Op: "delete snapshots", Err: err}
	}

	o.mu.Lock()
	delete(o.latest, monitorID)
	kept := o.pending[:0]
	for _, w := range o.pending {
		if w.monitorID != monitorID {
			kept = append(kept, w)
		}
	}
	o.pending = kept
	o.mu.Unlock()

	o.cache.invalidate(monitorID)
	return n, nil
}

func cloneAll(in []domain.Snapshot) []domain.Snapshot {
	out := make([]domain.Snapshot, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
