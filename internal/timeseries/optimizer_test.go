package timeseries

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
	"github.com/rish2jain/consultantOS-sub009/internal/storage/memory"
)

var errBackendDown = errors.New("backend down")

// flakyBackend wraps the memory backend with injectable failures.
type flakyBackend struct {
	storage.Backend

	mu        sync.Mutex
	failPuts  map[string]bool
	failReads bool
	queries   int
	afterRead func()
}

func newFlaky() *flakyBackend {
	return &flakyBackend{Backend: memory.New(), failPuts: make(map[string]bool)}
}

func (f *flakyBackend) Put(ctx context.Context, rec storage.Record) error {
	f.mu.Lock()
	fail := f.failPuts[rec.ID]
	f.mu.Unlock()
	if fail {
		return errBackendDown
	}
	return f.Backend.Put(ctx, rec)
}

func (f *flakyBackend) QueryRange(ctx context.Context, q storage.RangeQuery) ([]storage.Record, error) {
	f.mu.Lock()
	f.queries++
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return nil, errBackendDown
	}
	recs, err := f.Backend.QueryRange(ctx, q)
	f.mu.Lock()
	hook := f.afterRead
	f.afterRead = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return recs, err
}

func (f *flakyBackend) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshotAt(monitorID string, ts time.Time, revenue float64) domain.Snapshot {
	return domain.Snapshot{
		MonitorID:    monitorID,
		Timestamp:    ts,
		Company:      "Acme",
		Industry:     "Tech",
		Metrics:      domain.Metrics{"revenue": revenue, "headcount": 120},
		Fields:       map[string]string{"summary": "steady quarter"},
		MarketTrends: []string{"ai adoption"},
	}
}

func newOptimizer(t *testing.T, backend storage.Backend) *Optimizer {
	t.Helper()
	o := New(backend, Options{PageSize: 2}, zerolog.Nop())
	now := t0.Add(48 * time.Hour)
	o.SetClock(func() time.Time { return now })
	return o
}

func TestStoreCompressesLargePayloadsAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	o := newOptimizer(t, backend)

	snap := snapshotAt("m1", t0, 1_000_000)
	snap.Fields["report"] = strings.Repeat("competitor launched a new product line. ", 100)
	require.NoError(t, o.Store(ctx, snap, StoreOptions{Compress: true}))

	raw, err := o.GetLatestSnapshot(ctx, "m1", false)
	require.NoError(t, err)
	require.NotNil(t, raw)
	require.NotNil(t, raw.Payload)
	assert.True(t, raw.Payload.Compressed)
	assert.Equal(t, encodingZstd, raw.Payload.Encoding)
	assert.Nil(t, raw.Fields)

	got, err := o.GetLatestSnapshot(ctx, "m1", true)
	require.NoError(t, err)
	assert.Equal(t, snap.Fields, got.Fields)
	assert.Equal(t, snap.MarketTrends, got.MarketTrends)
	assert.Equal(t, snap.Metrics, got.Metrics)
	assert.True(t, got.Timestamp.Equal(t0))
}

func TestStoreSmallPayloadStaysUncompressed(t *testing.T) {
	ctx := context.Background()
	o := newOptimizer(t, memory.New())

	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 10), StoreOptions{Compress: true}))
	raw, err := o.GetLatestSnapshot(ctx, "m1", false)
	require.NoError(t, err)
	assert.False(t, raw.Payload.Compressed)
}

func TestStoreRejectsNonMonotonicTimestamps(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	o := newOptimizer(t, backend)

	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 1), StoreOptions{}))
	err := o.Store(ctx, snapshotAt("m1", t0, 2), StoreOptions{})
	assert.ErrorIs(t, err, domain.ErrNonMonotonicTimestamp)
	err = o.Store(ctx, snapshotAt("m1", t0.Add(-time.Minute), 2), StoreOptions{})
	assert.ErrorIs(t, err, domain.ErrNonMonotonicTimestamp)

	// other monitors are unaffected
	require.NoError(t, o.Store(ctx, snapshotAt("m2", t0, 1), StoreOptions{}))

	// a fresh optimizer over the same backend still sees the stored history
	fresh := newOptimizer(t, backend)
	err = fresh.Store(ctx, snapshotAt("m1", t0, 3), StoreOptions{})
	assert.ErrorIs(t, err, domain.ErrNonMonotonicTimestamp)
}

func TestRangeReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	o := newOptimizer(t, memory.New())
	for i := 0; i < 5; i++ {
		require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Duration(i)*time.Hour), float64(100+i)), StoreOptions{}))
	}

	first, err := o.GetSnapshotsInRange(ctx, "m1", t0, t0.Add(5*time.Hour), RangeOptions{})
	require.NoError(t, err)
	require.Len(t, first, 5)
	first[0].Metrics["revenue"] = -1
	first[0].Fields["summary"] = "mutated"

	second, err := o.GetSnapshotsInRange(ctx, "m1", t0, t0.Add(5*time.Hour), RangeOptions{})
	require.NoError(t, err)
	require.Len(t, second, 5)
	assert.Equal(t, 100.0, second[0].Metrics["revenue"])
	assert.Equal(t, "steady quarter", second[0].Fields["summary"])
	for i := 1; i < len(second); i++ {
		assert.True(t, second[i].Timestamp.After(second[i-1].Timestamp))
	}
}

func TestRangeIsHalfOpenAndLimited(t *testing.T) {
	ctx := context.Background()
	o := newOptimizer(t, memory.New())
	for i := 0; i < 5; i++ {
		require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Duration(i)*time.Hour), float64(i)), StoreOptions{}))
	}

	got, err := o.GetSnapshotsInRange(ctx, "m1", t0.Add(time.Hour), t0.Add(3*time.Hour), RangeOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Metrics["revenue"])
	assert.Equal(t, 2.0, got[1].Metrics["revenue"])

	limited, err := o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestRangeCacheHitAndInvalidation(t *testing.T) {
	ctx := context.Background()
	backend := newFlaky()
	o := newOptimizer(t, backend)
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 1), StoreOptions{}))

	end := t0.Add(24 * time.Hour)
	_, err := o.GetSnapshotsInRange(ctx, "m1", t0, end, RangeOptions{})
	require.NoError(t, err)
	before := backend.queryCount()

	cached, err := o.GetSnapshotsInRange(ctx, "m1", t0, end, RangeOptions{})
	require.NoError(t, err)
	assert.Len(t, cached, 1)
	assert.Equal(t, before, backend.queryCount(), "second read should be served from cache")

	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Hour), 2), StoreOptions{}))
	fresh, err := o.GetSnapshotsInRange(ctx, "m1", t0, end, RangeOptions{})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestRangeReadRacingAWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	backend := newFlaky()
	o := newOptimizer(t, backend)
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 1), StoreOptions{}))

	// the write lands after the range read hits the backend but before the
	// result would be cached
	backend.afterRead = func() {
		require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Hour), 2), StoreOptions{}))
	}
	end := t0.Add(24 * time.Hour)
	stale, err := o.GetSnapshotsInRange(ctx, "m1", t0, end, RangeOptions{})
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	fresh, err := o.GetSnapshotsInRange(ctx, "m1", t0, end, RangeOptions{})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestNonFiniteMetricsSurviveStorage(t *testing.T) {
	ctx := context.Background()
	o := newOptimizer(t, memory.New())

	snap := snapshotAt("m1", t0, 1_600_000)
	snap.Metrics["margin"] = math.NaN()
	snap.Metrics["burn"] = math.Inf(1)
	snap.Metrics["debt"] = math.Inf(-1)
	require.NoError(t, o.Store(ctx, snap, StoreOptions{Compress: true}))

	got, err := o.GetLatestSnapshot(ctx, "m1", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1_600_000.0, got.Metrics["revenue"])
	assert.True(t, math.IsNaN(got.Metrics["margin"]))
	assert.True(t, math.IsInf(got.Metrics["burn"], 1))
	assert.True(t, math.IsInf(got.Metrics["debt"], -1))
}

func TestRangeCacheExpires(t *testing.T) {
	ctx := context.Background()
	backend := newFlaky()
	o := New(backend, Options{CacheTTL: time.Minute}, zerolog.Nop())
	now := t0
	o.SetClock(func() time.Time { return now })
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 1), StoreOptions{}))

	_, err := o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{})
	require.NoError(t, err)
	before := backend.queryCount()

	now = now.Add(2 * time.Minute)
	_, err = o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{})
	require.NoError(t, err)
	assert.Greater(t, backend.queryCount(), before)
}

func TestReadFailureIsNotAnEmptyResult(t *testing.T) {
	ctx := context.Background()
	backend := newFlaky()
	o := newOptimizer(t, backend)
	backend.failReads = true

	got, err := o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{})
	assert.Nil(t, got)
	var unavailable *domain.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, errBackendDown)

	_, err = o.GetLatestSnapshot(ctx, "m1", true)
	assert.ErrorAs(t, err, &unavailable)
}

func TestBatchFlushKeepsSiblingsOnFailure(t *testing.T) {
	ctx := context.Background()
	backend := newFlaky()
	o := newOptimizer(t, backend)

	bad := t0.Add(time.Hour)
	backend.failPuts[snapshotID(bad)] = true

	for i := 0; i < 3; i++ {
		require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Duration(i)*time.Hour), float64(i)), StoreOptions{Batch: true}))
	}
	assert.Equal(t, 3, o.PendingCount())

	report, err := o.FlushPendingWrites(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, report.Stored)
	require.Len(t, report.Failed, 1)
	assert.True(t, report.Failed[0].Timestamp.Equal(bad))
	assert.Equal(t, 0, o.PendingCount())

	got, err := o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].Metrics["revenue"])
	assert.Equal(t, 2.0, got[1].Metrics["revenue"])
}

func TestBatchFlushesAtCapacity(t *testing.T) {
	ctx := context.Background()
	o := New(memory.New(), Options{BatchSize: 2}, zerolog.Nop())

	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 1), StoreOptions{Batch: true}))
	assert.Equal(t, 1, o.PendingCount())
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Hour), 2), StoreOptions{Batch: true}))
	assert.Equal(t, 0, o.PendingCount())

	latest, err := o.GetLatestSnapshot(ctx, "m1", true)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2.0, latest.Metrics["revenue"])
}

func TestCleanupOldSnapshots(t *testing.T) {
	ctx := context.Background()
	o := New(memory.New(), Options{}, zerolog.Nop())
	now := t0
	o.SetClock(func() time.Time { return now })

	start := now.AddDate(0, 0, -100)
	for i := 0; i < 100; i += 5 {
		require.NoError(t, o.Store(ctx, snapshotAt("m1", start.AddDate(0, 0, i), float64(i)), StoreOptions{}))
	}

	wouldDelete, err := o.CleanupOldSnapshots(ctx, "m1", 90, true)
	require.NoError(t, err)
	assert.Equal(t, 2, wouldDelete)

	all, err := o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 20, "dry run must not delete")

	deleted, err := o.CleanupOldSnapshots(ctx, "m1", 90, false)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	rest, err := o.GetSnapshotsInRange(ctx, "m1", time.Time{}, time.Time{}, RangeOptions{})
	require.NoError(t, err)
	require.Len(t, rest, 18)
	cutoff := now.AddDate(0, 0, -90)
	for _, s := range rest {
		assert.False(t, s.Timestamp.Before(cutoff), fmt.Sprintf("snapshot %s survived cleanup", s.Timestamp))
	}
}

func TestGetTrendData(t *testing.T) {
	ctx := context.Background()
	o := New(memory.New(), Options{}, zerolog.Nop())
	now := t0
	o.SetClock(func() time.Time { return now })

	for i := 10; i >= 0; i-- {
		require.NoError(t, o.Store(ctx, snapshotAt("m1", now.AddDate(0, 0, -i), float64(10-i)), StoreOptions{}))
	}

	series, err := o.GetTrendData(ctx, "m1", 3, "revenue")
	require.NoError(t, err)
	require.Contains(t, series, "revenue")
	assert.NotContains(t, series, "headcount")
	points := series["revenue"]
	require.Len(t, points, 4)
	assert.Equal(t, 10.0, points[3].Value)

	all, err := o.GetTrendData(ctx, "m1", 3, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = o.GetTrendData(ctx, "m1", 0, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestDeleteAllDropsPendingAndStored(t *testing.T) {
	ctx := context.Background()
	o := newOptimizer(t, memory.New())
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0, 1), StoreOptions{}))
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(time.Hour), 2), StoreOptions{Batch: true}))

	n, err := o.DeleteAll(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, o.PendingCount())

	latest, err := o.GetLatestSnapshot(ctx, "m1", true)
	require.NoError(t, err)
	assert.Nil(t, latest)

	// history is gone, so an earlier timestamp is accepted again
	require.NoError(t, o.Store(ctx, snapshotAt("m1", t0.Add(-time.Hour), 1), StoreOptions{}))
}
