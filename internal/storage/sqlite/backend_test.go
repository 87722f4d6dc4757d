package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rish2jain/consultantOS-sub009/internal/storage"
)

func openTemp(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "data", "intelmon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackendRangeAndUpsert(t *testing.T) {
	b := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 123, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Put(ctx, storage.Record{
			Collection:   storage.CollectionSnapshots,
			PartitionKey: "m1",
			ID:           string(rune('a' + i)),
			SortKey:      base.Add(time.Duration(i) * time.Minute),
			Data:         []byte{byte(i)},
		}))
	}
	require.NoError(t, b.Put(ctx, storage.Record{
		Collection:   storage.CollectionSnapshots,
		PartitionKey: "m1",
		ID:           "a",
		SortKey:      base,
		Data:         []byte("replaced"),
	}))

	got, err := b.Get(ctx, storage.CollectionSnapshots, "m1", "a")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(got.Data))
	assert.True(t, got.SortKey.Equal(base), "nanosecond sort keys survive the round trip")

	recs, err := b.QueryRange(ctx, storage.RangeQuery{
		Collection:   storage.CollectionSnapshots,
		PartitionKey: "m1",
		End:          base.Add(3 * time.Minute),
		Order:        storage.Descending,
		Limit:        2,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestBackendNotFound(t *testing.T) {
	b := openTemp(t)
	ctx := context.Background()

	_, err := b.Get(ctx, storage.CollectionMonitors, "x", "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, b.Delete(ctx, storage.CollectionMonitors, "x", "x"), storage.ErrNotFound)

	n, err := b.DeletePartition(ctx, storage.CollectionMonitors, "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}
