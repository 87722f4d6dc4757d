package storage

import (
	"context"
)

// Backend is the generic range-queryable store every collection lives in.
// Implementations must allow concurrent access to distinct partitions without
// serialising on a global lock.
type Backend interface {
	// Put inserts or replaces the record addressed by (collection, partition, id).
	Put(ctx context.Context, rec Record) error
	// Get returns ErrNotFound when the record does not exist.
	Get(ctx context.Context, collection, partition, id string) (Record, error)
	// QueryRange lists records of one partition ordered by SortKey, then ID.
	QueryRange(ctx context.Context, q RangeQuery) ([]Record, error)
	// Delete returns ErrNotFound when nothing was removed.
	Delete(ctx context.Context, collection, partition, id string) error
	// DeletePartition removes every record of a partition and returns the count.
	DeletePartition(ctx context.Context, collection, partition string) (int, error)
	// Partitions lists the distinct partition keys of a collection.
	Partitions(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
