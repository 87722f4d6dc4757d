// Package memory provides an in-process storage backend used by tests and
// the single-shot CLI mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rish2jain/consultantOS-sub009/internal/storage"
)

type partitionKey struct {
	collection string
	partition  string
}

type partition struct {
	mu      sync.RWMutex
	records map[string]storage.Record
}

// Backend keeps records in maps. Each partition has its own lock so writes
// for distinct monitors never contend.
type Backend struct {
	mu         sync.RWMutex
	partitions map[partitionKey]*partition
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{partitions: make(map[partitionKey]*partition)}
}

func (b *Backend) lookup(collection, key string, create bool) *partition {
	k := partitionKey{collection: collection, partition: key}

	b.mu.RLock()
	p, ok := b.partitions[k]
	b.mu.RUnlock()
	if ok || !create {
		return p
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.partitions[k]; ok {
		return p
	}
	p = &partition{records: make(map[string]storage.Record)}
	b.partitions[k] = p
	return p
}

// Put stores a copy of rec.
func (b *Backend) Put(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	p := b.lookup(rec.Collection, rec.PartitionKey, true)
	p.mu.Lock()
	p.records[rec.ID] = copyRecord(rec)
	p.mu.Unlock()
	return nil
}

// Get returns a copy of the stored record.
func (b *Backend) Get(ctx context.Context, collection, key, id string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	p := b.lookup(collection, key, false)
	if p == nil {
		return storage.Record{}, storage.ErrNotFound
	}
	p.mu.RLock()
	rec, ok := p.records[id]
	p.mu.RUnlock()
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return copyRecord(rec), nil
}

// QueryRange filters, sorts and pages a partition.
func (b *Backend) QueryRange(ctx context.Context, q storage.RangeQuery) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Collection == "" || q.PartitionKey == "" || q.Limit < 0 || q.Offset < 0 {
		return nil, storage.ErrInvalidInput
	}
	p := b.lookup(q.Collection, q.PartitionKey, false)
	if p == nil {
		return []storage.Record{}, nil
	}

	p.mu.RLock()
	matched := make([]storage.Record, 0, len(p.records))
	for _, rec := range p.records {
		if q.Contains(rec.SortKey) {
			matched = append(matched, rec)
		}
	}
	p.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, c := matched[i], matched[j]
		if q.Order == storage.Descending {
			a, c = c, a
		}
		if !a.SortKey.Equal(c.SortKey) {
			return a.SortKey.Before(c.SortKey)
		}
		return a.ID < c.ID
	})

	if q.Offset >= len(matched) {
		return []storage.Record{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]storage.Record, len(matched))
	for i, rec := range matched {
		out[i] = copyRecord(rec)
	}
	return out, nil
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, collection, key, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := b.lookup(collection, key, false)
	if p == nil {
		return storage.ErrNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(p.records, id)
	return nil
}

// DeletePartition drops a whole partition.
func (b *Backend) DeletePartition(ctx context.Context, collection, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	k := partitionKey{collection: collection, partition: key}
	b.mu.Lock()
	p, ok := b.partitions[k]
	delete(b.partitions, k)
	b.mu.Unlock()
	if !ok {
		return 0, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records), nil
}

// Partitions lists non-empty partitions of a collection in lexical order.
func (b *Backend) Partitions(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	keys := make([]string, 0)
	for k, p := range b.partitions {
		if k.collection != collection {
			continue
		}
		p.mu.RLock()
		n := len(p.records)
		p.mu.RUnlock()
		if n > 0 {
			keys = append(keys, k.partition)
		}
	}
	b.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

func copyRecord(rec storage.Record) storage.Record {
	out := rec
	out.Data = append([]byte(nil), rec.Data...)
	return out
}

var _ storage.Backend = (*Backend)(nil)
