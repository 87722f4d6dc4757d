package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rish2jain/consultantOS-sub009/internal/storage"
)

const (
	upsertRecordSQL = `INSERT INTO records (
        collection,
        partition_key,
        id,
        sort_key,
        data
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (collection, partition_key, id) DO UPDATE
    SET
        sort_key   = EXCLUDED.sort_key,
        data       = EXCLUDED.data,
        updated_at = NOW();`

	getRecordSQL = `SELECT collection, partition_key, id, sort_key, data
    FROM records
    WHERE collection = $1
      AND partition_key = $2
      AND id = $3;`

	queryRangeAscSQL = `SELECT collection, partition_key, id, sort_key, data
    FROM records
    WHERE collection = $1
      AND partition_key = $2
      AND ($3::timestamptz IS NULL OR sort_key >= $3)
      AND ($4::timestamptz IS NULL OR sort_key < $4)
    ORDER BY sort_key ASC, id ASC
    LIMIT $5 OFFSET $6;`

	queryRangeDescSQL = `SELECT collection, partition_key, id, sort_key, data
    FROM records
    WHERE collection = $1
      AND partition_key = $2
      AND ($3::timestamptz IS NULL OR sort_key >= $3)
      AND ($4::timestamptz IS NULL OR sort_key < $4)
    ORDER BY sort_key DESC, id DESC
    LIMIT $5 OFFSET $6;`

	deleteRecordSQL = `DELETE FROM records
    WHERE collection = $1
      AND partition_key = $2
      AND id = $3;`

	deletePartitionSQL = `DELETE FROM records
    WHERE collection = $1
      AND partition_key = $2;`

	listPartitionsSQL = `SELECT DISTINCT partition_key
    FROM records
    WHERE collection = $1
    ORDER BY partition_key;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Backend stores records in a single PostgreSQL table.
type Backend struct {
	pool *pgxpool.Pool
}

// NewBackend wires a pgx pool into a Backend.
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Close releases the underlying pool resources.
func (b *Backend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}

func (b *Backend) getPool() (*pgxpool.Pool, error) {
	if b == nil || b.pool == nil {
		return nil, storage.ErrNotConfigured
	}
	return b.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (b *Backend) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Put upserts a record.
func (b *Backend) Put(ctx context.Context, rec storage.Record) error {
	pool, err := b.getPool()
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertRecordSQL,
		rec.Collection,
		rec.PartitionKey,
		rec.ID,
		rec.SortKey.UTC(),
		rec.Data,
	); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Get loads one record.
func (b *Backend) Get(ctx context.Context, collection, partition, id string) (storage.Record, error) {
	pool, err := b.getPool()
	if err != nil {
		return storage.Record{}, err
	}
	row := pool.QueryRow(ctx, getRecordSQL, collection, partition, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// QueryRange lists a partition window.
func (b *Backend) QueryRange(ctx context.Context, q storage.RangeQuery) ([]storage.Record, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, err
	}
	if q.Collection == "" || q.PartitionKey == "" || q.Limit < 0 || q.Offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	var start, end, limit interface{}
	if !q.Start.IsZero() {
		start = q.Start.UTC()
	}
	if !q.End.IsZero() {
		end = q.End.UTC()
	}
	if q.Limit > 0 {
		limit = q.Limit
	}

	query := queryRangeAscSQL
	if q.Order == storage.Descending {
		query = queryRangeDescSQL
	}

	rows, err := pool.Query(ctx, query, q.Collection, q.PartitionKey, start, end, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	records := make([]storage.Record, 0)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan record: %w", scanErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, collection, partition, id string) error {
	pool, err := b.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, deleteRecordSQL, collection, partition, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePartition removes all records of a partition.
func (b *Backend) DeletePartition(ctx context.Context, collection, partition string) (int, error) {
	pool, err := b.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deletePartitionSQL, collection, partition)
	if err != nil {
		return 0, fmt.Errorf("delete partition: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Partitions lists distinct partition keys of a collection.
func (b *Backend) Partitions(ctx context.Context, collection string) ([]string, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listPartitionsSQL, collection)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return keys, nil
}

func scanRecord(row pgx.Row) (storage.Record, error) {
	var rec storage.Record
	if err := row.Scan(
		&rec.Collection,
		&rec.PartitionKey,
		&rec.ID,
		&rec.SortKey,
		&rec.Data,
	); err != nil {
		return storage.Record{}, err
	}
	rec.SortKey = rec.SortKey.UTC()
	return rec, nil
}

var (
	_ storage.Backend        = (*Backend)(nil)
	_ storage.AdvisoryLocker = (*Backend)(nil)
)
