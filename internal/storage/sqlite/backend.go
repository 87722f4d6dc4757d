// Package sqlite implements the storage backend on an embedded SQLite file
// for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rish2jain/consultantOS-sub009/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    collection    TEXT    NOT NULL,
    partition_key TEXT    NOT NULL,
    id            TEXT    NOT NULL,
    sort_key      INTEGER NOT NULL,
    data          BLOB    NOT NULL,
    updated_at    INTEGER NOT NULL,
    PRIMARY KEY (collection, partition_key, id)
);
CREATE INDEX IF NOT EXISTS idx_records_range
    ON records (collection, partition_key, sort_key, id);
`

const (
	upsertSQL = `INSERT INTO records (collection, partition_key, id, sort_key, data, updated_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (collection, partition_key, id) DO UPDATE
    SET sort_key = excluded.sort_key,
        data = excluded.data,
        updated_at = excluded.updated_at`

	getSQL = `SELECT collection, partition_key, id, sort_key, data
    FROM records WHERE collection = ? AND partition_key = ? AND id = ?`

	rangeSQL = `SELECT collection, partition_key, id, sort_key, data
    FROM records
    WHERE collection = ? AND partition_key = ?
      AND sort_key >= ? AND sort_key < ?
    ORDER BY sort_key %s, id %s
    LIMIT ? OFFSET ?`

	deleteSQL          = `DELETE FROM records WHERE collection = ? AND partition_key = ? AND id = ?`
	deletePartitionSQL = `DELETE FROM records WHERE collection = ? AND partition_key = ?`
	partitionsSQL      = `SELECT DISTINCT partition_key FROM records WHERE collection = ? ORDER BY partition_key`
)

// Backend stores records in one SQLite table. Sort keys are unix nanoseconds.
type Backend struct {
	db *sql.DB
}

// Open creates the database file if needed and initialises the schema.
func Open(path string) (*Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("database.sqlite_path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise sqlite schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close closes the database handle.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) getDB() (*sql.DB, error) {
	if b == nil || b.db == nil {
		return nil, storage.ErrNotConfigured
	}
	return b.db, nil
}

// Put upserts a record.
func (b *Backend) Put(ctx context.Context, rec storage.Record) error {
	db, err := b.getDB()
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertSQL,
		rec.Collection, rec.PartitionKey, rec.ID, rec.SortKey.UnixNano(), rec.Data, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Get loads one record.
func (b *Backend) Get(ctx context.Context, collection, partition, id string) (storage.Record, error) {
	db, err := b.getDB()
	if err != nil {
		return storage.Record{}, err
	}
	rec, err := scanRecord(db.QueryRowContext(ctx, getSQL, collection, partition, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// QueryRange lists a partition window.
func (b *Backend) QueryRange(ctx context.Context, q storage.RangeQuery) ([]storage.Record, error) {
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}
	if q.Collection == "" || q.PartitionKey == "" || q.Limit < 0 || q.Offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	var start int64 = -1 << 63
	var end int64 = 1<<63 - 1
	if !q.Start.IsZero() {
		start = q.Start.UnixNano()
	}
	if !q.End.IsZero() {
		end = q.End.UnixNano()
	}
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	dir := "ASC"
	if q.Order == storage.Descending {
		dir = "DESC"
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(rangeSQL, dir, dir),
		q.Collection, q.PartitionKey, start, end, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	records := make([]storage.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes one record.
func (b *Backend) Delete(ctx context.Context, collection, partition, id string) error {
	db, err := b.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, deleteSQL, collection, partition, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePartition removes all records of a partition.
func (b *Backend) DeletePartition(ctx context.Context, collection, partition string) (int, error) {
	db, err := b.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, deletePartitionSQL, collection, partition)
	if err != nil {
		return 0, fmt.Errorf("delete partition: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Partitions lists distinct partition keys of a collection.
func (b *Backend) Partitions(ctx context.Context, collection string) ([]string, error) {
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, partitionsSQL, collection)
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
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (storage.Record, error) {
	var (
		rec  storage.Record
		sort int64
	)
	if err := row.Scan(&rec.Collection, &rec.PartitionKey, &rec.ID, &sort, &rec.Data); err != nil {
		return storage.Record{}, err
	}
	rec.SortKey = time.Unix(0, sort).UTC()
	return rec, nil
}

var _ storage.Backend = (*Backend)(nil)
