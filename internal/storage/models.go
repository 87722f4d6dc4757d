package storage

import (
	"errors"
	"time"
)

// Logical collections persisted by the monitor.
const (
	CollectionSnapshots    = "snapshots"
	CollectionAggregations = "aggregations"
	CollectionMonitors     = "monitors"
	CollectionAlerts       = "alerts"
	CollectionAlertIndex   = "alert_index"
	CollectionFeedback     = "feedback"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput is returned when a record or query is malformed.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// Order controls the sort direction of range queries.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Record is the unit persisted by every backend. Records are addressed by
// (collection, partition key, id) and range-ordered by SortKey.
type Record struct {
	Collection   string
	PartitionKey string
	ID           string
	SortKey      time.Time
	Data         []byte
}

// Validate checks the addressing fields.
func (r Record) Validate() error {
	if r.Collection == "" || r.PartitionKey == "" || r.ID == "" {
		return ErrInvalidInput
	}
	return nil
}

// RangeQuery selects records of one partition whose SortKey falls in
// [Start, End). A zero Start or End leaves that side unbounded.
type RangeQuery struct {
	Collection   string
	PartitionKey string
	Start        time.Time
	End          time.Time
	Order        Order
	Limit        int
	Offset       int
}

// Contains reports whether t falls inside the query window.
func (q RangeQuery) Contains(t time.Time) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false
	}
	return true
}
