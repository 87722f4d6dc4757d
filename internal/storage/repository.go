package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

// MonitorStore defines operations for monitor state persistence.
type MonitorStore interface {
	SaveMonitor(ctx context.Context, state domain.MonitorState) error
	GetMonitor(ctx context.Context, id string) (domain.MonitorState, error)
	ListMonitors(ctx context.Context) ([]domain.MonitorState, error)
	DeleteMonitor(ctx context.Context, id string) error
}

// AlertStore defines operations for alert auditing and throttling lookups.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert domain.Alert) error
	UpdateAlert(ctx context.Context, alert domain.Alert) error
	GetAlert(ctx context.Context, alertID string) (domain.Alert, error)
	ListAlertsSince(ctx context.Context, monitorID string, since time.Time) ([]domain.Alert, error)
	ListRecentAlerts(ctx context.Context, monitorID string, limit int) ([]domain.Alert, error)
}

// FeedbackStore persists feedback signals.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, signal domain.FeedbackSignal) error
	ListFeedback(ctx context.Context, monitorID string) ([]domain.FeedbackSignal, error)
}

// AggregationStore persists rollups. Saving replaces any previous rollup for
// the same (monitor, period kind, period start).
type AggregationStore interface {
	SaveAggregation(ctx context.Context, agg domain.Aggregation) error
	GetAggregation(ctx context.Context, monitorID string, kind domain.PeriodKind, start time.Time) (domain.Aggregation, error)
	ListAggregations(ctx context.Context, monitorID string, kind domain.PeriodKind, from, to time.Time) ([]domain.Aggregation, error)
}

// Repository maps the domain collections onto a Backend.
type Repository struct {
	backend Backend
}

// NewRepository wires a backend into a Repository.
func NewRepository(backend Backend) *Repository {
	return &Repository{backend: backend}
}

func (r *Repository) getBackend() (Backend, error) {
	if r == nil || r.backend == nil {
		return nil, ErrNotConfigured
	}
	return r.backend, nil
}

// SaveMonitor persists or replaces a monitor.
func (r *Repository) SaveMonitor(ctx context.Context, state domain.MonitorState) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal monitor: %w", err)
	}
	rec := Record{
		Collection:   CollectionMonitors,
		PartitionKey: state.ID,
		ID:           state.ID,
		SortKey:      state.CreatedAt,
		Data:         data,
	}
	if err := backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("save monitor: %w", err)
	}
	return nil
}

// GetMonitor loads a monitor by id.
func (r *Repository) GetMonitor(ctx context.Context, id string) (domain.MonitorState, error) {
	backend, err := r.getBackend()
	if err != nil {
		return domain.MonitorState{}, err
	}
	rec, err := backend.Get(ctx, CollectionMonitors, id, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.MonitorState{}, fmt.Errorf("%w: %s", domain.ErrMonitorNotFound, id)
		}
		return domain.MonitorState{}, fmt.Errorf("get monitor: %w", err)
	}
	var state domain.MonitorState
	if err := json.Unmarshal(rec.Data, &state); err != nil {
		return domain.MonitorState{}, fmt.Errorf("decode monitor %s: %w", id, err)
	}
	return state, nil
}

// ListMonitors returns every monitor ordered by creation time.
func (r *Repository) ListMonitors(ctx context.Context) ([]domain.MonitorState, error) {
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}
	ids, err := backend.Partitions(ctx, CollectionMonitors)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	monitors := make([]domain.MonitorState, 0, len(ids))
	for _, id := range ids {
		state, err := r.GetMonitor(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrMonitorNotFound) {
				continue
			}
			return nil, err
		}
		monitors = append(monitors, state)
	}
	sort.SliceStable(monitors, func(i, j int) bool {
		return monitors[i].CreatedAt.Before(monitors[j].CreatedAt)
	})
	return monitors, nil
}

// DeleteMonitor removes a monitor together with its alerts, feedback and
// aggregations. Snapshots are owned by the time-series layer.
func (r *Repository) DeleteMonitor(ctx context.Context, id string) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}

	alerts, err := r.ListAlertsSince(ctx, id, time.Time{})
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		if err := backend.Delete(ctx, CollectionAlertIndex, alert.ID, alert.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete alert index: %w", err)
		}
	}
	for _, collection := range []string{CollectionAlerts, CollectionFeedback, CollectionAggregations} {
		if _, err := backend.DeletePartition(ctx, collection, id); err != nil {
			return fmt.Errorf("delete %s: %w", collection, err)
		}
	}
	if err := backend.Delete(ctx, CollectionMonitors, id, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrMonitorNotFound, id)
		}
		return fmt.Errorf("delete monitor: %w", err)
	}
	return nil
}

// InsertAlert persists an alert and its id index entry.
func (r *Repository) InsertAlert(ctx context.Context, alert domain.Alert) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}
	if err := r.putAlert(ctx, backend, alert); err != nil {
		return err
	}
	index := Record{
		Collection:   CollectionAlertIndex,
		PartitionKey: alert.ID,
		ID:           alert.ID,
		SortKey:      alert.GeneratedAt,
		Data:         []byte(alert.MonitorID),
	}
	if err := backend.Put(ctx, index); err != nil {
		return fmt.Errorf("insert alert index: %w", err)
	}
	return nil
}

// UpdateAlert replaces a previously inserted alert.
func (r *Repository) UpdateAlert(ctx context.Context, alert domain.Alert) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}
	return r.putAlert(ctx, backend, alert)
}

func (r *Repository) putAlert(ctx context.Context, backend Backend, alert domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	rec := Record{
		Collection:   CollectionAlerts,
		PartitionKey: alert.MonitorID,
		ID:           alert.ID,
		SortKey:      alert.GeneratedAt,
		Data:         data,
	}
	if err := backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("put alert: %w", err)
	}
	return nil
}

// GetAlert resolves an alert through the id index.
func (r *Repository) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	backend, err := r.getBackend()
	if err != nil {
		return domain.Alert{}, err
	}
	index, err := backend.Get(ctx, CollectionAlertIndex, alertID, alertID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Alert{}, fmt.Errorf("%w: %s", domain.ErrAlertNotFound, alertID)
		}
		return domain.Alert{}, fmt.Errorf("get alert index: %w", err)
	}
	rec, err := backend.Get(ctx, CollectionAlerts, string(index.Data), alertID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Alert{}, fmt.Errorf("%w: %s", domain.ErrAlertNotFound, alertID)
		}
		return domain.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return decodeAlert(rec)
}

// ListAlertsSince lists a monitor's alerts generated at or after since, oldest first.
func (r *Repository) ListAlertsSince(ctx context.Context, monitorID string, since time.Time) ([]domain.Alert, error) {
	return r.queryAlerts(ctx, RangeQuery{
		Collection:   CollectionAlerts,
		PartitionKey: monitorID,
		Start:        since,
		Order:        Ascending,
	})
}

// ListRecentAlerts lists a monitor's most recent alerts, newest first.
func (r *Repository) ListRecentAlerts(ctx context.Context, monitorID string, limit int) ([]domain.Alert, error) {
	return r.queryAlerts(ctx, RangeQuery{
		Collection:   CollectionAlerts,
		PartitionKey: monitorID,
		Order:        Descending,
		Limit:        limit,
	})
}

func (r *Repository) queryAlerts(ctx context.Context, q RangeQuery) ([]domain.Alert, error) {
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}
	recs, err := backend.QueryRange(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts := make([]domain.Alert, 0, len(recs))
	for _, rec := range recs {
		alert, err := decodeAlert(rec)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func decodeAlert(rec Record) (domain.Alert, error) {
	var alert domain.Alert
	if err := json.Unmarshal(rec.Data, &alert); err != nil {
		return domain.Alert{}, fmt.Errorf("decode alert %s: %w", rec.ID, err)
	}
	return alert, nil
}

// SaveFeedback persists one feedback signal.
func (r *Repository) SaveFeedback(ctx context.Context, signal domain.FeedbackSignal) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	rec := Record{
		Collection:   CollectionFeedback,
		PartitionKey: signal.MonitorID,
		ID:           signal.AlertID + ":" + signal.ChangeType,
		SortKey:      signal.RecordedAt,
		Data:         data,
	}
	if err := backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// ListFeedback lists a monitor's feedback signals, oldest first.
func (r *Repository) ListFeedback(ctx context.Context, monitorID string) ([]domain.FeedbackSignal, error) {
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}
	recs, err := backend.QueryRange(ctx, RangeQuery{Collection: CollectionFeedback, PartitionKey: monitorID})
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	signals := make([]domain.FeedbackSignal, 0, len(recs))
	for _, rec := range recs {
		var signal domain.FeedbackSignal
		if err := json.Unmarshal(rec.Data, &signal); err != nil {
			return nil, fmt.Errorf("decode feedback %s: %w", rec.ID, err)
		}
		signals = append(signals, signal)
	}
	return signals, nil
}

// AggregationID is the record id of a rollup inside its monitor partition.
func AggregationID(kind domain.PeriodKind, start time.Time) string {
	return string(kind) + ":" + start.UTC().Format(time.RFC3339)
}

// SaveAggregation replaces the rollup for (monitor, kind, start).
func (r *Repository) SaveAggregation(ctx context.Context, agg domain.Aggregation) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal aggregation: %w", err)
	}
	rec := Record{
		Collection:   CollectionAggregations,
		PartitionKey: agg.MonitorID,
		ID:           AggregationID(agg.Period, agg.Start),
		SortKey:      agg.Start,
		Data:         data,
	}
	if err := backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("save aggregation: %w", err)
	}
	return nil
}

// GetAggregation loads the rollup starting exactly at start.
func (r *Repository) GetAggregation(ctx context.Context, monitorID string, kind domain.PeriodKind, start time.Time) (domain.Aggregation, error) {
	backend, err := r.getBackend()
	if err != nil {
		return domain.Aggregation{}, err
	}
	rec, err := backend.Get(ctx, CollectionAggregations, monitorID, AggregationID(kind, start))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Aggregation{}, fmt.Errorf("%w: %s %s", domain.ErrAggregationNotFound, kind, start.UTC().Format(time.RFC3339))
		}
		return domain.Aggregation{}, fmt.Errorf("get aggregation: %w", err)
	}
	var agg domain.Aggregation
	if err := json.Unmarshal(rec.Data, &agg); err != nil {
		return domain.Aggregation{}, fmt.Errorf("decode aggregation: %w", err)
	}
	return agg, nil
}

// ListAggregations lists rollups of one kind whose start falls in [from, to).
func (r *Repository) ListAggregations(ctx context.Context, monitorID string, kind domain.PeriodKind, from, to time.Time) ([]domain.Aggregation, error) {
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}
	recs, err := backend.QueryRange(ctx, RangeQuery{
		Collection:   CollectionAggregations,
		PartitionKey: monitorID,
		Start:        from,
		End:          to,
	})
	if err != nil {
		return nil, fmt.Errorf("list aggregations: %w", err)
	}
	out := make([]domain.Aggregation, 0, len(recs))
	for _, rec := range recs {
		var agg domain.Aggregation
		if err := json.Unmarshal(rec.Data, &agg); err != nil {
			return nil, fmt.Errorf("decode aggregation %s: %w", rec.ID, err)
		}
		if agg.Period == kind {
			out = append(out, agg)
		}
	}
	return out, nil
}

var (
	_ MonitorStore     = (*Repository)(nil)
	_ AlertStore       = (*Repository)(nil)
	_ FeedbackStore    = (*Repository)(nil)
	_ AggregationStore = (*Repository)(nil)
)
