package timeseries

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/storage"
)

const encodingZstd = "zstd"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// structured is the text portion of a snapshot that may be compressed.
type structured struct {
	Fields       map[string]string `json:"fields,omitempty"`
	MarketTrends []string          `json:"market_trends,omitempty"`
}

// storedSnapshot is the persisted document. Structured text always lives in
// Payload, compressed or not.
type storedSnapshot struct {
	MonitorID    string                   `json:"monitor_id"`
	Timestamp    time.Time                `json:"timestamp"`
	Company      string                   `json:"company"`
	Industry     string                   `json:"industry"`
	Metrics      domain.Metrics           `json:"metrics"`
	NonFinite    map[string]string        `json:"non_finite,omitempty"`
	ContextFlags []string                 `json:"context_flags,omitempty"`
	Payload      domain.CompressedPayload `json:"payload"`
}

func snapshotID(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// encodeSnapshot builds the storage record, compressing the structured body
// when requested and larger than threshold bytes.
func encodeSnapshot(snap domain.Snapshot, compress bool, threshold int) (storage.Record, bool, error) {
	body, err := json.Marshal(structured{Fields: snap.Fields, MarketTrends: snap.MarketTrends})
	if err != nil {
		return storage.Record{}, false, fmt.Errorf("marshal structured fields: %w", err)
	}

	payload := domain.CompressedPayload{Data: body}
	if compress && len(body) > threshold {
		payload = domain.CompressedPayload{
			Compressed: true,
			Encoding:   encodingZstd,
			Data:       encoder.EncodeAll(body, make([]byte, 0, len(body)/2)),
		}
	}

	finite, nonFinite := splitMetrics(snap.Metrics)
	doc := storedSnapshot{
		MonitorID:    snap.MonitorID,
		Timestamp:    snap.Timestamp.UTC(),
		Company:      snap.Company,
		Industry:     snap.Industry,
		Metrics:      finite,
		NonFinite:    nonFinite,
		ContextFlags: snap.ContextFlags,
		Payload:      payload,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return storage.Record{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}

	return storage.Record{
		Collection:   storage.CollectionSnapshots,
		PartitionKey: snap.MonitorID,
		ID:           snapshotID(snap.Timestamp),
		SortKey:      snap.Timestamp.UTC(),
		Data:         data,
	}, payload.Compressed, nil
}

// decodeSnapshot restores a snapshot. With decompress=false the structured
// text is left in Payload untouched.
func decodeSnapshot(rec storage.Record, decompress bool) (domain.Snapshot, error) {
	var doc storedSnapshot
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", rec.ID, err)
	}

	snap := domain.Snapshot{
		MonitorID:    doc.MonitorID,
		Timestamp:    doc.Timestamp.UTC(),
		Company:      doc.Company,
		Industry:     doc.Industry,
		Metrics:      doc.Metrics,
		ContextFlags: doc.ContextFlags,
	}
	if snap.Metrics == nil {
		snap.Metrics = domain.Metrics{}
	}
	for name, text := range doc.NonFinite {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode metric %s of snapshot %s: %w", name, rec.ID, err)
		}
		snap.Metrics[name] = v
	}

	if !decompress {
		payload := doc.Payload
		snap.Payload = &payload
		return snap, nil
	}

	body, err := inflate(doc.Payload)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("decompress snapshot %s: %w", rec.ID, err)
	}
	var st structured
	if len(body) > 0 {
		if err := json.Unmarshal(body, &st); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode structured fields %s: %w", rec.ID, err)
		}
	}
	snap.Fields = st.Fields
	snap.MarketTrends = st.MarketTrends
	return snap, nil
}

// splitMetrics separates NaN and infinite values, which JSON cannot carry, and
// keeps them as "NaN", "+Inf" or "-Inf".
func splitMetrics(m domain.Metrics) (domain.Metrics, map[string]string) {
	var nonFinite map[string]string
	for name, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if nonFinite == nil {
				nonFinite = make(map[string]string)
			}
			nonFinite[name] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	if nonFinite == nil {
		return m, nil
	}
	finite := make(domain.Metrics, len(m)-len(nonFinite))
	for name, v := range m {
		if _, skip := nonFinite[name]; !skip {
			finite[name] = v
		}
	}
	return finite, nonFinite
}

func inflate(p domain.CompressedPayload) ([]byte, error) {
	if !p.Compressed {
		return p.Data, nil
	}
	if p.Encoding != "" && p.Encoding != encodingZstd {
		return nil, fmt.Errorf("unsupported payload encoding %q", p.Encoding)
	}
	return decoder.DecodeAll(p.Data, nil)
}
