package domain

import (
	"sort"
	"time"
)

// Metrics maps a metric name to its numeric value for one snapshot.
type Metrics map[string]float64

// Names returns metric names in lexical order.
func (m Metrics) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Snapshot is one timestamped analysis result for a monitor. Stored snapshots
// are never mutated; readers always receive copies.
type Snapshot struct {
	MonitorID    string             `json:"monitor_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Company      string             `json:"company"`
	Industry     string             `json:"industry"`
	Metrics      Metrics            `json:"metrics"`
	Fields       map[string]string  `json:"fields,omitempty"`
	MarketTrends []string           `json:"market_trends,omitempty"`
	ContextFlags []string           `json:"context_flags,omitempty"`
	Payload      *CompressedPayload `json:"payload,omitempty"`
}

// CompressedPayload wraps the structured text portion of a snapshot.
type CompressedPayload struct {
	Compressed bool   `json:"compressed"`
	Encoding   string `json:"encoding,omitempty"`
	Data       []byte `json:"data"`
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Metrics = s.Metrics.Clone()
	if s.Fields != nil {
		out.Fields = make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	out.MarketTrends = cloneStrings(s.MarketTrends)
	out.ContextFlags = cloneStrings(s.ContextFlags)
	if s.Payload != nil {
		p := *s.Payload
		p.Data = append([]byte(nil), s.Payload.Data...)
		out.Payload = &p
	}
	return out
}

// HasContext reports whether the caller flagged the snapshot as falling in an
// expected high-variance period.
func (s Snapshot) HasContext() bool {
	return len(s.ContextFlags) > 0
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
