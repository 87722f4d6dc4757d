package domain

// ChangeType is the rule that produced a change.
type ChangeType string

const (
	ChangeMetric        ChangeType = "metric_change"
	ChangeNewMetric     ChangeType = "new_metric"
	ChangeRemovedMetric ChangeType = "removed_metric"
	ChangeField         ChangeType = "field_change"
	ChangeTrendAdded    ChangeType = "trend_added"
	ChangeTrendRemoved  ChangeType = "trend_removed"
)

// Category groups changes by business impact.
type Category string

const (
	CategoryFinancial   Category = "financial"
	CategoryCompetitive Category = "competitive"
	CategoryRegulatory  Category = "regulatory"
	CategoryMarket      Category = "market"
	CategoryOperational Category = "operational"
	CategoryStrategic   Category = "strategic"
)

// Important reports whether the category earns the importance boost.
func (c Category) Important() bool {
	switch c {
	case CategoryFinancial, CategoryCompetitive, CategoryRegulatory:
		return true
	}
	return false
}

// Change is one rule-based difference between consecutive snapshots. Title
// never carries raw values so repeated changes hash identically.
type Change struct {
	Type          ChangeType `json:"type"`
	Category      Category   `json:"category"`
	Subject       string     `json:"subject"`
	Title         string     `json:"title"`
	Previous      string     `json:"previous,omitempty"`
	Current       string     `json:"current,omitempty"`
	PercentChange float64    `json:"percent_change,omitempty"`
}
