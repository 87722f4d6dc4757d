// Package changes derives rule-based change sets between consecutive
// snapshots.
package changes

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
	"github.com/rish2jain/consultantOS-sub009/internal/stats"
)

// keyword order matters: the first category with a matching keyword wins.
var defaultKeywords = []struct {
	category domain.Category
	words    []string
}{
	{domain.CategoryRegulatory, []string{"regulat", "compliance", "legal", "lawsuit", "litigation", "sanction", "license", "policy", "antitrust", "fine"}},
	{domain.CategoryCompetitive, []string{"competitor", "competition", "competitive", "rival", "market_share", "market share", "pricing"}},
	{domain.CategoryFinancial, []string{"revenue", "profit", "margin", "earnings", "ebitda", "income", "cash", "debt", "valuation", "sales", "cost", "price", "funding"}},
	{domain.CategoryMarket, []string{"market", "demand", "customer", "segment", "sentiment", "trend"}},
	{domain.CategoryOperational, []string{"headcount", "employee", "hiring", "supply", "production", "capacity", "operation", "facility", "churn"}},
}

// Options tune the differ.
type Options struct {
	// ThresholdPct is the minimum absolute percent change of a metric.
	ThresholdPct float64
	// Categories overrides keyword classification per subject.
	Categories map[string]string
}

// Differ compares two snapshots.
type Differ struct {
	threshold float64
	overrides map[string]domain.Category
}

// New builds a Differ. Unknown override categories are ignored.
func New(opts Options) *Differ {
	threshold := opts.ThresholdPct
	if threshold <= 0 {
		threshold = 5
	}
	overrides := make(map[string]domain.Category, len(opts.Categories))
	for subject, cat := range opts.Categories {
		switch c := domain.Category(strings.ToLower(cat)); c {
		case domain.CategoryFinancial, domain.CategoryCompetitive, domain.CategoryRegulatory,
			domain.CategoryMarket, domain.CategoryOperational, domain.CategoryStrategic:
			overrides[strings.ToLower(subject)] = c
		}
	}
	return &Differ{threshold: threshold, overrides: overrides}
}

// Categorize classifies a metric, field or trend name.
func (d *Differ) Categorize(subject string) domain.Category {
	s := strings.ToLower(subject)
	if c, ok := d.overrides[s]; ok {
		return c
	}
	for _, group := range defaultKeywords {
		for _, w := range group.words {
			if strings.Contains(s, w) {
				return group.category
			}
		}
	}
	return domain.CategoryStrategic
}

// Diff returns the changes from prev to cur. A nil prev (first snapshot)
// yields no changes.
func (d *Differ) Diff(prev, cur *domain.Snapshot) []domain.Change {
	if prev == nil || cur == nil {
		return nil
	}
	var out []domain.Change
	out = append(out, d.metricChanges(prev.Metrics, cur.Metrics)...)
	out = append(out, d.fieldChanges(prev.Fields, cur.Fields)...)
	out = append(out, d.trendChanges(prev.MarketTrends, cur.MarketTrends)...)
	return out
}

func (d *Differ) metricChanges(prev, cur domain.Metrics) []domain.Change {
	var out []domain.Change
	for _, name := range cur.Names() {
		v := cur[name]
		if !stats.Finite(v) {
			continue
		}
		old, ok := prev[name]
		if !ok {
			out = append(out, domain.Change{
				Type:     domain.ChangeNewMetric,
				Category: d.Categorize(name),
				Subject:  name,
				Title:    name + " now tracked",
				Current:  formatValue(v),
			})
			continue
		}
		if !stats.Finite(old) || old == v {
			continue
		}

		pct, ok := stats.PercentChange(old, v)
		if !ok {
			pct = math.Copysign(100, v)
		}
		if math.Abs(pct) < d.threshold {
			continue
		}
		direction := "increased"
		if v < old {
			direction = "decreased"
		}
		out = append(out, domain.Change{
			Type:          domain.ChangeMetric,
			Category:      d.Categorize(name),
			Subject:       name,
			Title:         name + " " + direction,
			Previous:      formatValue(old),
			Current:       formatValue(v),
			PercentChange: pct,
		})
	}
	for _, name := range prev.Names() {
		if _, ok := cur[name]; ok {
			continue
		}
		out = append(out, domain.Change{
			Type:     domain.ChangeRemovedMetric,
			Category: d.Categorize(name),
			Subject:  name,
			Title:    name + " no longer reported",
			Previous: formatValue(prev[name]),
		})
	}
	return out
}

func (d *Differ) fieldChanges(prev, cur map[string]string) []domain.Change {
	keys := make(map[string]struct{}, len(prev)+len(cur))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range cur {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []domain.Change
	for _, name := range names {
		old, hadOld := prev[name]
		v, hasNew := cur[name]
		if hadOld && hasNew && strings.TrimSpace(old) == strings.TrimSpace(v) {
			continue
		}
		out = append(out, domain.Change{
			Type:     domain.ChangeField,
			Category: d.Categorize(name),
			Subject:  name,
			Title:    name + " changed",
			Previous: old,
			Current:  v,
		})
	}
	return out
}

func (d *Differ) trendChanges(prev, cur []string) []domain.Change {
	before := make(map[string]struct{}, len(prev))
	for _, t := range prev {
		before[normalizeTrend(t)] = struct{}{}
	}
	after := make(map[string]struct{}, len(cur))
	for _, t := range cur {
		after[normalizeTrend(t)] = struct{}{}
	}

	var out []domain.Change
	seen := make(map[string]struct{})
	for _, t := range cur {
		key := normalizeTrend(t)
		if _, ok := before[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.Change{
			Type:     domain.ChangeTrendAdded,
			Category: d.trendCategory(t),
			Subject:  t,
			Title:    "new market trend: " + t,
			Current:  t,
		})
	}
	for _, t := range prev {
		key := normalizeTrend(t)
		if _, ok := after[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.Change{
			Type:     domain.ChangeTrendRemoved,
			Category: d.trendCategory(t),
			Subject:  t,
			Title:    "market trend faded: " + t,
			Previous: t,
		})
	}
	return out
}

func (d *Differ) trendCategory(trend string) domain.Category {
	if c := d.Categorize(trend); c != domain.CategoryStrategic {
		return c
	}
	return domain.CategoryMarket
}

func normalizeTrend(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func formatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
