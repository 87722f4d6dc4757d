package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

func TestFirstSnapshotHasNoChanges(t *testing.T) {
	d := New(Options{})
	assert.Empty(t, d.Diff(nil, &domain.Snapshot{Metrics: domain.Metrics{"revenue": 1}}))
}

func TestMetricThreshold(t *testing.T) {
	d := New(Options{ThresholdPct: 5})
	prev := &domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_000_000, "headcount": 100}}
	cur := &domain.Snapshot{Metrics: domain.Metrics{"revenue": 1_600_000, "headcount": 103}}

	got := d.Diff(prev, cur)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, domain.ChangeMetric, c.Type)
	assert.Equal(t, domain.CategoryFinancial, c.Category)
	assert.Equal(t, "revenue increased", c.Title)
	assert.InDelta(t, 60, c.PercentChange, 1e-9)
	assert.Equal(t, "1e+06", c.Previous)
}

func TestTitlesCarryNoValues(t *testing.T) {
	d := New(Options{})
	prev := &domain.Snapshot{Metrics: domain.Metrics{"revenue": 100}}
	a := d.Diff(prev, &domain.Snapshot{Metrics: domain.Metrics{"revenue": 150}})
	b := d.Diff(prev, &domain.Snapshot{Metrics: domain.Metrics{"revenue": 170}})
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].Title, b[0].Title)
	assert.NotEqual(t, a[0].Current, b[0].Current)
}

func TestNewAndRemovedMetrics(t *testing.T) {
	d := New(Options{})
	prev := &domain.Snapshot{Metrics: domain.Metrics{"churn_rate": 0.1}}
	cur := &domain.Snapshot{Metrics: domain.Metrics{"market_share": 0.2}}

	got := d.Diff(prev, cur)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ChangeNewMetric, got[0].Type)
	assert.Equal(t, domain.CategoryCompetitive, got[0].Category)
	assert.Equal(t, domain.ChangeRemovedMetric, got[1].Type)
	assert.Equal(t, domain.CategoryOperational, got[1].Category)
}

func TestZeroBaselineCountsAsChange(t *testing.T) {
	d := New(Options{})
	got := d.Diff(&domain.Snapshot{Metrics: domain.Metrics{"fines": 0}}, &domain.Snapshot{Metrics: domain.Metrics{"fines": 3}})
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].PercentChange)
	assert.Equal(t, domain.CategoryRegulatory, got[0].Category)
}

func TestFieldAndTrendChanges(t *testing.T) {
	d := New(Options{Categories: map[string]string{"ceo": "strategic", "summary": "market"}})
	prev := &domain.Snapshot{
		Fields:       map[string]string{"ceo": "A. Smith", "summary": "steady"},
		MarketTrends: []string{"Cloud migration", "AI adoption"},
	}
	cur := &domain.Snapshot{
		Fields:       map[string]string{"ceo": "B. Jones", "summary": " steady "},
		MarketTrends: []string{"ai adoption", "new privacy regulation"},
	}

	got := d.Diff(prev, cur)
	require.Len(t, got, 3)

	assert.Equal(t, domain.ChangeField, got[0].Type)
	assert.Equal(t, "ceo", got[0].Subject)
	assert.Equal(t, domain.CategoryStrategic, got[0].Category)

	assert.Equal(t, domain.ChangeTrendAdded, got[1].Type)
	assert.Equal(t, domain.CategoryRegulatory, got[1].Category)

	assert.Equal(t, domain.ChangeTrendRemoved, got[2].Type)
	assert.Equal(t, domain.CategoryMarket, got[2].Category)
}

func TestCategorizeOrder(t *testing.T) {
	d := New(Options{})
	assert.Equal(t, domain.CategoryRegulatory, d.Categorize("regulatory_fines"))
	assert.Equal(t, domain.CategoryCompetitive, d.Categorize("competitor_pricing"))
	assert.Equal(t, domain.CategoryFinancial, d.Categorize("Revenue"))
	assert.Equal(t, domain.CategoryMarket, d.Categorize("customer_demand"))
	assert.Equal(t, domain.CategoryOperational, d.Categorize("headcount"))
	assert.Equal(t, domain.CategoryStrategic, d.Categorize("vision"))
}
