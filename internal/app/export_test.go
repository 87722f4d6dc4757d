package app

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

func exportSnapshots(n int) []domain.Snapshot {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	snaps := make([]domain.Snapshot, n)
	for i := range snaps {
		snaps[i] = domain.Snapshot{
			Timestamp: base.AddDate(0, 0, i),
			Metrics:   domain.Metrics{"revenue": float64(100 + i)},
		}
	}
	return snaps
}

func TestDownsampleSnapshotsKeepsEndpoints(t *testing.T) {
	snaps := exportSnapshots(10)

	got := downsampleSnapshots(snaps, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(snaps[0].Timestamp) || !got[3].Timestamp.Equal(snaps[9].Timestamp) {
		t.Fatalf("downsampling must keep first and last snapshot")
	}

	if out := downsampleSnapshots(snaps, 20); len(out) != 10 {
		t.Fatalf("short input must be returned unchanged, got %d", len(out))
	}
}

func TestWriteSnapshotsCSV(t *testing.T) {
	snaps := exportSnapshots(2)
	snaps[1].Metrics["margin"] = math.NaN()
	path := filepath.Join(t.TempDir(), "nested", "out.csv")

	if err := writeSnapshotsCSV(path, snaps, []string{"margin", "revenue"}); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	want := [][]string{
		{"timestamp", "margin", "revenue"},
		{"2024-03-01T00:00:00Z", "", "100"},
		{"2024-03-02T00:00:00Z", "", "101"},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Fatalf("row %d col %d: expected %q, got %q", i, j, want[i][j], rows[i][j])
			}
		}
	}
}

func TestMetricNamesSorted(t *testing.T) {
	snaps := []domain.Snapshot{
		{Metrics: domain.Metrics{"revenue": 1}},
		{Metrics: domain.Metrics{"churn": 2, "revenue": 3}},
	}
	got := metricNames(snaps)
	if len(got) != 2 || got[0] != "churn" || got[1] != "revenue" {
		t.Fatalf("unexpected metric names %v", got)
	}
}
