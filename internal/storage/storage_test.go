package storage

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(tempDir, DBFile)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "dir")); err == nil {
		t.Error("Expected error for missing directory, got nil")
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestStore_SamplesInRange(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		s := evaluate.Sample{
			Iteration: i,
			Accuracy:  evaluate.Float(0.8 + float64(i)/100),
			Recall:    evaluate.Float(math.NaN()),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(context.Background(), s); err != nil {
			t.Fatalf("Failed to store sample %d: %v", i, err)
		}
	}

	got, err := store.GetSamples(base.Add(2*time.Minute), base.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("GetSamples failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(got))
	}
	for i, s := range got {
		if s.Iteration != i+2 {
			t.Errorf("Expected iteration %d at position %d, got %d", i+2, i, s.Iteration)
		}
		if s.Recall.Defined() {
			t.Errorf("Expected undefined recall to survive storage, got %v", s.Recall)
		}
	}

	all, err := store.GetSamples(time.Time{}, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetSamples failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Expected 5 samples, got %d", len(all))
	}
}

func TestStore_Evaluations(t *testing.T) {
	store := newTestStore(t)

	days := []evaluate.DailyScore{
		{Date: "2023-03-02", Score: evaluate.Score{Accuracy: 0.9}},
		{Date: "2023-03-01", Score: evaluate.Score{Accuracy: 0.8}},
	}
	if err := store.StoreEvaluation("run-a", days); err != nil {
		t.Fatalf("StoreEvaluation failed: %v", err)
	}
	if err := store.StoreEvaluation("run-b", days[:1]); err != nil {
		t.Fatalf("StoreEvaluation failed: %v", err)
	}

	got, err := store.GetEvaluation("run-a")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(got))
	}
	if got[0].Date != "2023-03-01" || got[1].Date != "2023-03-02" {
		t.Errorf("Expected date order, got %s, %s", got[0].Date, got[1].Date)
	}

	none, err := store.GetEvaluation("run-c")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no days for unknown run, got %d (%v)", len(none), err)
	}
}

func TestStore_ArchiveAndExportRows(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := []dataset.Row{
		{Time: base, Values: map[string]float64{"Occupancy": 0.9, "Flow": 12}},
		{Time: base.Add(5 * time.Minute), Values: map[string]float64{"Occupancy": 0.1, "Flow": math.NaN()}},
		{Time: base.Add(5 * time.Minute), Values: map[string]float64{"Occupancy": 0.2, "Flow": 3}},
	}
	if err := store.ArchiveRows(rows, []int{1, 0, 0}); err != nil {
		t.Fatalf("ArchiveRows failed: %v", err)
	}
	if err := store.ArchiveRows(rows, []int{1}); err == nil {
		t.Error("Expected size mismatch error")
	}

	table, err := store.ArchivedTable(base, base.Add(time.Hour), "Y")
	if err != nil {
		t.Fatalf("ArchivedTable failed: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", table.Len())
	}
	if _, ok := table.Rows()[1].Get("Flow"); ok {
		t.Error("Expected NaN cell to read back as missing")
	}
	_, labels, err := table.PopLabel("Y")
	if err != nil {
		t.Fatalf("PopLabel failed: %v", err)
	}
	if labels[0] != 1 || labels[1] != 0 {
		t.Errorf("Unexpected labels %v", labels)
	}

	var buf bytes.Buffer
	n, err := store.ExportRowsToCSV(&buf, base, base.Add(time.Hour), dataset.LabelColumn)
	if err != nil {
		t.Fatalf("ExportRowsToCSV failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 exported rows, got %d", n)
	}
	back, err := dataset.ReadCSV(&buf)
	if err != nil {
		t.Fatalf("Exported CSV does not load: %v", err)
	}
	if back.Len() != 3 || !back.HasColumn(dataset.LabelColumn) {
		t.Errorf("Unexpected export: %d rows, columns %v", back.Len(), back.Columns())
	}
}
