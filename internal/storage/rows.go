package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"jamwatch/internal/dataset"
)

// RowRecord is a labelled feature row kept for retraining.
type RowRecord struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
	Label  int                `json:"label"`
}

// ArchiveRows stores labelled rows. NaN cells are dropped since JSON cannot
// carry them; they read back as missing.
func (s *Store) ArchiveRows(rows []dataset.Row, labels []int) error {
	if len(rows) != len(labels) {
		return fmt.Errorf("rows and labels size mismatch: %d != %d", len(rows), len(labels))
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(rowsBucket))
		for i, r := range rows {
			rec := RowRecord{Time: r.Time, Label: labels[i], Values: make(map[string]float64, len(r.Values))}
			for k := range r.Values {
				if v, ok := r.Get(k); ok {
					rec.Values[k] = v
				}
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal row: %w", err)
			}
			seq, _ := b.NextSequence()
			if err := b.Put(timeKey("row", r.Time, int(seq%1e8)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ArchivedTable returns archived rows in [start, end] as a table whose label
// column is labelColumn.
func (s *Store) ArchivedTable(start, end time.Time, labelColumn string) (*dataset.Table, error) {
	colSet := map[string]struct{}{labelColumn: {}}
	var rows []dataset.Row

	err := s.scanRange(rowsBucket, "row", start, end, func(v []byte) {
		var rec RowRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return
		}
		vals := make(map[string]float64, len(rec.Values)+1)
		for k, x := range rec.Values {
			vals[k] = x
			colSet[k] = struct{}{}
		}
		vals[labelColumn] = float64(rec.Label)
		rows = append(rows, dataset.Row{Time: rec.Time, Values: vals})
	})
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return dataset.NewTable(cols, rows), nil
}

// ExportRowsToCSV writes archived rows in [start, end] as a feature CSV that
// dataset.ReadCSV can load.
func (s *Store) ExportRowsToCSV(w io.Writer, start, end time.Time, labelColumn string) (int, error) {
	t, err := s.ArchivedTable(start, end, labelColumn)
	if err != nil {
		return 0, err
	}
	return t.Len(), dataset.WriteCSV(w, t)
}
