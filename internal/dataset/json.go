package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spf13/cast"
)

// ErrBadTable is returned when a JSON body is not a recognisable feature table.
var ErrBadTable = errors.New("malformed feature table")

// DecodeJSON decodes a feature table sent over HTTP. It accepts
//   - a records array: [{"col": v, ...}, ...]
//   - a column map: {"col": {"0": v, "1": v}, ...}
//   - a split object: {"columns": [...], "data": [[...], ...]}
//   - any of the above wrapped once more in a JSON string.
//
// TimeColumn may hold epoch milliseconds or a timestamp string; rows without
// it get the zero time.
func DecodeJSON(body []byte) (*Table, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadTable)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
	}

	if s, ok := raw.(string); ok {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, fmt.Errorf("%w: inner document: %v", ErrBadTable, err)
		}
	}

	switch v := raw.(type) {
	case []any:
		return fromRecords(v)
	case map[string]any:
		if cols, ok := v["columns"].([]any); ok {
			if data, ok := v["data"].([]any); ok {
				return fromSplit(cols, data)
			}
		}
		return fromColumns(v)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrBadTable, raw)
	}
}

func fromRecords(records []any) (*Table, error) {
	colSet := make(map[string]struct{})
	objs := make([]map[string]any, len(records))
	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is %T", ErrBadTable, i, rec)
		}
		objs[i] = obj
		for k := range obj {
			colSet[k] = struct{}{}
		}
	}

	columns := sortedColumns(colSet)
	rows := make([]Row, len(objs))
	for i, obj := range objs {
		r, err := buildRow(obj, columns)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rows[i] = r
	}
	return &Table{columns: columns, rows: rows}, nil
}

func fromColumns(m map[string]any) (*Table, error) {
	colSet := make(map[string]struct{}, len(m))
	indexSet := make(map[string]struct{})
	cols := make(map[string]map[string]any, len(m))
	for name, v := range m {
		cells, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: column %q is %T", ErrBadTable, name, v)
		}
		cols[name] = cells
		colSet[name] = struct{}{}
		for idx := range cells {
			indexSet[idx] = struct{}{}
		}
	}

	index := make([]string, 0, len(indexSet))
	for idx := range indexSet {
		index = append(index, idx)
	}
	sort.Slice(index, func(i, j int) bool {
		a, errA := cast.ToInt64E(index[i])
		b, errB := cast.ToInt64E(index[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return index[i] < index[j]
	})

	columns := sortedColumns(colSet)
	rows := make([]Row, len(index))
	for i, idx := range index {
		obj := make(map[string]any, len(cols))
		for name, cells := range cols {
			if v, ok := cells[idx]; ok {
				obj[name] = v
			}
		}
		r, err := buildRow(obj, columns)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", idx, err)
		}
		rows[i] = r
	}
	return &Table{columns: columns, rows: rows}, nil
}

func fromSplit(cols []any, data []any) (*Table, error) {
	names := make([]string, len(cols))
	colSet := make(map[string]struct{}, len(cols))
	for i, c := range cols {
		name, err := cast.ToStringE(c)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ErrBadTable, i, err)
		}
		names[i] = name
		colSet[name] = struct{}{}
	}

	columns := sortedColumns(colSet)
	rows := make([]Row, len(data))
	for i, d := range data {
		cells, ok := d.([]any)
		if !ok || len(cells) != len(names) {
			return nil, fmt.Errorf("%w: data row %d", ErrBadTable, i)
		}
		obj := make(map[string]any, len(names))
		for j, name := range names {
			obj[name] = cells[j]
		}
		r, err := buildRow(obj, columns)
		if err != nil {
			return nil, fmt.Errorf("data row %d: %w", i, err)
		}
		rows[i] = r
	}
	return &Table{columns: columns, rows: rows}, nil
}

// sortedColumns returns the feature columns (TimeColumn excluded) in name order.
func sortedColumns(set map[string]struct{}) []string {
	columns := make([]string, 0, len(set))
	for c := range set {
		if c != TimeColumn {
			columns = append(columns, c)
		}
	}
	sort.Strings(columns)
	return columns
}

func buildRow(obj map[string]any, columns []string) (Row, error) {
	r := Row{Values: make(map[string]float64, len(columns))}

	if ts, ok := obj[TimeColumn]; ok && ts != nil {
		t, err := decodeTime(ts)
		if err != nil {
			return Row{}, err
		}
		r.Time = t
	}

	for _, c := range columns {
		v, ok := obj[c]
		if !ok || v == nil {
			r.Values[c] = math.NaN()
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return Row{}, fmt.Errorf("%w: column %q: %v", ErrBadTable, c, err)
		}
		r.Values[c] = f
	}
	return r, nil
}

func decodeTime(v any) (time.Time, error) {
	switch tv := v.(type) {
	case float64:
		return time.UnixMilli(int64(tv)).UTC(), nil
	case string:
		t, err := ParseTime(tv)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrBadTable, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s is %T", ErrBadTable, TimeColumn, v)
	}
}

// EncodeJSON encodes a table as a records array. NaN cells are written as null.
func EncodeJSON(t *Table) ([]byte, error) {
	records := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		rec := make(map[string]any, len(t.columns)+1)
		if !r.Time.IsZero() {
			rec[TimeColumn] = r.Time.UnixMilli()
		}
		for _, c := range t.columns {
			v, ok := r.Values[c]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				rec[c] = nil
				continue
			}
			rec[c] = v
		}
		records[i] = rec
	}
	return json.Marshal(records)
}
