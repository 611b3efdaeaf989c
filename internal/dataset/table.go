// Package dataset loads time-indexed highway feature tables and slices them
// by day or date range for training and evaluation.
//
// Tables are immutable: every slicing or column operation returns a new Table
// and never modifies the rows of the receiver.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// TimeColumn is the column holding each row's timestamp.
const TimeColumn = "DateTime"

// DateLayout is the layout used for day identifiers.
const DateLayout = "2006-01-02"

var (
	// ErrMissingLabel is returned when the label column is not in the table.
	ErrMissingLabel = errors.New("label column missing")
	// ErrBadLabel is returned when a label cell is not 0 or 1.
	ErrBadLabel = errors.New("label must be 0 or 1")
)

// Row is one feature row. Missing cells are stored as NaN.
type Row struct {
	Time   time.Time
	Values map[string]float64
}

// Get returns the value of a feature and whether it is present.
func (r Row) Get(name string) (float64, bool) {
	v, ok := r.Values[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Day returns the row's calendar day as YYYY-MM-DD.
func (r Row) Day() string {
	return r.Time.Format(DateLayout)
}

// Table is an ordered set of rows sharing a column list.
type Table struct {
	columns []string
	rows    []Row
}

// NewTable builds a table from rows; columns lists the feature columns in order.
func NewTable(columns []string, rows []Row) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	rs := make([]Row, len(rows))
	copy(rs, rows)
	return &Table{columns: cols, rows: rs}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns a copy of the row slice.
func (t *Table) Rows() []Row {
	rs := make([]Row, len(t.rows))
	copy(rs, t.rows)
	return rs
}

// Columns returns the feature column names.
func (t *Table) Columns() []string {
	cols := make([]string, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	cols := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if _, ok := drop[c]; !ok {
			cols = append(cols, c)
		}
	}

	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		vals := make(map[string]float64, len(cols))
		for _, c := range cols {
			if v, ok := r.Values[c]; ok {
				vals[c] = v
			}
		}
		rows[i] = Row{Time: r.Time, Values: vals}
	}
	return &Table{columns: cols, rows: rows}
}

// Rename returns a table with column from renamed to to. It is a no-op when
// from is absent; an existing column named to is replaced.
func (t *Table) Rename(from, to string) *Table {
	if !t.HasColumn(from) || from == to {
		return NewTable(t.columns, t.rows)
	}

	cols := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		switch c {
		case to:
		case from:
			cols = append(cols, to)
		default:
			cols = append(cols, c)
		}
	}

	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		vals := make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			if k != to {
				vals[k] = v
			}
		}
		if v, ok := r.Values[from]; ok {
			delete(vals, from)
			vals[to] = v
		}
		rows[i] = Row{Time: r.Time, Values: vals}
	}
	return &Table{columns: cols, rows: rows}
}

// SubByDate returns the rows whose timestamp falls on the given day.
func (t *Table) SubByDate(day time.Time) *Table {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return t.SubByRange(start, start.AddDate(0, 0, 1))
}

// SubByRange returns the rows with start <= time < end.
func (t *Table) SubByRange(start, end time.Time) *Table {
	rows := make([]Row, 0)
	for _, r := range t.rows {
		if !r.Time.Before(start) && r.Time.Before(end) {
			rows = append(rows, r)
		}
	}
	return &Table{columns: t.Columns(), rows: rows}
}

// Dates returns the distinct days present in the table, ascending.
func (t *Table) Dates() []time.Time {
	seen := make(map[string]time.Time)
	for _, r := range t.rows {
		d := time.Date(r.Time.Year(), r.Time.Month(), r.Time.Day(), 0, 0, 0, 0, r.Time.Location())
		seen[d.Format(DateLayout)] = d
	}

	days := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// PopLabel splits the label column from the features. A missing column is a
// configuration error and returns ErrMissingLabel; a cell that is not 0 or 1
// returns ErrBadLabel.
func (t *Table) PopLabel(name string) (*Table, []int, error) {
	if !t.HasColumn(name) {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingLabel, name)
	}

	labels := make([]int, len(t.rows))
	for i, r := range t.rows {
		v, ok := r.Get(name)
		if !ok || (v != 0 && v != 1) {
			return nil, nil, fmt.Errorf("%w: row %d", ErrBadLabel, i)
		}
		labels[i] = int(v)
	}

	return t.Drop(name), labels, nil
}

// Concat merges tables into one, ordered by time. Column lists are merged in
// first-seen order.
func Concat(tables ...*Table) *Table {
	var cols []string
	seen := make(map[string]struct{})
	var rows []Row
	for _, tb := range tables {
		for _, c := range tb.columns {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				cols = append(cols, c)
			}
		}
		rows = append(rows, tb.rows...)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	return &Table{columns: cols, rows: rows}
}

// DefaultDropColumns are the columns removed before training: calendar fields,
// current-state labels and speed columns that leak the target.
var DefaultDropColumns = []string{
	"DayOfWeek", "Hour",
	"TrafficJam", "TrafficJam30MinLater",
	"MeanSpeed", "MeanSpeed10MinAgo", "MeanSpeed30MinAgo", "MeanSpeed60MinAgo",
	"Upstream1MeanSpeed", "Upstream2MeanSpeed", "Upstream3MeanSpeed",
	"Downstream1MeanSpeed", "Downstream2MeanSpeed", "Downstream3MeanSpeed",
}

// LabelColumn is the training label: a jam within the next 60 minutes.
const LabelColumn = "TrafficJam60MinLater"
