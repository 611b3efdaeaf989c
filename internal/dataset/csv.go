package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

// MonthFilePattern names one month of feature data; it takes year and month.
const MonthFilePattern = "highway_traffic_eda_data_ready_for_ml_%d_%02d.csv"

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	DateLayout,
}

// ParseTime parses a timestamp cell in any of the layouts seen in exported tables.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// parseCell converts a CSV cell to a float. Booleans become 0/1; anything
// else that is not numeric becomes NaN.
func parseCell(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	if f, err := cast.ToFloat64E(s); err == nil {
		return f
	}
	if b, err := cast.ToBoolE(s); err == nil {
		if b {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// Load reads a CSV feature table. The header must contain TimeColumn; rows
// whose timestamp cannot be parsed are skipped.
func Load(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	t, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("rows", t.Len()).
		Int("columns", len(t.columns)).
		Msg("CSV data loaded")
	return t, nil
}

// ReadCSV reads a feature table from r.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	timeIdx := -1
	columns := make([]string, 0, len(header))
	indices := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == TimeColumn {
			timeIdx = i
			continue
		}
		// pandas writes the index as an unnamed first column
		if col == "" {
			continue
		}
		indices[col] = i
		columns = append(columns, col)
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("missing %s column", TimeColumn)
	}

	var rows []Row
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV record: %w", err)
		}

		ts, err := ParseTime(record[timeIdx])
		if err != nil {
			skipped++
			continue
		}

		vals := make(map[string]float64, len(columns))
		for _, col := range columns {
			vals[col] = parseCell(record[indices[col]])
		}
		rows = append(rows, Row{Time: ts, Values: vals})
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("rows with unparseable timestamps skipped")
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	return &Table{columns: columns, rows: rows}, nil
}

// MonthPath returns the file holding the given month.
func MonthPath(dir string, year int, month time.Month) string {
	return filepath.Join(dir, fmt.Sprintf(MonthFilePattern, year, int(month)))
}

// LoadMonths loads every month file overlapping [start, end) and returns the
// rows inside that range. A missing month is an error.
func LoadMonths(dir string, start, end time.Time) (*Table, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("empty range %s..%s", start.Format(DateLayout), end.Format(DateLayout))
	}

	var tables []*Table
	month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	for month.Before(end) {
		t, err := Load(MonthPath(dir, month.Year(), month.Month()))
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		month = month.AddDate(0, 1, 0)
	}

	return Concat(tables...).SubByRange(start, end), nil
}

// WriteCSV writes the table with TimeColumn first followed by its columns.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{TimeColumn}, t.columns...)); err != nil {
		return err
	}

	record := make([]string, len(t.columns)+1)
	for _, r := range t.rows {
		record[0] = r.Time.Format("2006-01-02 15:04:05")
		for i, col := range t.columns {
			v, ok := r.Values[col]
			if !ok || math.IsNaN(v) {
				record[i+1] = ""
				continue
			}
			record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Cursor walks a table row by row.
type Cursor struct {
	rows  []Row
	index int
}

// NewCursor returns a cursor positioned at the first row of t.
func NewCursor(t *Table) *Cursor {
	return &Cursor{rows: t.rows}
}

// HasNext reports whether rows remain.
func (c *Cursor) HasNext() bool { return c.index < len(c.rows) }

// Next returns the next row, or a zero Row once exhausted.
func (c *Cursor) Next() Row {
	if c.index >= len(c.rows) {
		return Row{}
	}
	r := c.rows[c.index]
	c.index++
	return r
}

// Progress returns the share of rows consumed, in percent.
func (c *Cursor) Progress() float64 {
	if len(c.rows) == 0 {
		return 100.0
	}
	return float64(c.index) / float64(len(c.rows)) * 100.0
}
