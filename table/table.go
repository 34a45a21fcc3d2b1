// Copyright 2025 Polybridge

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package table implements a row-oriented table of named columns. It is the
// data sink of the aggregation pipeline: callers construct tables from row
// records and treat the result as opaque.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
)

// Record is a single row as a mapping from column name to cell value. A key
// absent from the record is a missing cell, which is rendered as empty and
// is never zero-filled.
type Record = map[string]interface{}

// Table is a row-oriented container with a fixed column order.
//
// A typical use:
//
//	t := table.FromRecords([]table.Record{
//	  {"timestamp": "2024-01-01T00:00:00Z", "probability": 0.42},
//	}, "timestamp", "probability")
type Table struct {
	Columns []string
	Rows    []Record
}

// New creates an empty table with the given column order.
func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// FromRecords builds a table from row records. When columns are given they
// fix the column order; otherwise columns are the union of the row keys,
// ordered by first appearance across rows (alphabetically within a row).
func FromRecords(rows []Record, columns ...string) *Table {
	t := New(columns...)
	if len(columns) == 0 {
		seen := make(map[string]struct{})
		for _, r := range rows {
			keys := make([]string, 0, len(r))
			for k := range r {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					t.Columns = append(t.Columns, k)
				}
			}
		}
	}
	t.AddRecord(rows...)
	return t
}

// AddRecord appends one or more rows to the table.
func (t *Table) AddRecord(rows ...Record) {
	t.Rows = append(t.Rows, rows...)
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int { return len(t.Rows) }

// Floats extracts the numeric values of a column, skipping missing and
// non-numeric cells.
func (t *Table) Floats(column string) []float64 {
	var out []float64
	for _, r := range t.Rows {
		switch v := r[column].(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		}
	}
	return out
}

// FormatCell renders a single cell value for text or CSV output. Missing and
// nil cells render as the empty string.
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// cells renders one row in column order.
func (t *Table) cells(r Record) []string {
	row := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if v, ok := r[c]; ok {
			row[i] = FormatCell(v)
		}
	}
	return row
}

// Params are parameters for pretty-printing or CSV export of Table data.
type Params struct {
	Rows        int  // max. number of rows to write; 0 = unlimited (default)
	NoHeader    bool // whether to print the header, default - yes
	MaxColWidth int  // for WriteText only; 0 = unlimited, otherwise must be >= 4
}

// WriteCSV writes the entire table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	cw := csv.NewWriter(w)
	if !p.NoHeader && len(t.Columns) > 0 {
		if err := cw.Write(t.Columns); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		if err := cw.Write(t.cells(r)); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// WriteText writes the table as a text formatted for ease of reading.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	if len(t.Columns) == 0 {
		return errors.Reason("table has no columns")
	}
	widths := make([]int, len(t.Columns))
	update := func(row []string) {
		for i := range widths {
			if widths[i] < len(row[i]) {
				widths[i] = len(row[i])
				if p.MaxColWidth > 0 && widths[i] > p.MaxColWidth {
					widths[i] = p.MaxColWidth
				}
			}
		}
	}

	write := func(row []string) error {
		trimmed := make([]string, len(row))
		for i, s := range row {
			trimmed[i] = s
			if len([]rune(s)) > widths[i] {
				r := []rune(s)[:widths[i]-2]
				trimmed[i] = string(r) + ".."
			}
			trimmed[i] = fmt.Sprintf("%[2]*[1]s", trimmed[i], widths[i])
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.Join(trimmed, " | "))
		return err
	}

	dashes := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte('-')
		}
		return string(b)
	}

	if !p.NoHeader {
		update(t.Columns)
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		update(t.cells(r))
	}

	if !p.NoHeader {
		if err := write(t.Columns); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
		dashed := make([]string, len(widths))
		for i, w := range widths {
			dashed[i] = dashes(w)
		}
		if err := write(dashed); err != nil {
			return errors.Annotate(err, "failed to write header separator")
		}
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		if err := write(t.cells(r)); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	return nil
}
