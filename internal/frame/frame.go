// Package frame holds the column-named row sets passed between pipeline
// stages, plus the value coercions every stage shares.
package frame

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrSchemaMismatch means a table lacks columns a stage relies on.
var ErrSchemaMismatch = eris.New("schema mismatch")

// Table is an ordered set of named columns and the rows beneath them.
// Row slices are always len(Columns) wide.
type Table struct {
	Columns []string
	Rows    [][]any

	index map[string]int
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	if t.index == nil || len(t.index) != len(t.Columns) {
		t.reindex()
	}
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

// Has reports whether col exists.
func (t *Table) Has(col string) bool {
	return t.Index(col) >= 0
}

// Missing returns the subset of cols that the table lacks, in input order.
func (t *Table) Missing(cols ...string) []string {
	var out []string
	for _, c := range cols {
		if !t.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Require fails with ErrSchemaMismatch naming every column of cols that t
// lacks. what describes the table in the message.
func (t *Table) Require(what string, cols ...string) error {
	if missing := t.Missing(cols...); len(missing) > 0 {
		return eris.Wrapf(ErrSchemaMismatch, "%s is missing columns: %s", what, strings.Join(missing, ", "))
	}
	return nil
}

// Append adds a row. The row must match the column count.
func (t *Table) Append(row ...any) error {
	if len(row) != len(t.Columns) {
		return eris.Errorf("frame: row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// RenameColumns applies fn to every column name.
func (t *Table) RenameColumns(fn func(string) string) {
	for i, c := range t.Columns {
		t.Columns[i] = fn(c)
	}
	t.reindex()
}

// Value returns the cell at (row, col); nil when the column does not exist.
func (t *Table) Value(row int, col string) any {
	i := t.Index(col)
	if i < 0 {
		return nil
	}
	return t.Rows[row][i]
}

// Row returns an accessor for row i.
func (t *Table) Row(i int) Row {
	return Row{t: t, i: i}
}

// Select returns a new table with exactly cols, in that order. Rows share no
// backing storage with t. A column missing from t is an error.
func (t *Table) Select(cols []string) (*Table, error) {
	if missing := t.Missing(cols...); len(missing) > 0 {
		return nil, eris.Errorf("frame: select: missing columns %v", missing)
	}

	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.Index(c)
	}

	out := New(cols...)
	out.Rows = make([][]any, len(t.Rows))
	for r, src := range t.Rows {
		dst := make([]any, len(idx))
		for i, j := range idx {
			dst[i] = src[j]
		}
		out.Rows[r] = dst
	}
	return out, nil
}

// Filter returns a table holding the rows for which keep returns true.
// Row slices are shared with t.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := New(t.Columns...)
	for i, row := range t.Rows {
		if keep(Row{t: t, i: i}) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Row is a read accessor over one table row.
type Row struct {
	t *Table
	i int
}

// Get returns the raw cell value for col.
func (r Row) Get(col string) any {
	return r.t.Value(r.i, col)
}

// String returns the cell rendered as text; "" for null.
func (r Row) String(col string) string {
	return AsString(r.Get(col))
}
