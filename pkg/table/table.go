// Package table provides the rectangular result type produced by query
// shaping: named ordered columns, rows in traversal order, and per-column
// type inference.
package table

import (
	"fmt"
	"strconv"
)

// NoValue marks a cell with no value. It is written out verbatim so that
// missing values are never silently dropped.
const NoValue = "NA"

// ColumnType is the inferred runtime type of a column.
type ColumnType int

const (
	// TypeText holds arbitrary text values.
	TypeText ColumnType = iota
	// TypeNumeric holds values that all parse as numbers.
	TypeNumeric
)

func (t ColumnType) String() string {
	if t == TypeNumeric {
		return "numeric"
	}
	return "text"
}

// Table is a rectangular result set. Cells keep the lexical form they had
// in the source document, so numeric values round-trip at full precision.
type Table struct {
	Name    string
	Columns []string
	Types   []ColumnType
	Rows    [][]string
}

// New creates an empty table with the given column set. Types default to
// text until InferTypes is called.
func New(name string, columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{
		Name:    name,
		Columns: cols,
		Types:   make([]ColumnType, len(cols)),
	}
}

// AppendRow adds a row. The row length must match the column set.
func (t *Table) AppendRow(row []string) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("table %q: row has %d cells, want %d", t.Name, len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// ColumnIndex returns the position of a column, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// InferTypes recomputes column types: a column is numeric when every
// non-missing cell parses as a number, otherwise text. Columns with no
// values at all stay text.
func (t *Table) InferTypes() {
	for i := range t.Columns {
		t.Types[i] = inferColumnType(t.Rows, i)
	}
}

func inferColumnType(rows [][]string, col int) ColumnType {
	seen := false
	for _, row := range rows {
		v := row[col]
		if v == NoValue || v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return TypeText
		}
		seen = true
	}
	if !seen {
		return TypeText
	}
	return TypeNumeric
}

// Equal reports whether two tables have identical column order, row order
// and cell values. Name and inferred types are not compared.
func (t *Table) Equal(o *Table) bool {
	if o == nil || len(t.Columns) != len(o.Columns) || len(t.Rows) != len(o.Rows) {
		return false
	}
	for i, c := range t.Columns {
		if o.Columns[i] != c {
			return false
		}
	}
	for i, row := range t.Rows {
		for j, cell := range row {
			if o.Rows[i][j] != cell {
				return false
			}
		}
	}
	return true
}
