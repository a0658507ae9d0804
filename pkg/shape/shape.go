// Package shape converts raw matched-node sets into rectangular tables:
// context extraction, value aggregation, wide reshaping over a pivot
// dimension, and per-column type coercion.
package shape

import (
	"fmt"
	"strconv"

	"github.com/gcamkit/gcamreader/pkg/query"
	"github.com/gcamkit/gcamreader/pkg/table"
	"github.com/gcamkit/gcamreader/pkg/xmldb"
)

// Shape materializes a raw result into a table according to the
// definition's column specs and the mapping's context rules. The same
// inputs always yield the same table, column order and row order
// included. A node missing a direct field fails the whole call; partial
// rows would silently corrupt downstream aggregation.
func Shape(raw *xmldb.RawResult, def *query.Definition, m *query.Mapping) (*table.Table, error) {
	if m == nil {
		m = query.DefaultMapping()
	}

	specs := def.Columns()
	columns := make([]string, len(specs))
	for i, s := range specs {
		columns[i] = s.Column
	}

	rows, err := buildRows(raw, def, m, specs)
	if err != nil {
		return nil, err
	}

	valueCol := indexOf(columns, def.ValueColumn())
	rows = aggregate(rows, valueCol)

	pivotCol := pivotIndex(specs)
	if pivotCol >= 0 {
		if valueCol < 0 {
			return nil, fmt.Errorf("query %q: pivot requires a value column", def.Title())
		}
		columns, rows = pivot(columns, rows, pivotCol, valueCol)
	}

	t := table.New(def.Title(), columns)
	for _, row := range rows {
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	t.InferTypes()
	return t, nil
}

func buildRows(raw *xmldb.RawResult, def *query.Definition, m *query.Mapping, specs []query.ColumnSpec) ([][]string, error) {
	rows := make([][]string, 0, len(raw.Nodes))

	for pos, node := range raw.Nodes {
		row := make([]string, len(specs))
		for i, spec := range specs {
			switch spec.Role {
			case query.RoleContext:
				row[i] = contextValue(node, m, spec.Field)
			case query.RolePivot:
				v, ok := fieldOrContext(node, m, spec.Field)
				if !ok {
					return nil, &MalformedResultError{Query: def.Title(), Field: spec.Field, Position: pos + 1}
				}
				row[i] = v
			default:
				v, ok := node.Field(spec.Field)
				if !ok {
					return nil, &MalformedResultError{Query: def.Title(), Field: spec.Field, Position: pos + 1}
				}
				row[i] = v
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// contextValue resolves a context field through the mapping. A field the
// mapping does not name falls back to an ancestor element of the same
// name; nothing further is guessed. Absent context becomes the explicit
// no-value marker.
func contextValue(node xmldb.Node, m *query.Mapping, field string) string {
	rule, ok := m.Rule(field)
	if !ok {
		rule = xmldb.ContextRule{Name: field, Element: field, Attribute: "name"}
	}
	if v, ok := node.Context(rule); ok {
		return v
	}
	return table.NoValue
}

// fieldOrContext resolves a pivot field: mapping rule first (pivot
// dimensions like year are usually inherited), then the node's own
// fields.
func fieldOrContext(node xmldb.Node, m *query.Mapping, field string) (string, bool) {
	if rule, ok := m.Rule(field); ok {
		if v, ok := node.Context(rule); ok {
			return v, true
		}
	}
	return node.Field(field)
}

// aggregate sums the value column over rows sharing every other cell.
// Groups with a single row keep their original lexical form so values
// round-trip at full precision; a non-numeric value anywhere disables
// aggregation rather than corrupting it. Key order is first-seen.
func aggregate(rows [][]string, valueCol int) [][]string {
	if valueCol < 0 || len(rows) < 2 {
		return rows
	}

	type group struct {
		row   []string
		sum   float64
		count int
	}

	var order []string
	groups := make(map[string]*group)

	for _, row := range rows {
		v := row[valueCol]
		if v != table.NoValue {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return rows
			}
		}
		key := groupKey(row, valueCol)
		g, ok := groups[key]
		if !ok {
			g = &group{row: row}
			groups[key] = g
			order = append(order, key)
		}
		if v != table.NoValue {
			f, _ := strconv.ParseFloat(v, 64)
			g.sum += f
			g.count++
		}
	}

	if len(order) == len(rows) {
		return rows
	}

	out := make([][]string, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := append([]string(nil), g.row...)
		if g.count > 1 {
			row[valueCol] = strconv.FormatFloat(g.sum, 'g', -1, 64)
		}
		out = append(out, row)
	}
	return out
}

// pivot spreads the distinct values of the pivot column into output
// columns, one row per remaining key combination. Pivot columns appear in
// first-seen order; combinations without a value for some pivot column
// get the no-value marker.
func pivot(columns []string, rows [][]string, pivotCol, valueCol int) ([]string, [][]string) {
	var keyIdxs []int
	for i := range columns {
		if i != pivotCol && i != valueCol {
			keyIdxs = append(keyIdxs, i)
		}
	}

	var pivotValues []string
	pivotSeen := make(map[string]int)

	type outRow struct {
		key    []string
		pivots map[string]string
	}
	var order []string
	outRows := make(map[string]*outRow)

	for _, row := range rows {
		key := make([]string, len(keyIdxs))
		for i, idx := range keyIdxs {
			key[i] = row[idx]
		}
		keyStr := groupKey(key, -1)

		or, ok := outRows[keyStr]
		if !ok {
			or = &outRow{key: key, pivots: make(map[string]string)}
			outRows[keyStr] = or
			order = append(order, keyStr)
		}

		pv := row[pivotCol]
		if _, ok := pivotSeen[pv]; !ok {
			pivotSeen[pv] = len(pivotValues)
			pivotValues = append(pivotValues, pv)
		}
		or.pivots[pv] = row[valueCol]
	}

	outColumns := make([]string, 0, len(keyIdxs)+len(pivotValues))
	for _, idx := range keyIdxs {
		outColumns = append(outColumns, columns[idx])
	}
	outColumns = append(outColumns, pivotValues...)

	result := make([][]string, 0, len(order))
	for _, keyStr := range order {
		or := outRows[keyStr]
		row := append([]string(nil), or.key...)
		for _, pv := range pivotValues {
			if v, ok := or.pivots[pv]; ok {
				row = append(row, v)
			} else {
				row = append(row, table.NoValue)
			}
		}
		result = append(result, row)
	}

	return outColumns, result
}

// groupKey joins cells into a collision-safe map key, skipping the cell
// at the excluded index.
func groupKey(row []string, exclude int) string {
	key := ""
	for i, cell := range row {
		if i == exclude {
			continue
		}
		key += strconv.Itoa(len(cell)) + ":" + cell
	}
	return key
}

func indexOf(columns []string, name string) int {
	if name == "" {
		return -1
	}
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func pivotIndex(specs []query.ColumnSpec) int {
	for i, s := range specs {
		if s.Role == query.RolePivot {
			return i
		}
	}
	return -1
}
