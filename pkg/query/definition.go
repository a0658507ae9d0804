// Package query provides query definitions, the batch loader that reads a
// declarative query file, and the mapping configuration that names which
// fields are inherited from ancestor elements.
package query

// Role classifies how a column is filled during shaping.
type Role string

const (
	// RoleDirect columns read a field off the matched node itself.
	RoleDirect Role = "direct"
	// RoleContext columns are inherited from ancestor elements via the
	// mapping's context rules.
	RoleContext Role = "context"
	// RolePivot columns spread their distinct values into separate
	// output columns instead of repeated rows.
	RolePivot Role = "pivot"
)

func validRole(r Role) bool {
	return r == RoleDirect || r == RoleContext || r == RolePivot
}

// ColumnSpec maps one source field to one output column.
type ColumnSpec struct {
	Field  string
	Column string
	Role   Role
}

// Definition is an immutable description of one extraction: a path
// expression plus the column specs describing how matched nodes become
// rows. Construct with NewDefinition.
type Definition struct {
	title      string
	expression string
	columns    []ColumnSpec
	regions    []string
}

// DefaultColumns is the column set used when a batch block carries no
// overrides: the three context fields common to GCAM output plus the
// node's own value.
func DefaultColumns() []ColumnSpec {
	return []ColumnSpec{
		{Field: "scenario", Column: "scenario", Role: RoleContext},
		{Field: "region", Column: "region", Role: RoleContext},
		{Field: "year", Column: "year", Role: RoleContext},
		{Field: "value", Column: "value", Role: RoleDirect},
	}
}

// NewDefinition validates and constructs a definition. Columns may be nil,
// in which case DefaultColumns applies. Regions, when non-empty, restrict
// execution to the named regions unless the caller overrides them at run
// time.
func NewDefinition(title, expression string, columns []ColumnSpec, regions []string) (*Definition, error) {
	if expression == "" {
		return nil, &ValidationError{Title: title, Field: "query", Reason: "path expression is empty"}
	}

	if columns == nil {
		columns = DefaultColumns()
	} else {
		columns = normalizeColumns(columns)
	}

	seen := make(map[string]bool, len(columns))
	pivots := 0
	for _, c := range columns {
		if !validRole(c.Role) {
			return nil, &ValidationError{Title: title, Field: c.Column, Reason: "unknown role " + string(c.Role)}
		}
		if seen[c.Column] {
			return nil, &ValidationError{Title: title, Field: c.Column, Reason: "duplicate output column"}
		}
		seen[c.Column] = true
		if c.Role == RolePivot {
			pivots++
		}
	}
	if pivots > 1 {
		return nil, &ValidationError{Title: title, Reason: "at most one pivot column is supported"}
	}

	return &Definition{
		title:      title,
		expression: expression,
		columns:    columns,
		regions:    append([]string(nil), regions...),
	}, nil
}

func normalizeColumns(columns []ColumnSpec) []ColumnSpec {
	out := make([]ColumnSpec, len(columns))
	for i, c := range columns {
		if c.Column == "" {
			c.Column = c.Field
		}
		if c.Role == "" {
			c.Role = RoleDirect
		}
		out[i] = c
	}
	return out
}

// Title returns the query title, unique within a batch.
func (d *Definition) Title() string { return d.title }

// Expression returns the path expression.
func (d *Definition) Expression() string { return d.expression }

// Columns returns a copy of the ordered column specs.
func (d *Definition) Columns() []ColumnSpec {
	return append([]ColumnSpec(nil), d.columns...)
}

// Regions returns a copy of the definition's region filter list.
func (d *Definition) Regions() []string {
	return append([]string(nil), d.regions...)
}

// ValueColumn returns the output column fed by the "value" field, or ""
// when the definition has none. The shaper aggregates duplicate keys over
// this column.
func (d *Definition) ValueColumn() string {
	for _, c := range d.columns {
		if c.Field == "value" && c.Role == RoleDirect {
			return c.Column
		}
	}
	return ""
}
