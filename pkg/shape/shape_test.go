package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcamkit/gcamreader/pkg/query"
	"github.com/gcamkit/gcamreader/pkg/table"
	"github.com/gcamkit/gcamreader/pkg/xmldb"
)

// stubNode is a matched node with canned field and context values.
type stubNode struct {
	fields map[string]string
	ctx    map[string]string
}

func (n stubNode) Field(name string) (string, bool) {
	v, ok := n.fields[name]
	return v, ok
}

func (n stubNode) Context(rule xmldb.ContextRule) (string, bool) {
	v, ok := n.ctx[rule.Name]
	return v, ok
}

func (n stubNode) Text() string { return n.fields["value"] }

func node(scenario, region, year, value string) xmldb.Node {
	return stubNode{
		fields: map[string]string{"value": value},
		ctx:    map[string]string{"scenario": scenario, "region": region, "year": year},
	}
}

func rawResult(nodes ...xmldb.Node) *xmldb.RawResult {
	return &xmldb.RawResult{Expression: "//output", Nodes: nodes}
}

func mustDefinition(t *testing.T, columns []query.ColumnSpec) *query.Definition {
	t.Helper()
	def, err := query.NewDefinition("Electricity Output", "//output", columns, nil)
	require.NoError(t, err)
	return def
}

func pivotColumns() []query.ColumnSpec {
	return []query.ColumnSpec{
		{Field: "scenario", Role: query.RoleContext},
		{Field: "region", Role: query.RoleContext},
		{Field: "year", Role: query.RolePivot},
		{Field: "value", Role: query.RoleDirect},
	}
}

func TestShapeDefaultColumns(t *testing.T) {
	def := mustDefinition(t, nil)
	raw := rawResult(
		node("Reference", "USA", "2010", "5"),
		node("Reference", "Canada", "2010", "3"),
	)

	got, err := Shape(raw, def, nil)
	require.NoError(t, err)

	assert.Equal(t, "Electricity Output", got.Name)
	assert.Equal(t, []string{"scenario", "region", "year", "value"}, got.Columns)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []string{"Reference", "USA", "2010", "5"}, got.Rows[0])
	assert.Equal(t, []string{"Reference", "Canada", "2010", "3"}, got.Rows[1])

	assert.Equal(t, table.TypeText, got.Types[got.ColumnIndex("region")])
	assert.Equal(t, table.TypeNumeric, got.Types[got.ColumnIndex("year")])
	assert.Equal(t, table.TypeNumeric, got.Types[got.ColumnIndex("value")])
}

func TestShapePivot(t *testing.T) {
	def := mustDefinition(t, pivotColumns())
	raw := rawResult(
		node("A", "R1", "2010", "5"),
		node("A", "R1", "2015", "7"),
		node("A", "R2", "2010", "3"),
	)

	got, err := Shape(raw, def, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"scenario", "region", "2010", "2015"}, got.Columns)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []string{"A", "R1", "5", "7"}, got.Rows[0])
	assert.Equal(t, []string{"A", "R2", "3", table.NoValue}, got.Rows[1])
}

func TestShapePivotColumnOrder(t *testing.T) {
	def := mustDefinition(t, pivotColumns())
	raw := rawResult(
		node("A", "R1", "2015", "7"),
		node("A", "R1", "2010", "5"),
	)

	got, err := Shape(raw, def, nil)
	require.NoError(t, err)

	// Pivot columns appear in first-seen order, not sorted.
	assert.Equal(t, []string{"scenario", "region", "2015", "2010"}, got.Columns)
}

func TestShapePivotWithoutValue(t *testing.T) {
	def := mustDefinition(t, []query.ColumnSpec{
		{Field: "region", Role: query.RoleContext},
		{Field: "year", Role: query.RolePivot},
	})

	_, err := Shape(rawResult(node("A", "R1", "2010", "5")), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pivot requires a value column")
}

func TestShapeAggregation(t *testing.T) {
	def := mustDefinition(t, nil)

	t.Run("duplicate keys sum", func(t *testing.T) {
		raw := rawResult(
			node("A", "USA", "2010", "2"),
			node("A", "USA", "2010", "3.5"),
			node("A", "Canada", "2010", "1"),
		)

		got, err := Shape(raw, def, nil)
		require.NoError(t, err)
		require.Len(t, got.Rows, 2)
		assert.Equal(t, []string{"A", "USA", "2010", "5.5"}, got.Rows[0])
		assert.Equal(t, []string{"A", "Canada", "2010", "1"}, got.Rows[1])
	})

	t.Run("single rows keep lexical form", func(t *testing.T) {
		raw := rawResult(node("A", "USA", "2010", "1.2300"))

		got, err := Shape(raw, def, nil)
		require.NoError(t, err)
		assert.Equal(t, "1.2300", got.Rows[0][3])
	})

	t.Run("non-numeric disables aggregation", func(t *testing.T) {
		raw := rawResult(
			node("A", "USA", "2010", "high"),
			node("A", "USA", "2010", "low"),
		)

		got, err := Shape(raw, def, nil)
		require.NoError(t, err)
		require.Len(t, got.Rows, 2)
		assert.Equal(t, "high", got.Rows[0][3])
		assert.Equal(t, "low", got.Rows[1][3])
	})
}

func TestShapeMissingContext(t *testing.T) {
	def := mustDefinition(t, nil)
	n := stubNode{
		fields: map[string]string{"value": "5"},
		ctx:    map[string]string{"scenario": "A", "region": "USA"},
	}

	got, err := Shape(rawResult(n), def, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "USA", table.NoValue, "5"}, got.Rows[0])
}

func TestShapeMissingDirectField(t *testing.T) {
	def := mustDefinition(t, nil)
	raw := rawResult(
		node("A", "USA", "2010", "5"),
		stubNode{fields: map[string]string{}, ctx: map[string]string{"scenario": "A", "region": "USA", "year": "2015"}},
	)

	_, err := Shape(raw, def, nil)
	var malErr *MalformedResultError
	require.ErrorAs(t, err, &malErr)
	assert.Equal(t, "Electricity Output", malErr.Query)
	assert.Equal(t, "value", malErr.Field)
	assert.Equal(t, 2, malErr.Position)
}

func TestShapeContextFallbackRule(t *testing.T) {
	// A context field the mapping does not name resolves through an
	// ancestor element of the same name.
	def := mustDefinition(t, []query.ColumnSpec{
		{Field: "supplysector", Role: query.RoleContext},
		{Field: "value", Role: query.RoleDirect},
	})
	n := stubNode{
		fields: map[string]string{"value": "5"},
		ctx:    map[string]string{"supplysector": "electricity"},
	}

	got, err := Shape(rawResult(n), def, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"electricity", "5"}, got.Rows[0])
}

func TestShapeDirectFieldColumn(t *testing.T) {
	def := mustDefinition(t, []query.ColumnSpec{
		{Field: "unit", Role: query.RoleDirect},
		{Field: "value", Role: query.RoleDirect},
	})
	n := stubNode{fields: map[string]string{"unit": "EJ", "value": "5"}}

	got, err := Shape(rawResult(n), def, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"EJ", "5"}, got.Rows[0])
}

func TestShapeEmptyResult(t *testing.T) {
	def := mustDefinition(t, nil)

	got, err := Shape(rawResult(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"scenario", "region", "year", "value"}, got.Columns)
	assert.Empty(t, got.Rows)
}

func TestShapeDeterministic(t *testing.T) {
	def := mustDefinition(t, pivotColumns())
	nodes := []xmldb.Node{
		node("A", "R1", "2010", "5"),
		node("B", "R2", "2015", "7"),
		node("A", "R2", "2010", "3"),
		node("B", "R1", "2015", "2"),
	}

	first, err := Shape(rawResult(nodes...), def, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Shape(rawResult(nodes...), def, nil)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}
