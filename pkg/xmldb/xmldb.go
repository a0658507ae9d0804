// Package xmldb provides connections to GCAM scenario output databases:
// XML document stores queried with XPath path expressions. Two backends
// are implemented, a local directory of scenario documents and a remote
// BaseX REST server. Both return matched nodes through the same accessor
// interface, so result shaping never depends on a concrete node
// representation.
package xmldb

import (
	"context"

	"github.com/gcamkit/gcamreader/pkg/table"
)

// ContextRule describes how one context field is inherited from the
// document structure. Element names the ancestor element carrying the
// value (empty means the nearest ancestor-or-self node that has the
// attribute at all), Attribute the attribute read from it.
type ContextRule struct {
	Name      string `json:"name"`
	Element   string `json:"element"`
	Attribute string `json:"attribute"`
}

// Filter narrows a query execution. Empty slices mean no filtering.
// Context carries the rules a backend needs when it must materialize
// context fields on the server side; the local backend ignores it and
// resolves context from the DOM instead.
type Filter struct {
	Scenarios []string
	Regions   []string
	Context   []ContextRule
}

// Node is the accessor for one matched element. Implementations wrap the
// backend's native node representation.
type Node interface {
	// Field returns a directly attached value: an attribute of the
	// matched element, or failing that the text of a child element with
	// that name. The name "value" additionally falls back to the
	// element's own text.
	Field(name string) (string, bool)

	// Context resolves an inherited value according to a context rule.
	Context(rule ContextRule) (string, bool)

	// Text returns the element's text content.
	Text() string
}

// RawResult is the unshaped output of one query execution: matched nodes
// in document traversal order.
type RawResult struct {
	Expression string
	Nodes      []Node
}

// Conn is a single session against a store. A Conn serializes the queries
// issued through it and is not safe to share across concurrent runs; open
// one Conn per worker instead.
type Conn interface {
	// Execute runs a path expression and returns the matched nodes.
	// Blocks until the store returns, the context is cancelled, or its
	// deadline passes (ErrQueryTimeout).
	Execute(ctx context.Context, expression string, filter Filter) (*RawResult, error)

	// Scenarios lists the scenarios in the store as a table with columns
	// name, date, version and fqName.
	Scenarios(ctx context.Context) (*table.Table, error)

	// Close releases the session. Execute afterwards fails with
	// ErrConnClosed. Close is idempotent.
	Close() error
}

// scenarioColumns is the column set returned by Conn.Scenarios.
var scenarioColumns = []string{"name", "date", "version", "fqName"}

func scenarioTable(name string) *table.Table {
	return table.New(name, scenarioColumns)
}
