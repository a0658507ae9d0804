package query

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
)

// LoadBatch parses a query batch document into definitions, in document
// order. Each aQuery block needs a title and a query element; columns and
// region filters are optional. Elements and attributes this loader does
// not recognize are ignored so that batch documents written for newer
// versions keep loading.
func LoadBatch(r io.Reader) ([]*Definition, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing query batch: %w", err)
	}

	blocks := xmlquery.Find(doc, "//aQuery")
	defs := make([]*Definition, 0, len(blocks))
	titles := make(map[string]bool, len(blocks))

	for i, block := range blocks {
		pos := i + 1

		title := blockText(block, "title")
		if title == "" {
			return nil, &MalformedQueryError{Block: pos, Field: "title"}
		}
		if titles[title] {
			return nil, &DuplicateQueryError{Title: title}
		}
		titles[title] = true

		expression := blockText(block, "query")
		if expression == "" {
			return nil, &MalformedQueryError{Block: pos, Field: "query"}
		}

		columns, err := blockColumns(block, pos)
		if err != nil {
			return nil, err
		}

		var regions []string
		for _, rn := range xmlquery.Find(block, "region") {
			if name := rn.SelectAttr("name"); name != "" {
				regions = append(regions, name)
			}
		}

		def, err := NewDefinition(title, expression, columns, regions)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// LoadBatchFile loads a query batch from a file.
func LoadBatchFile(path string) ([]*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening query batch: %w", err)
	}
	defer f.Close()
	return LoadBatch(f)
}

func blockColumns(block *xmlquery.Node, pos int) ([]ColumnSpec, error) {
	nodes := xmlquery.Find(block, "columns/column")
	if len(nodes) == 0 {
		return nil, nil
	}

	columns := make([]ColumnSpec, 0, len(nodes))
	for _, n := range nodes {
		field := n.SelectAttr("field")
		if field == "" {
			return nil, &MalformedQueryError{Block: pos, Field: "column.field"}
		}
		columns = append(columns, ColumnSpec{
			Field:  field,
			Column: n.SelectAttr("column"),
			Role:   Role(n.SelectAttr("role")),
		})
	}
	return columns, nil
}

func blockText(block *xmlquery.Node, name string) string {
	n := xmlquery.FindOne(block, name)
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}
