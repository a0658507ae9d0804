package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gcamkit/gcamreader/pkg/xmldb"
)

// Mapping holds the context rules describing which fields are inherited
// from ancestor elements and where to find them. The rules are schema
// configuration, not logic: nothing beyond what a mapping declares is
// ever inferred from the documents.
type Mapping struct {
	rules []xmldb.ContextRule
}

// DefaultMapping covers the context fields common to GCAM scenario
// output: scenario and region from named ancestor elements, year from the
// nearest node carrying a year attribute.
func DefaultMapping() *Mapping {
	return &Mapping{rules: []xmldb.ContextRule{
		{Name: "scenario", Element: "scenario", Attribute: "name"},
		{Name: "region", Element: "region", Attribute: "name"},
		{Name: "year", Element: "", Attribute: "year"},
	}}
}

// Rules returns a copy of the ordered context rules.
func (m *Mapping) Rules() []xmldb.ContextRule {
	return append([]xmldb.ContextRule(nil), m.rules...)
}

// Rule looks up a context rule by field name.
func (m *Mapping) Rule(name string) (xmldb.ContextRule, bool) {
	for _, r := range m.rules {
		if r.Name == name {
			return r, true
		}
	}
	return xmldb.ContextRule{}, false
}

// mappingSchema validates mapping documents before they are decoded.
const mappingSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["context"],
	"properties": {
		"context": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"element": {"type": "string"},
					"attribute": {"type": "string"}
				}
			}
		}
	}
}`

var (
	mappingSchemaOnce     sync.Once
	compiledMappingSchema *jsonschema.Schema
	mappingSchemaErr      error
)

func getMappingSchema() (*jsonschema.Schema, error) {
	mappingSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(mappingSchema))
		if err != nil {
			mappingSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("mapping.json", doc); err != nil {
			mappingSchemaErr = err
			return
		}
		compiledMappingSchema, mappingSchemaErr = compiler.Compile("mapping.json")
	})
	return compiledMappingSchema, mappingSchemaErr
}

// printer renders schema violations as English messages.
var printer = message.NewPrinter(language.English)

// LoadMapping reads a JSON mapping document, validates it against the
// embedded schema, and returns the mapping.
func LoadMapping(r io.Reader) (*Mapping, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading mapping: %w", err)
	}

	schema, err := getMappingSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling mapping schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing mapping: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid mapping: %s", strings.Join(schemaViolations(err), "; "))
	}

	var raw struct {
		Context []xmldb.ContextRule `json:"context"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding mapping: %w", err)
	}

	return &Mapping{rules: raw.Context}, nil
}

// LoadMappingFile loads a mapping from a file.
func LoadMappingFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mapping: %w", err)
	}
	defer f.Close()
	return LoadMapping(f)
}

// schemaViolations flattens a validation error into leaf messages with
// their instance paths.
func schemaViolations(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e.ErrorKind != nil && len(e.Causes) == 0 {
			msg := e.ErrorKind.LocalizedString(printer)
			if len(e.InstanceLocation) > 0 {
				msg = "/" + strings.Join(e.InstanceLocation, "/") + ": " + msg
			}
			msgs = append(msgs, msg)
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	if len(msgs) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
