package query

import "fmt"

// ValidationError reports a malformed query definition.
type ValidationError struct {
	Title  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("query %q: field %q: %s", e.Title, e.Field, e.Reason)
	}
	return fmt.Sprintf("query %q: %s", e.Title, e.Reason)
}

// MalformedQueryError reports a batch block missing a required field.
// Block is the 1-based position of the offending block in the document.
type MalformedQueryError struct {
	Block int
	Field string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("query block %d: missing required field %q", e.Block, e.Field)
}

// DuplicateQueryError reports two batch blocks sharing a title.
type DuplicateQueryError struct {
	Title string
}

func (e *DuplicateQueryError) Error() string {
	return fmt.Sprintf("duplicate query title %q", e.Title)
}
