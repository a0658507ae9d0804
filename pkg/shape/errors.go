package shape

import "fmt"

// MalformedResultError reports a matched node missing a field the
// definition's column specs expect. Position is the 1-based position of
// the node in the raw result.
type MalformedResultError struct {
	Query    string
	Field    string
	Position int
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("query %q: matched node %d is missing field %q", e.Query, e.Position, e.Field)
}
