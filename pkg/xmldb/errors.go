package xmldb

import (
	"errors"
	"fmt"
)

var (
	// ErrConnClosed is returned by operations on a released connection.
	ErrConnClosed = errors.New("connection is closed")

	// ErrQueryTimeout is returned when an execution exceeds the caller's
	// time budget.
	ErrQueryTimeout = errors.New("query timed out")
)

// ConnectionError reports a failure to open or validate a store.
type ConnectionError struct {
	Location string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("opening store %s: %v", e.Location, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryExecutionError reports a failed query execution: a path expression
// the store's dialect rejects, or a store-side failure.
type QueryExecutionError struct {
	Expression string
	Err        error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("executing %q: %v", e.Expression, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }
