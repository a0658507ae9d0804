package runner

import "fmt"

// RunError annotates a failure with the title of the query that caused
// it. The originating error is reachable with errors.As / errors.Is.
type RunError struct {
	Title string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Title, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
