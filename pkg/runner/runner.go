// Package runner orchestrates query batches: execute each definition
// against a store connection, shape the raw results, aggregate tables by
// title, and optionally write them out as delimited files.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gcamkit/gcamreader/pkg/query"
	"github.com/gcamkit/gcamreader/pkg/shape"
	"github.com/gcamkit/gcamreader/pkg/table"
	"github.com/gcamkit/gcamreader/pkg/xmldb"
)

// DefaultDelim is the delimiter used for output files.
const DefaultDelim = '|'

// Options control a run.
type Options struct {
	// BestEffort attempts every query and reports failures alongside the
	// successful tables instead of aborting on the first failure.
	BestEffort bool

	// Scenarios restricts execution to the named scenarios.
	Scenarios []string

	// Regions, when non-nil, overrides each definition's region filter.
	// A non-nil empty slice removes region filtering entirely.
	Regions []string

	// Mapping supplies the context rules; nil means the default mapping.
	Mapping *query.Mapping

	// OutputDir, when set, receives one delimited file per query.
	OutputDir string

	// Delim is the output delimiter; zero means DefaultDelim.
	Delim rune

	// Force overwrites existing output files instead of skipping them.
	Force bool

	// Workers bounds parallelism in RunParallel; zero means NumCPU.
	Workers int

	// QueryTimeout is the per-query time budget; zero means none beyond
	// the run context.
	QueryTimeout time.Duration
}

// Failure records one failed query in a best-effort run, or an isolated
// file-write failure.
type Failure struct {
	Title string
	Err   error
}

// Result aggregates a run's tables by query title.
type Result struct {
	Tables   map[string]*table.Table
	Failures []Failure
}

// Run executes the definitions in order over a single connection.
// Fail-fast by default: the first failure aborts the run, no tables are
// returned, and no later query is started. File-write failures are
// isolated: they are recorded but never abort the run or remove files
// already written.
func Run(ctx context.Context, conn xmldb.Conn, defs []*query.Definition, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	result := &Result{Tables: make(map[string]*table.Table, len(defs))}

	for _, def := range defs {
		t, err := runOne(ctx, conn, def, opts)
		if err != nil {
			if !opts.BestEffort {
				return nil, &RunError{Title: def.Title(), Err: err}
			}
			result.Failures = append(result.Failures, Failure{Title: def.Title(), Err: err})
			continue
		}
		result.Tables[def.Title()] = t

		if opts.OutputDir != "" {
			if err := writeTable(t, def.Title(), opts); err != nil {
				result.Failures = append(result.Failures, Failure{Title: def.Title(), Err: err})
			}
		}
	}

	return result, nil
}

// RunParallel distributes independent definitions across workers, each
// holding its own connection minted by dial (connections are not safely
// shareable across concurrent callers). The title-to-table association is
// deterministic regardless of completion order; output files are written
// after all queries finish, in definition order.
func RunParallel(ctx context.Context, dial func() (xmldb.Conn, error), defs []*query.Definition, opts Options) (*Result, error) {
	opts = withDefaults(opts)

	tables := make([]*table.Table, len(defs))
	errs := make([]error, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				if !opts.BestEffort {
					return err
				}
				errs[i] = err
				return nil
			}

			conn, err := dial()
			if err != nil {
				if !opts.BestEffort {
					return &RunError{Title: def.Title(), Err: err}
				}
				errs[i] = err
				return nil
			}
			defer conn.Close()

			t, err := runOne(gctx, conn, def, opts)
			if err != nil {
				if !opts.BestEffort {
					return &RunError{Title: def.Title(), Err: err}
				}
				errs[i] = err
				return nil
			}
			tables[i] = t
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Tables: make(map[string]*table.Table, len(defs))}
	for i, def := range defs {
		if errs[i] != nil {
			result.Failures = append(result.Failures, Failure{Title: def.Title(), Err: errs[i]})
			continue
		}
		result.Tables[def.Title()] = tables[i]

		if opts.OutputDir != "" {
			if err := writeTable(tables[i], def.Title(), opts); err != nil {
				result.Failures = append(result.Failures, Failure{Title: def.Title(), Err: err})
			}
		}
	}

	return result, nil
}

func runOne(ctx context.Context, conn xmldb.Conn, def *query.Definition, opts Options) (*table.Table, error) {
	if opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.QueryTimeout)
		defer cancel()
	}

	regions := def.Regions()
	if opts.Regions != nil {
		regions = opts.Regions
	}

	filter := xmldb.Filter{
		Scenarios: opts.Scenarios,
		Regions:   regions,
		Context:   opts.Mapping.Rules(),
	}

	raw, err := conn.Execute(ctx, def.Expression(), filter)
	if err != nil {
		return nil, err
	}
	return shape.Shape(raw, def, opts.Mapping)
}

func writeTable(t *table.Table, title string, opts Options) error {
	path := filepath.Join(opts.OutputDir, OutputFileName(title))

	if !opts.Force {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	if err := t.WriteFile(path, opts.Delim); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// OutputFileName derives the output file name for a query title.
func OutputFileName(title string) string {
	return strings.ToLower(strings.ReplaceAll(title, " ", "_")) + ".csv"
}

func withDefaults(opts Options) Options {
	if opts.Mapping == nil {
		opts.Mapping = query.DefaultMapping()
	}
	if opts.Delim == 0 {
		opts.Delim = DefaultDelim
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return opts
}
