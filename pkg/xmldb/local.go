package xmldb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gcamkit/gcamreader/pkg/table"
)

const defaultDocCacheSize = 32

var _ Conn = (*Local)(nil)

// regionRule is the ancestry rule used for node-level region filtering.
var regionRule = ContextRule{Name: "region", Element: "region", Attribute: "name"}

// localStore is the shared, read-only state behind local connections:
// the document catalog/index, the parsed-document cache, and the
// singleflight group that dedupes concurrent parses of the same document.
type localStore struct {
	dir   string
	idx   *docIndex
	cache *lru.Cache[string, *xmlquery.Node]
	group singleflight.Group
}

// Local is a session against a local store: a directory of scenario XML
// documents. Queries issued through one Local are serialized; use Session
// to mint additional connections over the same store for parallel runs.
type Local struct {
	store *localStore

	mu     sync.Mutex
	closed bool
}

// LocalOption configures a local store.
type LocalOption func(*localOptions)

type localOptions struct {
	cacheSize int
}

// WithDocCacheSize bounds the number of parsed documents kept in memory.
func WithDocCacheSize(n int) LocalOption {
	return func(o *localOptions) { o.cacheSize = n }
}

// Open opens a local store. The directory must exist and contain at least
// one XML document; every document is scanned (not fully parsed) to build
// the scenario/region index, so an unreadable store fails here rather than
// on first query.
func Open(dir string, opts ...LocalOption) (*Local, error) {
	o := localOptions{cacheSize: defaultDocCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return nil, &ConnectionError{Location: dir, Err: err}
	}
	if !fi.IsDir() {
		return nil, &ConnectionError{Location: dir, Err: errors.New("not a directory")}
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, &ConnectionError{Location: dir, Err: err}
	}
	if len(paths) == 0 {
		return nil, &ConnectionError{Location: dir, Err: errors.New("no scenario documents found")}
	}
	sort.Strings(paths)

	idx, err := buildIndex(paths)
	if err != nil {
		return nil, &ConnectionError{Location: dir, Err: err}
	}

	cache, err := lru.New[string, *xmlquery.Node](o.cacheSize)
	if err != nil {
		return nil, &ConnectionError{Location: dir, Err: err}
	}

	return &Local{store: &localStore{dir: dir, idx: idx, cache: cache}}, nil
}

// Session returns a new open connection over the same store. Parsed
// documents are shared between sessions; query serialization is not.
func (l *Local) Session() *Local {
	return &Local{store: l.store}
}

// Execute runs a path expression against every candidate document in
// stable document order.
func (l *Local) Execute(ctx context.Context, expression string, filter Filter) (*RawResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrConnClosed
	}

	compiled, err := xpath.Compile(expression)
	if err != nil {
		return nil, &QueryExecutionError{Expression: expression, Err: err}
	}

	type outcome struct {
		nodes []Node
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		nodes, err := l.store.evaluate(ctx, compiled, filter)
		ch <- outcome{nodes: nodes, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, wrapExecErr(expression, ctx.Err())
	case out := <-ch:
		if out.err != nil {
			return nil, wrapExecErr(expression, out.err)
		}
		return &RawResult{Expression: expression, Nodes: out.nodes}, nil
	}
}

// Scenarios lists the scenarios found at open time.
func (l *Local) Scenarios(ctx context.Context) (*table.Table, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := scenarioTable("scenarios")
	for _, d := range l.store.idx.docs {
		row := []string{d.scenario, d.date, d.version, d.scenario + " " + d.date}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	t.InferTypes()
	return t, nil
}

// Close releases the session. The shared store stays usable for other
// sessions minted from it.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (s *localStore) evaluate(ctx context.Context, expr *xpath.Expr, filter Filter) ([]Node, error) {
	var nodes []Node

	candidates := s.idx.candidates(filter)
	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := s.loadDocument(s.idx.docs[it.Next()].path)
		if err != nil {
			return nil, err
		}

		for _, n := range xmlquery.QuerySelectorAll(doc, expr) {
			node := WrapNode(n)
			if !matchesRegion(node, filter.Regions) {
				continue
			}
			nodes = append(nodes, node)
		}
	}

	return nodes, nil
}

// matchesRegion applies node-level region filtering: the document index
// only prunes whole documents, so nodes from other regions of a matching
// document still have to be dropped here.
func matchesRegion(n Node, regions []string) bool {
	if len(regions) == 0 {
		return true
	}
	name, ok := n.Context(regionRule)
	if !ok {
		return false
	}
	for _, r := range regions {
		if r == name {
			return true
		}
	}
	return false
}

func (s *localStore) loadDocument(path string) (*xmlquery.Node, error) {
	if doc, ok := s.cache.Get(path); ok {
		return doc, nil
	}

	v, err, _ := s.group.Do(path, func() (any, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		doc, err := xmlquery.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
		}
		s.cache.Add(path, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*xmlquery.Node), nil
}
