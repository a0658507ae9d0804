package xmldb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"

	"github.com/gcamkit/gcamreader/pkg/table"
)

var _ Conn = (*Remote)(nil)

// scenarioListQuery is the XQuery used to list scenarios; it matches the
// query the Java model interface tooling issues against BaseX.
const scenarioListQuery = "let $scns := collection()/scenario " +
	"return document{ element csv { for $scn in $scns return element record { " +
	"element name { text { $scn/@name } }, " +
	"element date { text { $scn/@date } }, " +
	"element version { text { $scn/model-version/text() } } } } }"

// RemoteConfig describes a BaseX REST server hosting the database.
type RemoteConfig struct {
	Address  string // default "localhost"
	Port     int    // default 8984
	Database string
	Username string
	Password string

	// SkipValidation disables the open-time scenario-listing check.
	SkipValidation bool

	// HTTPClient overrides the default client, e.g. to set a transport
	// timeout. Request lifetimes always follow the caller's context.
	HTTPClient *http.Client
}

// Remote is a session against a BaseX REST server. Context fields cannot
// be resolved client-side from a REST response, so Execute generates an
// XQuery that materializes them as attributes on each returned row.
type Remote struct {
	url    string
	cfg    RemoteConfig
	client *http.Client

	mu     sync.Mutex
	closed bool
}

// OpenRemote opens a connection to a remote store. Unless disabled, the
// connection is validated by listing the database's scenarios.
func OpenRemote(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8984
	}
	if cfg.Database == "" {
		return nil, &ConnectionError{Location: cfg.Address, Err: errors.New("database name is required")}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	r := &Remote{
		url:    fmt.Sprintf("http://%s:%d/rest/%s", cfg.Address, cfg.Port, cfg.Database),
		cfg:    cfg,
		client: client,
	}

	if !cfg.SkipValidation {
		if _, err := r.Scenarios(ctx); err != nil {
			return nil, &ConnectionError{Location: r.url, Err: err}
		}
	}

	return r, nil
}

// Execute runs a path expression remotely.
func (r *Remote) Execute(ctx context.Context, expression string, filter Filter) (*RawResult, error) {
	body, err := r.post(ctx, buildRowQuery(expression, filter))
	if err != nil {
		return nil, wrapExecErr(expression, err)
	}

	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, &QueryExecutionError{Expression: expression, Err: fmt.Errorf("parsing response: %w", err)}
	}

	var nodes []Node
	for _, row := range xmlquery.Find(doc, "//row") {
		nodes = append(nodes, &remoteNode{row: row})
	}

	return &RawResult{Expression: expression, Nodes: nodes}, nil
}

// Scenarios lists the scenarios in the remote database.
func (r *Remote) Scenarios(ctx context.Context) (*table.Table, error) {
	body, err := r.post(ctx, scenarioListQuery)
	if err != nil {
		return nil, wrapExecErr(scenarioListQuery, err)
	}

	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing scenario list: %w", err)
	}

	t := scenarioTable("scenarios")
	for _, rec := range xmlquery.Find(doc, "//record") {
		name := childText(rec, "name")
		date := childText(rec, "date")
		version := childText(rec, "version")
		if err := t.AppendRow([]string{name, date, version, name + " " + date}); err != nil {
			return nil, err
		}
	}
	t.InferTypes()
	return t, nil
}

// Close releases the connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.client.CloseIdleConnections()
	}
	return nil
}

func (r *Remote) post(ctx context.Context, xquery string) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrConnClosed
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(restEnvelope(xquery)))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(r.cfg.Username, r.cfg.Password)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return string(body), nil
}

// restEnvelope wraps an XQuery in a BaseX rest:query document. Nested
// "]]>" sequences are split across CDATA sections.
func restEnvelope(xquery string) string {
	escaped := strings.ReplaceAll(xquery, "]]>", "]]]]><![CDATA[>")
	return strings.Join([]string{
		`<rest:query xmlns:rest="http://basex.org/rest">`,
		`<rest:text><![CDATA[`,
		escaped,
		`]]></rest:text>`,
		`<rest:parameter name="method" value="xml"/>`,
		`</rest:query>`,
	}, " ")
}

// buildRowQuery generates the XQuery that selects the path expression,
// applies scenario/region filters, and stamps each match with its context
// values so the client can shape rows without the ancestor chain.
func buildRowQuery(expression string, filter Filter) string {
	var b strings.Builder

	fmt.Fprintf(&b, "let $scens := %s ", xqueryList(filter.Scenarios))
	fmt.Fprintf(&b, "let $rgns := %s ", xqueryList(filter.Regions))
	b.WriteString("return <result>{ for $n in collection()")
	b.WriteString(expression)
	b.WriteString(" where (empty($scens) or $n/ancestor-or-self::scenario/@name = $scens)")
	b.WriteString(" and (empty($rgns) or $n/ancestor-or-self::region/@name = $rgns)")
	b.WriteString(" return <row")
	for _, rule := range filter.Context {
		fmt.Fprintf(&b, ` %s="{%s}"`, rule.Name, contextPath(rule))
	}
	b.WriteString(">{$n}</row> }</result>")

	return b.String()
}

// contextPath returns the XQuery path resolving one context rule relative
// to the matched node. ancestor-or-self results come back in document
// order, so [last()] selects the nearest carrier.
func contextPath(rule ContextRule) string {
	attr := rule.Attribute
	if attr == "" {
		attr = "name"
	}
	if rule.Element == "" {
		return fmt.Sprintf("($n/ancestor-or-self::*[@%s]/@%s)[last()]", attr, attr)
	}
	return fmt.Sprintf("($n/ancestor-or-self::%s/@%s)[last()]", rule.Element, attr)
}

// xqueryList renders a name list as an XQuery sequence, ('a','b') or ().
func xqueryList(items []string) string {
	if len(items) == 0 {
		return "()"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return "(" + strings.Join(quoted, ",") + ")"
}

func wrapExecErr(expression string, err error) error {
	switch {
	case errors.Is(err, ErrConnClosed):
		return ErrConnClosed
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", expression, ErrQueryTimeout)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &QueryExecutionError{Expression: expression, Err: err}
	}
}

// remoteNode wraps one materialized result row. Direct fields come from
// the embedded matched element; context fields from the row attributes the
// generated XQuery stamped on.
type remoteNode struct {
	row *xmlquery.Node
}

func (r *remoteNode) Field(name string) (string, bool) {
	if inner := r.inner(); inner != nil {
		return (&domNode{n: inner}).Field(name)
	}
	return attrValue(r.row, name)
}

func (r *remoteNode) Context(rule ContextRule) (string, bool) {
	if v, ok := attrValue(r.row, rule.Name); ok && v != "" {
		return v, true
	}
	return "", false
}

func (r *remoteNode) Text() string {
	if inner := r.inner(); inner != nil {
		return strings.TrimSpace(inner.InnerText())
	}
	return strings.TrimSpace(r.row.InnerText())
}

func (r *remoteNode) inner() *xmlquery.Node {
	for c := r.row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

func childText(n *xmlquery.Node, name string) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return strings.TrimSpace(c.InnerText())
		}
	}
	return ""
}
