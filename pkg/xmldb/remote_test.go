package xmldb

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioListResponse = `<csv>
	<record><name>Policy</name><date>2020-02-01</date><version>ver_5.3</version></record>
	<record><name>Reference</name><date>2020-01-01</date><version>ver_5.3</version></record>
</csv>`

const rowResponse = `<result>
	<row scenario="Policy" region="USA" year="2010"><output unit="EJ" year="2010">4</output></row>
	<row scenario="Policy" region="USA" year="2015"><output unit="EJ" year="2015">6</output></row>
</result>`

// fakeBaseX records request bodies and answers scenario-list queries with
// a canned catalog and everything else with canned rows.
type fakeBaseX struct {
	mu     sync.Mutex
	bodies []string
	auths  []string
	status int
}

func (f *fakeBaseX) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, _, _ := r.BasicAuth()

		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.auths = append(f.auths, user)
		status := f.status
		f.mu.Unlock()

		if status != 0 {
			http.Error(w, "database not found", status)
			return
		}
		if strings.Contains(string(body), "let $scns") {
			io.WriteString(w, scenarioListResponse)
			return
		}
		io.WriteString(w, rowResponse)
	})
}

func (f *fakeBaseX) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

func newRemote(t *testing.T, f *fakeBaseX) *Remote {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	conn, err := OpenRemote(context.Background(), RemoteConfig{
		Address:  host,
		Port:     port,
		Database: "database_basexdb",
		Username: "admin",
		Password: "admin",
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpenRemote(t *testing.T) {
	t.Run("validates by listing scenarios", func(t *testing.T) {
		f := &fakeBaseX{}
		newRemote(t, f)

		require.Len(t, f.bodies, 1)
		assert.Contains(t, f.bodies[0], "let $scns")
		assert.Equal(t, "admin", f.auths[0])
	})

	t.Run("missing database name", func(t *testing.T) {
		_, err := OpenRemote(context.Background(), RemoteConfig{})
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
	})

	t.Run("server failure", func(t *testing.T) {
		f := &fakeBaseX{status: http.StatusNotFound}
		srv := httptest.NewServer(f.handler())
		defer srv.Close()

		host, portStr, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
		port, _ := strconv.Atoi(portStr)

		_, err := OpenRemote(context.Background(), RemoteConfig{
			Address: host, Port: port, Database: "db",
		})
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestRemoteExecute(t *testing.T) {
	f := &fakeBaseX{}
	conn := newRemote(t, f)

	filter := Filter{
		Scenarios: []string{"Policy"},
		Regions:   []string{"USA"},
		Context: []ContextRule{
			{Name: "scenario", Element: "scenario", Attribute: "name"},
			{Name: "region", Element: "region", Attribute: "name"},
			{Name: "year", Attribute: "year"},
		},
	}

	raw, err := conn.Execute(context.Background(), "//supplysector/output", filter)
	require.NoError(t, err)
	require.Len(t, raw.Nodes, 2)

	t.Run("rows decode", func(t *testing.T) {
		n := raw.Nodes[0]
		v, ok := n.Field("value")
		require.True(t, ok)
		assert.Equal(t, "4", v)

		unit, ok := n.Field("unit")
		require.True(t, ok)
		assert.Equal(t, "EJ", unit)

		scen, ok := n.Context(ContextRule{Name: "scenario", Element: "scenario", Attribute: "name"})
		require.True(t, ok)
		assert.Equal(t, "Policy", scen)

		year, ok := raw.Nodes[1].Context(ContextRule{Name: "year", Attribute: "year"})
		require.True(t, ok)
		assert.Equal(t, "2015", year)
	})

	t.Run("generated xquery", func(t *testing.T) {
		body := f.lastBody()
		assert.Contains(t, body, `<rest:query xmlns:rest="http://basex.org/rest">`)
		assert.Contains(t, body, "let $scens := ('Policy')")
		assert.Contains(t, body, "let $rgns := ('USA')")
		assert.Contains(t, body, "collection()//supplysector/output")
		assert.Contains(t, body, `year="{($n/ancestor-or-self::*[@year]/@year)[last()]}"`)
	})
}

func TestRemoteExecuteErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		f := &fakeBaseX{}
		conn := newRemote(t, f)

		f.mu.Lock()
		f.status = http.StatusBadRequest
		f.mu.Unlock()

		_, err := conn.Execute(context.Background(), "//output", Filter{})
		var execErr *QueryExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "//output", execErr.Expression)
	})

	t.Run("closed connection", func(t *testing.T) {
		conn := newRemote(t, &fakeBaseX{})
		require.NoError(t, conn.Close())

		_, err := conn.Execute(context.Background(), "//output", Filter{})
		require.ErrorIs(t, err, ErrConnClosed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		conn := newRemote(t, &fakeBaseX{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := conn.Execute(ctx, "//output", Filter{})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRemoteScenarios(t *testing.T) {
	conn := newRemote(t, &fakeBaseX{})

	got, err := conn.Scenarios(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "date", "version", "fqName"}, got.Columns)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []string{"Policy", "2020-02-01", "ver_5.3", "Policy 2020-02-01"}, got.Rows[0])
	assert.Equal(t, []string{"Reference", "2020-01-01", "ver_5.3", "Reference 2020-01-01"}, got.Rows[1])
}

func TestRestEnvelope(t *testing.T) {
	t.Run("wraps in cdata", func(t *testing.T) {
		got := restEnvelope("//output")
		assert.Contains(t, got, "<![CDATA[ //output ]]>")
		assert.Contains(t, got, `<rest:parameter name="method" value="xml"/>`)
	})

	t.Run("splits nested cdata terminators", func(t *testing.T) {
		got := restEnvelope(`//text[. = ']]>']`)
		assert.Contains(t, got, "]]]]><![CDATA[>")
	})
}

func TestBuildRowQuery(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		got := buildRowQuery("//output", Filter{})
		assert.Contains(t, got, "let $scens := ()")
		assert.Contains(t, got, "let $rgns := ()")
		assert.Contains(t, got, "empty($scens) or")
	})

	t.Run("quotes are doubled", func(t *testing.T) {
		got := buildRowQuery("//output", Filter{Scenarios: []string{"o'brien"}})
		assert.Contains(t, got, "('o''brien')")
	})

	t.Run("multiple names", func(t *testing.T) {
		got := buildRowQuery("//output", Filter{Regions: []string{"USA", "Canada"}})
		assert.Contains(t, got, "('USA','Canada')")
	})

	t.Run("named element context path", func(t *testing.T) {
		got := buildRowQuery("//output", Filter{Context: []ContextRule{
			{Name: "region", Element: "region", Attribute: "name"},
		}})
		assert.Contains(t, got, `region="{($n/ancestor-or-self::region/@name)[last()]}"`)
	})
}
