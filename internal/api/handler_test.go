package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chdocs/internal/catalog"
	"chdocs/internal/cluster"
	"chdocs/internal/dispatch"
	"chdocs/internal/domain"
	"chdocs/internal/monitor"
	"chdocs/internal/project"
	"chdocs/internal/service/propagation"
	"chdocs/internal/testutil"
	"chdocs/internal/verify"
)

var (
	n1 = domain.Node{Host: "ch-1", Port: 9000, Shard: 1, Replica: 1}
	n2 = domain.Node{Host: "ch-2", Port: 9000, Shard: 1, Replica: 2}
)

const manifest = `
project: test
database: analytics
models:
  - name: table_comment
    materialized: table
    sql: "select 'foo' as first_name"
    persist_docs: {relation: true, columns: true}
    description: "YYY table"
    columns:
      - {name: first_name, description: "XXX first description"}
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	*httptest.Server
	fc  *testutil.FakeCluster
	svc *propagation.Service
}

func setupTestServer(t *testing.T, clusterName string, drift DriftSource) *testServer {
	t.Helper()
	proj, err := project.Parse(strings.NewReader(manifest), "default")
	require.NoError(t, err)

	fc := testutil.NewFakeCluster("company_cluster", n1, n2)
	fc.Schema["analytics.table_comment"] = []string{"first_name"}

	svc := propagation.NewService(
		proj,
		cluster.NewStaticResolver(n1, map[string][]domain.Node{"company_cluster": {n1, n2}}),
		dispatch.New(fc, dispatch.Options{NodeTimeout: time.Second}, discardLogger()),
		verify.New(verify.NewFanoutReader(fc, time.Second, 2), discardLogger()),
		catalog.NewReporter(fc, discardLogger()),
		nil,
		propagation.Options{Cluster: clusterName, Mode: domain.ModeExplicitFanout, CreateDatabase: true},
		discardLogger(),
	)
	srv := httptest.NewServer(NewRouter(NewHandler(svc, drift, discardLogger()), []string{"https://docs.example.com"}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, fc: fc, svc: svc}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAPI_Healthz(t *testing.T) {
	srv := setupTestServer(t, "company_cluster", nil)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_Topology(t *testing.T) {
	srv := setupTestServer(t, "company_cluster", nil)
	var topo domain.Topology
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/topology", &topo))
	assert.Equal(t, "company_cluster", topo.Cluster)
	assert.Equal(t, []domain.Node{n1, n2}, topo.Nodes)

	srv = setupTestServer(t, "other_cluster", nil)
	var e errorBody
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/topology", &e))
	assert.Contains(t, e.Message, "other_cluster")
}

func TestAPI_Catalog(t *testing.T) {
	srv := setupTestServer(t, "company_cluster", nil)

	// Nothing built yet: the model is reported as an error, not a failure.
	var a catalog.Artifact
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/catalog", &a))
	assert.Empty(t, a.Nodes)
	assert.Contains(t, a.Errors, "model.test.table_comment")

	_, err := srv.svc.Build(context.Background(), nil, propagation.BuildOptions{Catalog: true})
	require.NoError(t, err)

	a = catalog.Artifact{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/catalog", &a))
	comment, ok := a.RelationComment("model.test.table_comment")
	require.True(t, ok)
	assert.Equal(t, "YYY table", comment)
	col, ok := a.ColumnComment("model.test.table_comment", "first_name")
	require.True(t, ok)
	assert.Equal(t, "XXX first description", col)
}

func TestAPI_Verdict(t *testing.T) {
	srv := setupTestServer(t, "company_cluster", nil)
	_, err := srv.svc.Build(context.Background(), nil, propagation.BuildOptions{})
	require.NoError(t, err)

	tests := []struct {
		name        string
		path        string
		drift       bool
		wantCode    int
		wantStatus  domain.VerdictStatus
		wantMessage string
	}{
		{name: "consistent", path: "/relations/analytics/table_comment/verdict", wantCode: http.StatusOK, wantStatus: domain.VerdictConsistent},
		{name: "drifted", path: "/relations/analytics/table_comment/verdict", drift: true, wantCode: http.StatusOK, wantStatus: domain.VerdictMismatched},
		{name: "absent_everywhere", path: "/relations/analytics/missing/verdict", wantCode: http.StatusOK, wantStatus: domain.VerdictIndeterminate},
		{name: "invalid_name", path: "/relations/analytics/bad-name/verdict", wantCode: http.StatusBadRequest, wantMessage: "invalid relation name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.drift {
				rel, ok := srv.fc.Relation(n2, "analytics.table_comment")
				require.True(t, ok)
				rel.Comment = "edited by hand"
				srv.fc.Put(n2, "analytics.table_comment", rel)
			}
			var body struct {
				Relation   string         `json:"relation"`
				Comment    domain.Verdict `json:"comment"`
				Consistent bool           `json:"consistent"`
				Message    string         `json:"message"`
			}
			require.Equal(t, tt.wantCode, getJSON(t, srv.URL+tt.path, &body))
			if tt.wantMessage != "" {
				assert.Contains(t, body.Message, tt.wantMessage)
				return
			}
			assert.Equal(t, tt.wantStatus, body.Comment.Status)
			assert.Equal(t, tt.wantStatus == domain.VerdictConsistent, body.Consistent)
			if tt.drift {
				assert.Equal(t, []domain.Node{n2}, body.Comment.DivergentNodes())
			}
		})
	}
}

type fakeDrift struct{ st *monitor.Status }

func (f fakeDrift) Last() *monitor.Status { return f.st }

func TestAPI_Drift(t *testing.T) {
	tests := []struct {
		name        string
		drift       DriftSource
		wantEnabled bool
		wantHealthy bool
	}{
		{name: "disabled", drift: nil},
		{name: "not_run_yet", drift: fakeDrift{}, wantEnabled: true, wantHealthy: true},
		{name: "drifted", drift: fakeDrift{st: &monitor.Status{Drifted: []string{"analytics.table_comment"}}}, wantEnabled: true},
		{name: "failed", drift: fakeDrift{st: &monitor.Status{Err: "resolve topology: boom"}}, wantEnabled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupTestServer(t, "company_cluster", tt.drift)
			var body driftBody
			require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/drift", &body))
			assert.Equal(t, tt.wantEnabled, body.Enabled)
			assert.Equal(t, tt.wantHealthy, body.Healthy)
		})
	}
}

func TestAPI_CORS(t *testing.T) {
	srv := setupTestServer(t, "company_cluster", nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://docs.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://docs.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHttpStatusFromDomainError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: domain.ErrNotFound("model %q not found", "x"), want: http.StatusNotFound},
		{name: "unknown cluster", err: &domain.UnknownClusterError{Cluster: "c"}, want: http.StatusNotFound},
		{name: "validation", err: domain.ErrValidation("bad"), want: http.StatusBadRequest},
		{name: "template", err: &domain.TemplateResolutionError{Placeholder: "{foo}"}, want: http.StatusBadRequest},
		{name: "connection", err: &domain.NodeConnectionError{Node: n1, Cause: errors.New("refused")}, want: http.StatusBadGateway},
		{name: "timeout", err: &domain.VerificationTimeout{Node: n1, Timeout: time.Second}, want: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err))
		})
	}
}
