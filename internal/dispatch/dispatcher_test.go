package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chdocs/internal/ddl"
	"chdocs/internal/dispatch"
	"chdocs/internal/domain"
	"chdocs/internal/engine"
	"chdocs/internal/testutil"
)

var (
	n1 = domain.Node{Host: "ch-1", Port: 9000, Shard: 1, Replica: 1}
	n2 = domain.Node{Host: "ch-2", Port: 9000, Shard: 1, Replica: 2}
	n3 = domain.Node{Host: "ch-3", Port: 9000, Shard: 1, Replica: 3}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() dispatch.Options {
	return dispatch.Options{
		NodeTimeout: time.Second,
		Concurrency: 2,
		Retry:       dispatch.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func relation() *domain.Relation {
	return &domain.Relation{
		Database:        "analytics",
		Identifier:      "table_comment",
		Materialization: domain.MaterializationReplicatedTable,
		EngineClause:    "ReplicatedMergeTree('/clickhouse/tables/{uuid}/one-shard', '{replica}')",
		SQL:             "select 'foo' as first_name, 'bar' as second_name",
		Comment:         "YYY table",
		Columns: []domain.Column{
			{Name: "first_name", Comment: "XXX first description"},
			{Name: "second_name", Comment: "XXX second description"},
		},
		PersistDocs: domain.PersistDocs{Relation: true, Columns: true},
	}
}

func setup(t *testing.T) (*testutil.FakeCluster, *dispatch.Dispatcher) {
	t.Helper()
	fc := testutil.NewFakeCluster("company_cluster", n1, n2, n3)
	fc.Schema["analytics.table_comment"] = []string{"first_name", "second_name"}
	return fc, dispatch.New(fc, testOptions(), discardLogger())
}

func synth(t *testing.T, topo domain.Topology, mode domain.PropagationMode) *ddl.StatementSet {
	t.Helper()
	set, err := ddl.Synthesize(relation(), ddl.OptionsFor(ddl.DialectClickHouse, topo, mode))
	require.NoError(t, err)
	return set
}

func statementOf(set *ddl.StatementSet, kind ddl.StatementKind) string {
	for _, st := range set.Statements {
		if st.Kind == kind {
			return st.SQL
		}
	}
	return ""
}

func TestResolveMode(t *testing.T) {
	clustered := domain.Topology{Cluster: "c", Nodes: []domain.Node{n1, n2}}
	single := domain.SingleNode(n1)

	tests := []struct {
		name      string
		requested domain.PropagationMode
		topo      domain.Topology
		dialect   ddl.Dialect
		want      domain.PropagationMode
		wantErr   string
	}{
		{name: "auto_clustered", requested: domain.ModeAuto, topo: clustered, dialect: ddl.DialectClickHouse, want: domain.ModeClusterNative},
		{name: "auto_single", requested: domain.ModeAuto, topo: single, dialect: ddl.DialectClickHouse, want: domain.ModeExplicitFanout},
		{name: "auto_duckdb", requested: domain.ModeAuto, topo: clustered, dialect: ddl.DialectDuckDB, want: domain.ModeExplicitFanout},
		{name: "explicit_fanout", requested: domain.ModeExplicitFanout, topo: clustered, dialect: ddl.DialectClickHouse, want: domain.ModeExplicitFanout},
		{name: "native_single", requested: domain.ModeClusterNative, topo: single, dialect: ddl.DialectClickHouse, wantErr: "requires a named cluster"},
		{name: "native_duckdb", requested: domain.ModeClusterNative, topo: clustered, dialect: ddl.DialectDuckDB, wantErr: "does not support"},
		{name: "unknown", requested: "gossip", topo: clustered, dialect: ddl.DialectClickHouse, wantErr: "unknown propagation mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dispatch.ResolveMode(tt.requested, tt.topo, tt.dialect)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_FanoutAllNodes(t *testing.T) {
	fc, d := setup(t)
	topo := fc.Topology()
	set := synth(t, topo, domain.ModeExplicitFanout)

	res, err := d.Apply(context.Background(), topo, set, domain.ModeExplicitFanout)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, domain.ModeExplicitFanout, res.Mode)
	require.Len(t, res.Nodes, 3)
	assert.True(t, res.AllSucceeded())

	for i, n := range []domain.Node{n1, n2, n3} {
		assert.Equal(t, n, res.Nodes[i].Node)
		assert.Equal(t, len(set.Statements), res.Nodes[i].Statements)
		assert.Equal(t, "YYY table", res.Nodes[i].AppliedComment)

		rel, ok := fc.Relation(n, "analytics.table_comment")
		require.True(t, ok, n.String())
		assert.Equal(t, "YYY table", rel.Comment)
		assert.Equal(t, "XXX first description", rel.Comments["first_name"])
		assert.Equal(t, "XXX second description", rel.Comments["second_name"])
	}

	// Every node received the same engine clause, with one shared uuid.
	create := statementOf(set, ddl.StmtCreate)
	for _, n := range []domain.Node{n1, n2, n3} {
		assert.Contains(t, fc.Executed(n), create)
	}
	assert.NotContains(t, create, "{uuid}")
}

func TestApply_FanoutPartialFailure(t *testing.T) {
	fc, d := setup(t)
	fc.Down[n2.Address()] = true
	topo := fc.Topology()
	set := synth(t, topo, domain.ModeExplicitFanout)

	res, err := d.Apply(context.Background(), topo, set, domain.ModeExplicitFanout)
	require.NoError(t, err, "one node succeeding is not a call-level failure")
	require.Len(t, res.Nodes, 3)
	assert.False(t, res.AllSucceeded())

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, n2, failed[0].Node)
	var ce *domain.NodeConnectionError
	require.ErrorAs(t, failed[0].Err, &ce)
	assert.Contains(t, res.Summary(), "FAILED on 1/3 nodes")
	assert.Contains(t, res.Summary(), "ch-2:9000")

	_, ok := fc.Relation(n1, "analytics.table_comment")
	assert.True(t, ok)
	_, ok = fc.Relation(n3, "analytics.table_comment")
	assert.True(t, ok)
}

func TestApply_RetriesIdempotentOnly(t *testing.T) {
	tests := []struct {
		name         string
		kind         ddl.StatementKind
		err          error
		wantAttempts int
		wantOK       bool
	}{
		{name: "comment_connection_retried", kind: ddl.StmtCommentRelation, err: errors.New("connection reset"), wantAttempts: 2, wantOK: true},
		{name: "create_connection_not_retried", kind: ddl.StmtCreate, err: errors.New("connection reset"), wantAttempts: 1},
		{name: "comment_execution_not_retried", kind: ddl.StmtCommentRelation, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, d := setup(t)
			topo := fc.Topology()
			set := synth(t, topo, domain.ModeExplicitFanout)
			target := statementOf(set, tt.kind)
			require.NotEmpty(t, target)

			fc.ExecFn = func(node domain.Node, stmt string, attempt int) error {
				if node != n1 || stmt != target || attempt > 1 {
					return nil
				}
				if tt.err != nil {
					return &domain.NodeConnectionError{Node: node, Cause: tt.err}
				}
				return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: errors.New("UNKNOWN_TABLE")}
			}

			res, err := d.Apply(context.Background(), topo, set, domain.ModeExplicitFanout)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAttempts, fc.Attempts(n1, target))
			assert.Equal(t, tt.wantOK, res.Nodes[0].Succeeded())
			assert.True(t, res.Nodes[1].Succeeded())
			assert.True(t, res.Nodes[2].Succeeded())
			if !tt.wantOK {
				// Statements after the failure are not attempted on that node.
				assert.Less(t, res.Nodes[0].Statements, len(set.Statements))
			}
		})
	}
}

func TestApply_AllNodesFail(t *testing.T) {
	fc, d := setup(t)
	for _, n := range fc.Nodes {
		fc.Down[n.Address()] = true
	}
	topo := fc.Topology()
	set := synth(t, topo, domain.ModeExplicitFanout)

	res, err := d.Apply(context.Background(), topo, set, domain.ModeExplicitFanout)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Failed(), 3)
	for _, n := range []string{"ch-1", "ch-2", "ch-3"} {
		assert.Contains(t, err.Error(), n)
	}
}

func TestApply_ClusterNative(t *testing.T) {
	fc, d := setup(t)
	topo := fc.Topology()
	set := synth(t, topo, domain.ModeClusterNative)

	res, err := d.Apply(context.Background(), topo, set, domain.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeClusterNative, res.Mode)
	assert.True(t, res.AllSucceeded())
	for _, r := range res.Nodes {
		assert.Equal(t, len(set.Statements), r.Statements)
		assert.Equal(t, "YYY table", r.AppliedComment)
	}
	rel, ok := fc.Relation(n3, "analytics.table_comment")
	require.True(t, ok)
	assert.Equal(t, "YYY table", rel.Comment)
	assert.Contains(t, statementOf(set, ddl.StmtCreate), `ON CLUSTER "company_cluster"`)
	assert.Contains(t, statementOf(set, ddl.StmtCreate), "{uuid}")
}

func TestApply_ClusterNativeAttribution(t *testing.T) {
	tests := []struct {
		name     string
		statuses []engine.HostStatus
		err      error
		wantFail map[string]string
	}{
		{
			name: "host_error",
			statuses: []engine.HostStatus{
				{Host: "ch-1", Port: 9000},
				{Host: "ch-2", Port: 9000, Status: 60, Error: "UNKNOWN_TABLE"},
				{Host: "ch-3.internal", Port: 9000},
			},
			wantFail: map[string]string{"ch-2": "code 60: UNKNOWN_TABLE"},
		},
		{
			name:     "unreported_host",
			statuses: []engine.HostStatus{{Host: "ch-1", Port: 9000}, {Host: "ch-2", Port: 9000}},
			wantFail: map[string]string{"ch-3": "did not report"},
		},
		{
			name:     "statement_error",
			err:      &domain.NodeExecutionError{Node: n1, Statement: "x", Cause: errors.New("syntax error")},
			wantFail: map[string]string{"ch-1": "syntax error", "ch-2": "syntax error", "ch-3": "syntax error"},
		},
		{
			name:     "partial_rows_then_error",
			statuses: []engine.HostStatus{{Host: "ch-1", Port: 9000}},
			err:      &domain.NodeExecutionError{Node: n1, Statement: "x", Cause: errors.New("timeout waiting for hosts")},
			wantFail: map[string]string{"ch-2": "timeout waiting", "ch-3": "timeout waiting"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, d := setup(t)
			fc.DistributedFn = func(string) ([]engine.HostStatus, error) {
				return tt.statuses, tt.err
			}
			topo := fc.Topology()
			set := synth(t, topo, domain.ModeClusterNative)

			res, err := d.Apply(context.Background(), topo, set, domain.ModeClusterNative)
			if len(tt.wantFail) == len(topo.Nodes) {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, res.Nodes, 3)
			for _, r := range res.Nodes {
				want, shouldFail := tt.wantFail[r.Node.Host]
				if !shouldFail {
					assert.True(t, r.Succeeded(), r.Node.String())
					continue
				}
				require.Error(t, r.Err, r.Node.String())
				assert.True(t, strings.Contains(r.Err.Error(), want), r.Err.Error())
			}
		})
	}
}

func TestApply_ModeMismatch(t *testing.T) {
	fc, d := setup(t)
	topo := fc.Topology()

	native := synth(t, topo, domain.ModeClusterNative)
	_, err := d.Apply(context.Background(), topo, native, domain.ModeExplicitFanout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be fanned out")

	fanout := synth(t, topo, domain.ModeExplicitFanout)
	_, err = d.Apply(context.Background(), topo, fanout, domain.ModeClusterNative)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target cluster")

	_, err = d.Apply(context.Background(), domain.Topology{}, fanout, domain.ModeExplicitFanout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nodes")
}

func TestApply_RateLimited(t *testing.T) {
	fc := testutil.NewFakeCluster("company_cluster", n1)
	fc.Schema["analytics.table_comment"] = []string{"first_name", "second_name"}
	opts := testOptions()
	opts.RateLimit = 1000
	d := dispatch.New(fc, opts, discardLogger())

	topo := fc.Topology()
	set := synth(t, topo, domain.ModeExplicitFanout)
	res, err := d.Apply(context.Background(), topo, set, domain.ModeExplicitFanout)
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
}
