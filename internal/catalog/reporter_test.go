package catalog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chdocs/internal/domain"
	"chdocs/internal/testutil"
)

var n1 = domain.Node{Host: "ch-1", Port: 9000, Shard: 1, Replica: 1}

func newReporter(fc *testutil.FakeCluster) *Reporter {
	r := NewReporter(fc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r
}

func model(name string) domain.Model {
	return domain.Model{
		Project:  "test",
		Name:     name,
		Relation: domain.Relation{Database: "analytics", Identifier: name},
	}
}

func TestGenerate(t *testing.T) {
	fc := testutil.NewFakeCluster("company_cluster", n1)
	fc.Put(n1, "analytics.table_comment", testutil.FakeRelation{
		Kind:     "table",
		Comment:  "YYY table",
		Columns:  []string{"first_name", "second_name"},
		Comments: map[string]string{"first_name": "XXX first description", "second_name": "XXX second description"},
	})
	fc.Put(n1, "analytics.view_comment", testutil.FakeRelation{Kind: "view", Columns: []string{"x"}})

	r := newReporter(fc)
	a, err := r.Generate(context.Background(), fc.Topology(), []domain.Model{
		model("table_comment"), model("view_comment"), model("missing"),
	})
	require.NoError(t, err)

	assert.Equal(t, "clickhouse", a.Metadata.AdapterType)
	assert.Equal(t, "ch-1:9000", a.Metadata.Node)
	assert.NotEmpty(t, a.Metadata.InvocationID)
	require.Len(t, a.Nodes, 2)

	comment, ok := a.RelationComment("model.test.table_comment")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(comment, "YYY"))
	for _, col := range []string{"first_name", "second_name"} {
		c, ok := a.ColumnComment("model.test.table_comment", col)
		require.True(t, ok, col)
		assert.True(t, strings.HasPrefix(c, "XXX"), col)
	}
	entry := a.Nodes["model.test.table_comment"]
	assert.Equal(t, "table", entry.Metadata.Type)
	assert.Equal(t, 2, entry.Columns["second_name"].Index)

	_, ok = a.RelationComment("model.test.view_comment")
	assert.False(t, ok, "empty comment is null")
	assert.Equal(t, "view", a.Nodes["model.test.view_comment"].Metadata.Type)

	require.Contains(t, a.Errors, "model.test.missing")
	assert.Contains(t, a.Errors["model.test.missing"], "not found")
}

func TestArtifact_EncodeShape(t *testing.T) {
	fc := testutil.NewFakeCluster("", n1)
	fc.Put(n1, "analytics.table_comment", testutil.FakeRelation{
		Kind: "table", Comment: "YYY table", Columns: []string{"first_name"},
		Comments: map[string]string{"first_name": "XXX first description"},
	})
	a, err := newReporter(fc).Generate(context.Background(), domain.SingleNode(n1), []domain.Model{model("table_comment")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.Encode(&buf))
	js := buf.String()
	assert.Contains(t, js, `"model.test.table_comment"`)
	assert.Contains(t, js, `"comment": "YYY table"`)
	assert.Contains(t, js, `"generated_at": "2026-01-02T03:04:05Z"`)
	assert.NotContains(t, js, `"errors"`)

	back, err := Decode(&buf)
	require.NoError(t, err)
	c, ok := back.ColumnComment("model.test.table_comment", "first_name")
	require.True(t, ok)
	assert.Equal(t, "XXX first description", c)
}

func TestGenerate_Errors(t *testing.T) {
	fc := testutil.NewFakeCluster("company_cluster", n1)
	r := newReporter(fc)

	_, err := r.Generate(context.Background(), domain.Topology{}, nil)
	require.Error(t, err)

	fc.Down[n1.Address()] = true
	a, err := r.Generate(context.Background(), fc.Topology(), []domain.Model{model("t")})
	require.NoError(t, err)
	assert.Contains(t, a.Errors["model.test.t"], "connection refused")
}
