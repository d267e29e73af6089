package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chdocs/internal/domain"
)

const commentProject = `
project: test
models:
  - name: table_comment
    materialized: table
    sql: "select 'foo' as first_name, 'bar' as second_name"
    persist_docs: {relation: true, columns: true}
    description: "YYY table"
    columns:
      - {name: first_name, description: "XXX first description"}
      - {name: second_name, description: "XXX second description"}
  - name: view_comment
    materialized: view
    sql: "select 1 as x"
    persist_docs: {relation: true, columns: true}
    description: "YYY view"
  - name: replicated_comment
    alias: replicated_table_comment
    database: analytics
    materialized: table
    engine: "ReplicatedMergeTree('/clickhouse/tables/{uuid}/one-shard', '{replica}')"
    order_by: tuple()
    sql: "select 'foo' as first_name"
`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(commentProject), "default")
	require.NoError(t, err)

	assert.Equal(t, "test", p.Name)
	require.Len(t, p.Models, 3)

	table := p.Models[0]
	assert.Equal(t, "model.test.table_comment", table.UniqueID())
	assert.Equal(t, "default", table.Relation.Database)
	assert.Equal(t, domain.MaterializationTable, table.Relation.Materialization)
	assert.Equal(t, "YYY table", table.Relation.Comment)
	assert.Equal(t, domain.PersistDocs{Relation: true, Columns: true}, table.Relation.PersistDocs)
	assert.Equal(t, []domain.Column{
		{Name: "first_name", Comment: "XXX first description"},
		{Name: "second_name", Comment: "XXX second description"},
	}, table.Relation.Columns)

	assert.Equal(t, domain.MaterializationView, p.Models[1].Relation.Materialization)

	repl := p.Models[2]
	assert.Equal(t, domain.MaterializationReplicatedTable, repl.Relation.Materialization, "Replicated* engine normalizes the materialization")
	assert.Equal(t, "analytics", repl.Relation.Database)
	assert.Equal(t, "replicated_table_comment", repl.Relation.Identifier)
	assert.Equal(t, "tuple()", repl.Relation.OrderBy)
	assert.False(t, repl.Relation.PersistDocs.Relation)
}

func TestParse_ManifestDatabase(t *testing.T) {
	p, err := Parse(strings.NewReader("project: p\ndatabase: docs\nmodels:\n  - {name: m, sql: select 1}\n"), "default")
	require.NoError(t, err)
	assert.Equal(t, "docs", p.Models[0].Relation.Database)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "empty", doc: "", wantErr: "project is required"},
		{name: "unknown_field", doc: "project: p\nmodels:\n  - {name: m, sql: select 1, materialised: table}\n", wantErr: "materialised"},
		{name: "missing_name", doc: "project: p\nmodels:\n  - {sql: select 1}\n", wantErr: "name is required"},
		{name: "bad_materialization", doc: "project: p\nmodels:\n  - {name: m, sql: select 1, materialized: incremental}\n", wantErr: "materialization must be"},
		{name: "missing_sql", doc: "project: p\nmodels:\n  - {name: m}\n", wantErr: "sql is required"},
		{name: "view_with_engine", doc: "project: p\nmodels:\n  - {name: m, sql: select 1, materialized: view, engine: MergeTree()}\n", wantErr: "cannot have an engine clause"},
		{name: "duplicate_model", doc: "project: p\nmodels:\n  - {name: m, sql: select 1}\n  - {name: m, sql: select 2}\n", wantErr: "duplicate model"},
		{name: "shared_alias", doc: "project: p\nmodels:\n  - {name: a, alias: shared, sql: select 1}\n  - {name: b, alias: shared, sql: select 2}\n", wantErr: `relation default.shared already defined by model "a"`},
		{name: "alias_collides_with_name", doc: "project: p\nmodels:\n  - {name: orders, sql: select 1}\n  - {name: b, alias: orders, sql: select 2}\n", wantErr: `relation default.orders already defined by model "orders"`},
		{name: "duplicate_column", doc: "project: p\nmodels:\n  - {name: m, sql: select 1, columns: [{name: a}, {name: a}]}\n", wantErr: "duplicate column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), "default")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_SameIdentifierInOtherDatabase(t *testing.T) {
	doc := "project: p\nmodels:\n  - {name: a, alias: shared, sql: select 1}\n  - {name: b, alias: shared, database: staging, sql: select 2}\n"
	p, err := Parse(strings.NewReader(doc), "default")
	require.NoError(t, err)
	require.Len(t, p.Models, 2)
	assert.Equal(t, "default.shared", p.Models[0].Relation.QualifiedName())
	assert.Equal(t, "staging.shared", p.Models[1].Relation.QualifiedName())
}

func TestProject_Select(t *testing.T) {
	p, err := Parse(strings.NewReader(commentProject), "default")
	require.NoError(t, err)

	all, err := p.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := p.Select([]string{"replicated_comment", "table_comment"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "table_comment", some[0].Name, "manifest order is kept")

	_, err = p.Select([]string{"nope"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chdocs.yml")
	require.NoError(t, os.WriteFile(path, []byte(commentProject), 0o644))

	p, err := Load(path, "default")
	require.NoError(t, err)
	assert.Len(t, p.Models, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"), "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read project")
}
