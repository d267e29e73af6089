package ddl

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chdocs/internal/domain"
)

// Default engine clauses used when a model does not configure one.
const (
	DefaultEngine           = "MergeTree()"
	DefaultReplicatedEngine = "ReplicatedMergeTree('/clickhouse/tables/{uuid}/{shard}', '{replica}')"
	DefaultOrderBy          = "tuple()"
)

// StatementKind identifies what a synthesized statement does.
type StatementKind string

// Statement kinds.
const (
	StmtCreateDatabase  StatementKind = "create_database"
	StmtDrop            StatementKind = "drop"
	StmtCreate          StatementKind = "create"
	StmtCommentRelation StatementKind = "comment_relation"
	StmtCommentColumn   StatementKind = "comment_column"
)

// Statement is one DDL statement. Idempotent statements may be re-executed
// after a transient failure without changing the outcome.
type Statement struct {
	Kind       StatementKind
	SQL        string
	Idempotent bool
	Column     string // set for StmtCommentColumn
}

// StatementSet is the ordered DDL that materializes and documents one relation.
type StatementSet struct {
	Relation   string // database.identifier
	Dialect    Dialect
	OnCluster  string // cluster named in ON CLUSTER clauses, if any
	Engine     string // expanded engine clause, empty for views
	Comment    string // relation comment the set applies, empty when not persisted
	Statements []Statement
}

// SQL returns the statement texts in order.
func (s *StatementSet) SQL() []string {
	out := make([]string, len(s.Statements))
	for i, st := range s.Statements {
		out[i] = st.SQL
	}
	return out
}

// AllIdempotent reports whether the whole set can be safely replayed.
func (s *StatementSet) AllIdempotent() bool {
	for _, st := range s.Statements {
		if !st.Idempotent {
			return false
		}
	}
	return true
}

// SynthOptions controls statement rendering.
type SynthOptions struct {
	Dialect Dialect
	// Cluster is the topology's cluster name, bound to {cluster}.
	Cluster string
	// OnCluster adds ON CLUSTER <Cluster> to every statement.
	OnCluster bool
	// CreateDatabase prepends CREATE DATABASE IF NOT EXISTS.
	CreateDatabase bool
	// Bindings supplies extra placeholder values such as {uuid}.
	Bindings Bindings
	// Deferred placeholders are left for the server to expand.
	Deferred []string
}

// OptionsFor returns the rendering options for a resolved propagation mode.
// Cluster-native DDL leaves every server macro to the engine. Explicit
// fan-out binds {uuid} once per relation so all replicas share one
// coordination path, and leaves {replica} and {shard} to each node.
func OptionsFor(dialect Dialect, topo domain.Topology, mode domain.PropagationMode) SynthOptions {
	opts := SynthOptions{Dialect: dialect, Cluster: topo.Cluster}
	if mode == domain.ModeClusterNative {
		opts.OnCluster = true
		opts.Deferred = ServerMacros
		return opts
	}
	opts.Deferred = []string{PlaceholderReplica, PlaceholderShard}
	opts.Bindings = Bindings{PlaceholderUUID: uuid.NewString()}
	return opts
}

// Synthesize renders the statements that create rel and attach the comments
// its persist_docs settings ask for. Empty comments produce no statement.
func Synthesize(rel *domain.Relation, opts SynthOptions) (*StatementSet, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	d := opts.Dialect
	if d == "" {
		d = DialectClickHouse
	}
	onCluster := ""
	if opts.OnCluster {
		if opts.Cluster == "" {
			return nil, domain.ErrValidation("ON CLUSTER requested for %s without a cluster name", rel.QualifiedName())
		}
		onCluster = opts.Cluster
	}

	set := &StatementSet{Relation: rel.QualifiedName(), Dialect: d, OnCluster: onCluster}
	add := func(kind StatementKind, sql string, idempotent bool, column string) {
		set.Statements = append(set.Statements, Statement{Kind: kind, SQL: sql, Idempotent: idempotent, Column: column})
	}

	if opts.CreateDatabase {
		stmt, err := d.CreateDatabase(rel.Database, onCluster)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", rel.QualifiedName(), err)
		}
		add(StmtCreateDatabase, stmt, true, "")
	}

	kind := KindTable
	if rel.Materialization == domain.MaterializationView {
		kind = KindView
		stmt, err := d.CreateView(rel.Database, rel.Identifier, onCluster, rel.SQL)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", rel.QualifiedName(), err)
		}
		add(StmtCreate, stmt, true, "")
	} else {
		engine, orderBy := "", ""
		if d.HasEngineClause() {
			var err error
			engine, err = resolveEngine(rel, opts)
			if err != nil {
				return nil, err
			}
			orderBy = rel.OrderBy
			if strings.TrimSpace(orderBy) == "" {
				orderBy = DefaultOrderBy
			}
		}
		set.Engine = engine

		drop, err := d.DropRelation(KindTable, rel.Database, rel.Identifier, onCluster)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", rel.QualifiedName(), err)
		}
		create, err := d.CreateTable(rel.Database, rel.Identifier, onCluster, engine, orderBy, rel.SQL)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", rel.QualifiedName(), err)
		}
		add(StmtDrop, drop, true, "")
		add(StmtCreate, create, false, "")
	}

	if rel.PersistDocs.Relation && rel.Comment != "" {
		stmt, err := d.CommentOnRelation(kind, rel.Database, rel.Identifier, onCluster, rel.Comment)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", rel.QualifiedName(), err)
		}
		add(StmtCommentRelation, stmt, true, "")
		set.Comment = rel.Comment
	}

	if rel.PersistDocs.Columns {
		for _, c := range rel.DocumentedColumns() {
			stmt, err := d.CommentOnColumn(rel.Database, rel.Identifier, onCluster, c.Name, c.Comment)
			if err != nil {
				return nil, fmt.Errorf("synthesize %s: %w", rel.QualifiedName(), err)
			}
			add(StmtCommentColumn, stmt, true, c.Name)
		}
	}

	return set, nil
}

func resolveEngine(rel *domain.Relation, opts SynthOptions) (string, error) {
	template := rel.EngineClause
	if strings.TrimSpace(template) == "" {
		template = DefaultEngine
		if rel.Materialization == domain.MaterializationReplicatedTable {
			template = DefaultReplicatedEngine
		}
	}

	bindings := Bindings{
		PlaceholderCluster:  opts.Cluster,
		PlaceholderDatabase: rel.Database,
		PlaceholderTable:    rel.Identifier,
	}
	for k, v := range opts.Bindings {
		bindings[k] = v
	}
	return ExpandEngineClause(template, bindings, opts.Deferred)
}
