// Package ddl builds ClickHouse and DuckDB DDL statements for materializing
// relations and attaching documentation comments to them.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour a statement is rendered in.
type Dialect string

// Supported dialects.
const (
	DialectClickHouse Dialect = "clickhouse"
	DialectDuckDB     Dialect = "duckdb"
)

// ParseDialect normalizes a configured engine name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectClickHouse, "":
		return DialectClickHouse, nil
	case DialectDuckDB:
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported engine %q", s)
	}
}

// SupportsOnCluster reports whether the dialect can distribute DDL itself.
func (d Dialect) SupportsOnCluster() bool { return d == DialectClickHouse }

// HasEngineClause reports whether CREATE TABLE takes an ENGINE clause.
func (d Dialect) HasEngineClause() bool { return d == DialectClickHouse }

// RelationKind distinguishes tables from views where the syntax differs.
type RelationKind string

// Relation kinds.
const (
	KindTable RelationKind = "TABLE"
	KindView  RelationKind = "VIEW"
)

func (d Dialect) qualify(database, name string) (string, error) {
	if err := ValidateIdentifier(database); err != nil {
		return "", fmt.Errorf("invalid database name: %w", err)
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid relation name: %w", err)
	}
	return QuoteIdentifier(database) + "." + QuoteIdentifier(name), nil
}

func (d Dialect) onCluster(cluster string) (string, error) {
	if cluster == "" {
		return "", nil
	}
	if !d.SupportsOnCluster() {
		return "", fmt.Errorf("%s does not support ON CLUSTER", d)
	}
	if err := ValidateIdentifier(cluster); err != nil {
		return "", fmt.Errorf("invalid cluster name: %w", err)
	}
	return " ON CLUSTER " + QuoteIdentifier(cluster), nil
}

// CreateDatabase returns CREATE DATABASE IF NOT EXISTS "<db>" [ON CLUSTER "<c>"]
// for ClickHouse, or CREATE SCHEMA IF NOT EXISTS "<db>" for DuckDB.
func (d Dialect) CreateDatabase(database, cluster string) (string, error) {
	if err := ValidateIdentifier(database); err != nil {
		return "", fmt.Errorf("invalid database name: %w", err)
	}
	oc, err := d.onCluster(cluster)
	if err != nil {
		return "", err
	}
	if d == DialectDuckDB {
		return "CREATE SCHEMA IF NOT EXISTS " + QuoteIdentifier(database), nil
	}
	return "CREATE DATABASE IF NOT EXISTS " + QuoteIdentifier(database) + oc, nil
}

// CreateTable returns a CREATE TABLE ... AS <query> statement. For ClickHouse
// the engine and ORDER BY clauses are required and must already be expanded.
//
//	CREATE TABLE "<db>"."<t>" [ON CLUSTER "<c>"] ENGINE = <engine> ORDER BY <order> AS <query>
func (d Dialect) CreateTable(database, table, cluster, engine, orderBy, query string) (string, error) {
	name, err := d.qualify(database, table)
	if err != nil {
		return "", err
	}
	oc, err := d.onCluster(cluster)
	if err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	if !d.HasEngineClause() {
		if engine != "" {
			return "", fmt.Errorf("%s does not take an engine clause", d)
		}
		return fmt.Sprintf("CREATE TABLE %s AS %s", name, query), nil
	}
	if err := ValidateClause(engine); err != nil {
		return "", fmt.Errorf("invalid engine clause: %w", err)
	}
	if err := ValidateClause(orderBy); err != nil {
		return "", fmt.Errorf("invalid order by clause: %w", err)
	}
	return fmt.Sprintf("CREATE TABLE %s%s ENGINE = %s ORDER BY %s AS %s", name, oc, engine, orderBy, query), nil
}

// CreateView returns CREATE OR REPLACE VIEW "<db>"."<v>" [ON CLUSTER "<c>"] AS <query>.
func (d Dialect) CreateView(database, view, cluster, query string) (string, error) {
	name, err := d.qualify(database, view)
	if err != nil {
		return "", err
	}
	oc, err := d.onCluster(cluster)
	if err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s%s AS %s", name, oc, query), nil
}

// DropRelation returns DROP TABLE|VIEW IF EXISTS "<db>"."<name>" [ON CLUSTER "<c>"].
// ClickHouse drops views with DROP TABLE as well, so kind only matters for DuckDB.
func (d Dialect) DropRelation(kind RelationKind, database, name, cluster string) (string, error) {
	qn, err := d.qualify(database, name)
	if err != nil {
		return "", err
	}
	oc, err := d.onCluster(cluster)
	if err != nil {
		return "", err
	}
	if d == DialectClickHouse {
		kind = KindTable
	}
	return fmt.Sprintf("DROP %s IF EXISTS %s%s", kind, qn, oc), nil
}

// CommentOnRelation returns the statement that sets a relation comment.
//
//	ClickHouse: ALTER TABLE "<db>"."<t>" [ON CLUSTER "<c>"] MODIFY COMMENT '<comment>'
//	DuckDB:     COMMENT ON TABLE|VIEW "<db>"."<t>" IS '<comment>'
func (d Dialect) CommentOnRelation(kind RelationKind, database, name, cluster, comment string) (string, error) {
	qn, err := d.qualify(database, name)
	if err != nil {
		return "", err
	}
	oc, err := d.onCluster(cluster)
	if err != nil {
		return "", err
	}
	if d == DialectDuckDB {
		return fmt.Sprintf("COMMENT ON %s %s IS %s", kind, qn, d.QuoteLiteral(comment)), nil
	}
	return fmt.Sprintf("ALTER TABLE %s%s MODIFY COMMENT %s", qn, oc, d.QuoteLiteral(comment)), nil
}

// CommentOnColumn returns the statement that sets a column comment.
//
//	ClickHouse: ALTER TABLE "<db>"."<t>" [ON CLUSTER "<c>"] COMMENT COLUMN "<col>" '<comment>'
//	DuckDB:     COMMENT ON COLUMN "<db>"."<t>"."<col>" IS '<comment>'
func (d Dialect) CommentOnColumn(database, name, cluster, column, comment string) (string, error) {
	qn, err := d.qualify(database, name)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", fmt.Errorf("invalid column name %q: %w", column, err)
	}
	oc, err := d.onCluster(cluster)
	if err != nil {
		return "", err
	}
	if d == DialectDuckDB {
		return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", qn, QuoteIdentifier(column), d.QuoteLiteral(comment)), nil
	}
	return fmt.Sprintf("ALTER TABLE %s%s COMMENT COLUMN %s %s", qn, oc, QuoteIdentifier(column), d.QuoteLiteral(comment)), nil
}
