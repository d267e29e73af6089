package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Materialization is how a model is built in the target engine.
type Materialization string

// Materialization kinds.
const (
	MaterializationTable           Materialization = "table"
	MaterializationView            Materialization = "view"
	MaterializationReplicatedTable Materialization = "replicated_table"
	MaxIdentifierLength                            = 255
)

// ParseMaterialization normalizes a configured materialization name.
func ParseMaterialization(s string) (Materialization, error) {
	switch Materialization(strings.ToLower(strings.TrimSpace(s))) {
	case MaterializationTable, "":
		return MaterializationTable, nil
	case MaterializationView:
		return MaterializationView, nil
	case MaterializationReplicatedTable:
		return MaterializationReplicatedTable, nil
	default:
		return "", ErrValidation("materialization must be table, view, or replicated_table, got %q", s)
	}
}

// HasEngine reports whether the materialization carries an ENGINE clause.
func (m Materialization) HasEngine() bool {
	return m == MaterializationTable || m == MaterializationReplicatedTable
}

// PersistDocs selects which documentation is written to the engine.
type PersistDocs struct {
	Relation bool `yaml:"relation" json:"relation"`
	Columns  bool `yaml:"columns" json:"columns"`
}

// Column is one output column of a relation.
type Column struct {
	Name    string
	Comment string
}

// Relation is a named table or view inside a database.
type Relation struct {
	Database        string
	Identifier      string
	Materialization Materialization
	EngineClause    string // optional, may contain {placeholders}
	OrderBy         string
	SQL             string
	Comment         string
	Columns         []Column // ordered as projected
	PersistDocs     PersistDocs
}

// QualifiedName returns "database.identifier".
func (r *Relation) QualifiedName() string {
	return r.Database + "." + r.Identifier
}

// Column returns the column with the given name.
func (r *Relation) Column(name string) (Column, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// DocumentedColumns returns columns with a non-empty comment, in order.
func (r *Relation) DocumentedColumns() []Column {
	var out []Column
	for _, c := range r.Columns {
		if c.Comment != "" {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that the relation is well-formed.
func (r *Relation) Validate() error {
	if r.Database == "" {
		return ErrValidation("database is required")
	}
	if r.Identifier == "" {
		return ErrValidation("identifier is required")
	}
	if utf8.RuneCountInString(r.Identifier) > MaxIdentifierLength {
		return ErrValidation("identifier must be <= %d characters", MaxIdentifierLength)
	}
	if strings.TrimSpace(r.SQL) == "" {
		return ErrValidation("sql is required for %s", r.QualifiedName())
	}
	if _, err := ParseMaterialization(string(r.Materialization)); err != nil {
		return err
	}
	if r.Materialization == MaterializationView && r.EngineClause != "" {
		return ErrValidation("view %s cannot have an engine clause", r.QualifiedName())
	}
	seen := make(map[string]struct{}, len(r.Columns))
	for _, c := range r.Columns {
		if c.Name == "" {
			return ErrValidation("column name is required in %s", r.QualifiedName())
		}
		if _, dup := seen[c.Name]; dup {
			return ErrValidation("duplicate column %q in %s", c.Name, r.QualifiedName())
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Model is a compiled model: a relation plus the project it belongs to.
type Model struct {
	Project  string
	Name     string
	Relation Relation
}

// UniqueID returns the catalog key, e.g. "model.test.table_comment".
func (m *Model) UniqueID() string {
	return fmt.Sprintf("model.%s.%s", m.Project, m.Name)
}
