// Package project loads the manifest of compiled models to propagate.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chdocs/internal/domain"
)

// ManifestDoc is the on-disk manifest.
type ManifestDoc struct {
	Project  string     `yaml:"project"`
	Database string     `yaml:"database,omitempty"`
	Models   []ModelDoc `yaml:"models"`
}

// ModelDoc is one compiled model.
type ModelDoc struct {
	Name         string             `yaml:"name"`
	Alias        string             `yaml:"alias,omitempty"`
	Database     string             `yaml:"database,omitempty"`
	Materialized string             `yaml:"materialized"`
	Engine       string             `yaml:"engine,omitempty"`
	OrderBy      string             `yaml:"order_by,omitempty"`
	SQL          string             `yaml:"sql"`
	PersistDocs  domain.PersistDocs `yaml:"persist_docs"`
	Description  string             `yaml:"description,omitempty"`
	Columns      []ColumnDoc        `yaml:"columns,omitempty"`
}

// ColumnDoc documents one column.
type ColumnDoc struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Project is a validated manifest.
type Project struct {
	Name   string
	Models []domain.Model
}

// Model returns the model called name.
func (p *Project) Model(name string) (*domain.Model, error) {
	for i := range p.Models {
		if p.Models[i].Name == name {
			return &p.Models[i], nil
		}
	}
	return nil, domain.ErrNotFound("model %q not found in project %s", name, p.Name)
}

// Select returns the named models in manifest order, or all models when
// names is empty.
func (p *Project) Select(names []string) ([]domain.Model, error) {
	if len(names) == 0 {
		return p.Models, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, err := p.Model(n); err != nil {
			return nil, err
		}
		want[n] = true
	}
	var out []domain.Model
	for _, m := range p.Models {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Load reads the manifest at path. Models without a database use the
// manifest database, then defaultDatabase.
func Load(path, defaultDatabase string) (*Project, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", path, err)
	}
	p, err := Parse(bytes.NewReader(data), defaultDatabase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(r io.Reader, defaultDatabase string) (*Project, error) {
	var doc ManifestDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if doc.Project == "" {
		return nil, domain.ErrValidation("project is required")
	}
	if doc.Database != "" {
		defaultDatabase = doc.Database
	}

	p := &Project{Name: doc.Project, Models: make([]domain.Model, 0, len(doc.Models))}
	seen := make(map[string]struct{}, len(doc.Models))
	relations := make(map[string]string, len(doc.Models))
	for i, md := range doc.Models {
		m, err := md.toModel(doc.Project, defaultDatabase)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}
		if _, dup := seen[m.Name]; dup {
			return nil, domain.ErrValidation("models[%d]: duplicate model %q", i, m.Name)
		}
		seen[m.Name] = struct{}{}
		rel := m.Relation.QualifiedName()
		if owner, dup := relations[rel]; dup {
			return nil, domain.ErrValidation("models[%d]: relation %s already defined by model %q", i, rel, owner)
		}
		relations[rel] = m.Name
		p.Models = append(p.Models, m)
	}
	return p, nil
}

func (md ModelDoc) toModel(project, defaultDatabase string) (domain.Model, error) {
	if md.Name == "" {
		return domain.Model{}, domain.ErrValidation("name is required")
	}
	mat, err := domain.ParseMaterialization(md.Materialized)
	if err != nil {
		return domain.Model{}, fmt.Errorf("model %s: %w", md.Name, err)
	}
	if mat == domain.MaterializationTable && isReplicatedEngine(md.Engine) {
		mat = domain.MaterializationReplicatedTable
	}

	rel := domain.Relation{
		Database:        firstNonEmpty(md.Database, defaultDatabase),
		Identifier:      firstNonEmpty(md.Alias, md.Name),
		Materialization: mat,
		EngineClause:    strings.TrimSpace(md.Engine),
		OrderBy:         strings.TrimSpace(md.OrderBy),
		SQL:             md.SQL,
		Comment:         md.Description,
		PersistDocs:     md.PersistDocs,
	}
	for _, c := range md.Columns {
		rel.Columns = append(rel.Columns, domain.Column{Name: c.Name, Comment: c.Description})
	}
	if err := rel.Validate(); err != nil {
		return domain.Model{}, fmt.Errorf("model %s: %w", md.Name, err)
	}
	return domain.Model{Project: project, Name: md.Name, Relation: rel}, nil
}

func isReplicatedEngine(engine string) bool {
	return strings.HasPrefix(strings.TrimSpace(engine), "Replicated")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
