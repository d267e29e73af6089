// Package catalog renders the documentation stored in the engine into a
// catalog artifact keyed by model unique ID.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chdocs/internal/domain"
	"chdocs/internal/engine"
)

// Artifact is the catalog document.
type Artifact struct {
	Metadata Metadata          `json:"metadata"`
	Nodes    map[string]Entry  `json:"nodes"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Metadata describes the run that produced an artifact.
type Metadata struct {
	GeneratedAt  time.Time `json:"generated_at"`
	InvocationID string    `json:"invocation_id"`
	AdapterType  string    `json:"adapter_type"`
	Cluster      string    `json:"cluster,omitempty"`
	Node         string    `json:"node"`
}

// Entry is one relation in the catalog.
type Entry struct {
	UniqueID string                 `json:"unique_id"`
	Metadata EntryMetadata          `json:"metadata"`
	Columns  map[string]ColumnEntry `json:"columns"`
}

// EntryMetadata carries the relation-level fields. Comment is null when the
// engine stores no comment.
type EntryMetadata struct {
	Type    string  `json:"type"`
	Schema  string  `json:"schema"`
	Name    string  `json:"name"`
	Comment *string `json:"comment"`
}

// ColumnEntry carries one column's fields.
type ColumnEntry struct {
	Type    string  `json:"type"`
	Index   int     `json:"index"`
	Name    string  `json:"name"`
	Comment *string `json:"comment"`
}

// RelationComment returns the stored relation comment of uniqueID.
func (a *Artifact) RelationComment(uniqueID string) (string, bool) {
	e, ok := a.Nodes[uniqueID]
	if !ok || e.Metadata.Comment == nil {
		return "", false
	}
	return *e.Metadata.Comment, true
}

// ColumnComment returns the stored comment of one column of uniqueID.
func (a *Artifact) ColumnComment(uniqueID, column string) (string, bool) {
	e, ok := a.Nodes[uniqueID]
	if !ok {
		return "", false
	}
	c, ok := e.Columns[column]
	if !ok || c.Comment == nil {
		return "", false
	}
	return *c.Comment, true
}

// Encode writes the artifact as indented JSON.
func (a *Artifact) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Decode reads an artifact written by Encode.
func Decode(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &a, nil
}

// Reporter reads post-propagation state from the canonical node.
type Reporter struct {
	connector engine.Connector
	logger    *slog.Logger
	now       func() time.Time
}

// NewReporter creates a Reporter.
func NewReporter(connector engine.Connector, logger *slog.Logger) *Reporter {
	return &Reporter{connector: connector, logger: logger, now: time.Now}
}

// Describe reads one model's relation from node.
func (r *Reporter) Describe(ctx context.Context, node domain.Node, model *domain.Model) (*Entry, error) {
	sess, err := r.connector.Connect(ctx, node)
	if err != nil {
		return nil, err
	}
	info, err := sess.DescribeRelation(ctx, model.Relation.Database, model.Relation.Identifier)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", model.UniqueID(), err)
	}
	return entryFromInfo(model.UniqueID(), info), nil
}

func entryFromInfo(uniqueID string, info *engine.RelationInfo) *Entry {
	e := &Entry{
		UniqueID: uniqueID,
		Metadata: EntryMetadata{
			Type:    info.Kind,
			Schema:  info.Database,
			Name:    info.Name,
			Comment: optional(info.Comment),
		},
		Columns: make(map[string]ColumnEntry, len(info.Columns)),
	}
	for _, c := range info.Columns {
		e.Columns[c.Name] = ColumnEntry{Type: c.Type, Index: c.Position, Name: c.Name, Comment: optional(c.Comment)}
	}
	return e
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Generate describes every model from the topology's canonical node. A model
// that cannot be described is recorded under Errors and does not fail the
// artifact.
func (r *Reporter) Generate(ctx context.Context, topo domain.Topology, models []domain.Model) (*Artifact, error) {
	if len(topo.Nodes) == 0 {
		return nil, domain.ErrValidation("topology has no nodes")
	}
	node := topo.Canonical()

	entries := make([]*Entry, len(models))
	errs := make([]error, len(models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range models {
		g.Go(func() error {
			entries[i], errs[i] = r.Describe(gctx, node, &models[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generate catalog: %w", err)
	}

	a := &Artifact{
		Metadata: Metadata{
			GeneratedAt:  r.now().UTC(),
			InvocationID: uuid.NewString(),
			AdapterType:  string(r.connector.Dialect()),
			Cluster:      topo.Cluster,
			Node:         node.String(),
		},
		Nodes: make(map[string]Entry, len(models)),
	}
	for i, m := range models {
		if errs[i] != nil {
			if a.Errors == nil {
				a.Errors = map[string]string{}
			}
			a.Errors[m.UniqueID()] = errs[i].Error()
			r.logger.Warn("catalog entry failed", "model", m.UniqueID(), "error", errs[i])
			continue
		}
		a.Nodes[m.UniqueID()] = *entries[i]
	}
	r.logger.Info("catalog generated", "nodes", len(a.Nodes), "errors", len(a.Errors))
	return a, nil
}
