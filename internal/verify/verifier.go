package verify

import (
	"context"
	"log/slog"

	"chdocs/internal/domain"
)

// Verifier computes consistency verdicts. It only reads and may be called
// any number of times.
type Verifier struct {
	reader Reader
	logger *slog.Logger
}

// New creates a Verifier over reader.
func New(reader Reader, logger *slog.Logger) *Verifier {
	return &Verifier{reader: reader, logger: logger}
}

// Report bundles the relation and column verdicts of one read.
type Report struct {
	Relation string                `json:"relation"`
	Comment  domain.Verdict        `json:"comment"`
	Columns  domain.ColumnVerdicts `json:"columns"`
}

// Consistent reports whether the relation and every column passed.
func (r *Report) Consistent() bool {
	return r.Comment.Consistent() && r.Columns.AllConsistent()
}

// VerifyRelationComment reduces the relation comment seen on every node.
func (v *Verifier) VerifyRelationComment(ctx context.Context, topo domain.Topology, rel *domain.Relation) domain.Verdict {
	return relationVerdict(v.reader.Read(ctx, topo, rel.Database, rel.Identifier))
}

// VerifyColumnComments reduces each column's comment independently. The
// columns checked are those of rel plus any column a node reported.
func (v *Verifier) VerifyColumnComments(ctx context.Context, topo domain.Topology, rel *domain.Relation) domain.ColumnVerdicts {
	return columnVerdicts(v.reader.Read(ctx, topo, rel.Database, rel.Identifier), rel)
}

// Verify reads once and produces both the relation and column verdicts.
func (v *Verifier) Verify(ctx context.Context, topo domain.Topology, rel *domain.Relation) *Report {
	snaps := v.reader.Read(ctx, topo, rel.Database, rel.Identifier)
	rep := &Report{
		Relation: rel.QualifiedName(),
		Comment:  relationVerdict(snaps),
		Columns:  columnVerdicts(snaps, rel),
	}

	logger := v.logger.With("relation", rep.Relation, "cluster", topo.Cluster)
	if !rep.Comment.Consistent() {
		logger.Warn("relation comment not consistent", "verdict", rep.Comment.String())
	}
	for _, col := range rep.Columns.Inconsistent() {
		logger.Warn("column comment not consistent", "column", col, "verdict", rep.Columns[col].String())
	}
	return rep
}

func relationVerdict(snaps []Snapshot) domain.Verdict {
	obs := make([]Observation, len(snaps))
	for i, s := range snaps {
		obs[i] = Observation{Node: s.Node, Value: s.Comment, Present: s.Present, Err: s.Err}
	}
	return Reduce(obs)
}

func columnVerdicts(snaps []Snapshot, rel *domain.Relation) domain.ColumnVerdicts {
	names := map[string]struct{}{}
	for _, c := range rel.Columns {
		names[c.Name] = struct{}{}
	}
	for _, s := range snaps {
		for c := range s.Columns {
			names[c] = struct{}{}
		}
	}
	out := make(domain.ColumnVerdicts, len(names))
	for col := range names {
		obs := make([]Observation, len(snaps))
		for i, s := range snaps {
			o := Observation{Node: s.Node, Err: s.Err}
			if s.Err == nil {
				o.Value, o.Present = s.Columns[col]
			}
			obs[i] = o
		}
		out[col] = Reduce(obs)
	}
	return out
}
