// Package propagation builds models across a cluster and checks that every
// node ends up with the same documentation.
package propagation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chdocs/internal/artifact"
	"chdocs/internal/catalog"
	"chdocs/internal/cluster"
	"chdocs/internal/ddl"
	"chdocs/internal/dispatch"
	"chdocs/internal/domain"
	"chdocs/internal/project"
	"chdocs/internal/verify"
)

// Options configures a Service.
type Options struct {
	// Cluster is the configured cluster name; empty means single node.
	Cluster string
	Mode    domain.PropagationMode
	// CreateDatabase makes every build ensure the target database exists.
	CreateDatabase bool
}

// Service orchestrates synthesis, dispatch, verification and reporting.
type Service struct {
	project    *project.Project
	resolver   cluster.Resolver
	dispatcher *dispatch.Dispatcher
	verifier   *verify.Verifier
	reporter   *catalog.Reporter
	sink       artifact.Sink
	opts       Options
	logger     *slog.Logger

	mu   sync.RWMutex
	last *catalog.Artifact
}

// NewService creates a Service. sink may be nil, in which case catalogs are
// kept in memory only.
func NewService(
	proj *project.Project,
	resolver cluster.Resolver,
	dispatcher *dispatch.Dispatcher,
	verifier *verify.Verifier,
	reporter *catalog.Reporter,
	sink artifact.Sink,
	opts Options,
	logger *slog.Logger,
) *Service {
	return &Service{
		project:    proj,
		resolver:   resolver,
		dispatcher: dispatcher,
		verifier:   verifier,
		reporter:   reporter,
		sink:       sink,
		opts:       opts,
		logger:     logger,
	}
}

// Project returns the loaded project.
func (s *Service) Project() *project.Project { return s.project }

// Topology resolves the configured cluster.
func (s *Service) Topology(ctx context.Context) (domain.Topology, error) {
	topo, err := s.resolver.Resolve(ctx, s.opts.Cluster)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("resolve topology: %w", err)
	}
	return topo, nil
}

// ModelOutcome is the result of building one model.
type ModelOutcome struct {
	Model  string                    `json:"model"`
	Mode   domain.PropagationMode    `json:"mode,omitempty"`
	Result *domain.PropagationResult `json:"-"`
	Report *verify.Report            `json:"verification,omitempty"`
	Err    error                     `json:"-"`
}

// OK reports whether every node applied the model and, when verified, every
// comment is consistent.
func (o *ModelOutcome) OK() bool {
	if o.Err != nil || o.Result == nil || !o.Result.AllSucceeded() {
		return false
	}
	return o.Report == nil || o.Report.Consistent()
}

// Problem describes why the outcome is not OK, or returns "".
func (o *ModelOutcome) Problem() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.Result == nil:
		return "not built"
	case !o.Result.AllSucceeded():
		return o.Result.Summary()
	case o.Report != nil && !o.Report.Comment.Consistent():
		return "relation comment " + o.Report.Comment.String()
	case o.Report != nil && !o.Report.Columns.AllConsistent():
		col := o.Report.Columns.Inconsistent()[0]
		return fmt.Sprintf("column %s comment %s", col, o.Report.Columns[col].String())
	}
	return ""
}

// BuildOptions selects what Build does after propagation.
type BuildOptions struct {
	Verify  bool
	Catalog bool
}

// BuildResult is the outcome of one Build. Catalog is set only when the
// artifact was generated and written; CatalogErr holds the failure otherwise.
type BuildResult struct {
	RunID      string            `json:"run_id"`
	Topology   domain.Topology   `json:"topology"`
	Models     []*ModelOutcome   `json:"models"`
	Catalog    *catalog.Artifact `json:"-"`
	CatalogErr error             `json:"-"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Failed returns the outcomes that are not OK.
func (r *BuildResult) Failed() []*ModelOutcome {
	var out []*ModelOutcome
	for _, m := range r.Models {
		if !m.OK() {
			out = append(out, m)
		}
	}
	return out
}

// Succeeded reports whether every model is OK and the catalog, when
// requested, was published.
func (r *BuildResult) Succeeded() bool { return len(r.Failed()) == 0 && r.CatalogErr == nil }

// Build propagates the named models (all when names is empty) in manifest
// order. A failing model does not stop the ones after it. The error is
// non-nil only when nothing could be attempted.
func (s *Service) Build(ctx context.Context, names []string, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	models, err := s.project.Select(names)
	if err != nil {
		return nil, err
	}
	topo, err := s.Topology(ctx)
	if err != nil {
		return nil, err
	}

	res := &BuildResult{RunID: uuid.NewString(), Topology: topo}
	logger := s.logger.With("run_id", res.RunID, "cluster", topo.Cluster)
	logger.Info("build started", "models", len(models), "nodes", len(topo.Nodes))

	var built []domain.Model
	for i := range models {
		if ctx.Err() != nil {
			res.Models = append(res.Models, &ModelOutcome{Model: models[i].UniqueID(), Err: ctx.Err()})
			continue
		}
		out := s.BuildModel(ctx, topo, &models[i], opts.Verify)
		res.Models = append(res.Models, out)
		if out.Result != nil && out.Result.AnySucceeded() {
			built = append(built, models[i])
		}
	}

	if opts.Catalog && len(built) > 0 {
		a, err := s.publish(ctx, topo, built)
		if err != nil {
			logger.Error("catalog not published", "error", err)
			res.CatalogErr = err
		} else {
			res.Catalog = a
		}
	}

	res.Elapsed = time.Since(start)
	logger.Info("build finished", "failed", len(res.Failed()), "catalog_error", res.CatalogErr != nil, "elapsed", res.Elapsed)
	return res, nil
}

// BuildModel synthesizes and propagates one model and, when verify is set
// and at least one node applied it, verifies the result.
func (s *Service) BuildModel(ctx context.Context, topo domain.Topology, m *domain.Model, verifyAfter bool) *ModelOutcome {
	out := &ModelOutcome{Model: m.UniqueID()}
	logger := s.logger.With("model", out.Model)

	mode, err := s.dispatcher.Mode(s.opts.Mode, topo)
	if err != nil {
		out.Err = err
		return out
	}
	out.Mode = mode

	synth := ddl.OptionsFor(s.dispatcher.Dialect(), topo, mode)
	synth.CreateDatabase = s.opts.CreateDatabase
	set, err := ddl.Synthesize(&m.Relation, synth)
	if err != nil {
		out.Err = err
		logger.Warn("synthesis failed", "error", err)
		return out
	}

	out.Result, err = s.dispatcher.Apply(ctx, topo, set, mode)
	if err != nil {
		out.Err = err
		return out
	}

	if verifyAfter {
		out.Report = s.verifier.Verify(ctx, topo, &m.Relation)
	}
	if !out.OK() {
		logger.Warn("model not propagated cleanly", "problem", out.Problem())
	}
	return out
}

// Verify checks the named models without writing anything.
func (s *Service) Verify(ctx context.Context, names []string) ([]*verify.Report, error) {
	models, err := s.project.Select(names)
	if err != nil {
		return nil, err
	}
	topo, err := s.Topology(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]*verify.Report, 0, len(models))
	for i := range models {
		reports = append(reports, s.verifier.Verify(ctx, topo, &models[i].Relation))
	}
	return reports, nil
}

// VerifyRelation checks one relation. A relation that is not part of the
// project is checked against whatever columns the nodes report.
func (s *Service) VerifyRelation(ctx context.Context, database, name string) (*verify.Report, error) {
	if err := ddl.ValidateIdentifier(database); err != nil {
		return nil, domain.ErrValidation("invalid database name: %v", err)
	}
	if err := ddl.ValidateIdentifier(name); err != nil {
		return nil, domain.ErrValidation("invalid relation name: %v", err)
	}
	topo, err := s.Topology(ctx)
	if err != nil {
		return nil, err
	}
	rel := &domain.Relation{Database: database, Identifier: name}
	for i := range s.project.Models {
		r := &s.project.Models[i].Relation
		if r.Database == database && r.Identifier == name {
			rel = r
			break
		}
	}
	return s.verifier.Verify(ctx, topo, rel), nil
}

// GenerateCatalog reads every project model from the canonical node and
// publishes the artifact.
func (s *Service) GenerateCatalog(ctx context.Context) (*catalog.Artifact, error) {
	topo, err := s.Topology(ctx)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, topo, s.project.Models)
}

// LastCatalog returns the most recently generated artifact, or nil.
func (s *Service) LastCatalog() *catalog.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Service) publish(ctx context.Context, topo domain.Topology, models []domain.Model) (*catalog.Artifact, error) {
	a, err := s.reporter.Generate(ctx, topo, models)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = a
	s.mu.Unlock()

	if s.sink == nil {
		return a, nil
	}
	var buf bytes.Buffer
	if err := a.Encode(&buf); err != nil {
		return a, fmt.Errorf("encode catalog: %w", err)
	}
	if err := s.sink.Write(ctx, buf.Bytes()); err != nil {
		return a, fmt.Errorf("write catalog to %s: %w", s.sink.Location(), err)
	}
	s.logger.Info("catalog written", "location", s.sink.Location(), "nodes", len(a.Nodes))
	return a, nil
}

// IsUserError reports whether err came from invalid input rather than the
// cluster.
func IsUserError(err error) bool {
	var ve *domain.ValidationError
	var nf *domain.NotFoundError
	var tr *domain.TemplateResolutionError
	var uc *domain.UnknownClusterError
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &tr) || errors.As(err, &uc)
}
