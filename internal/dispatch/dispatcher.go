// Package dispatch sends synthesized DDL to every node of a topology and
// records a per-node outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chdocs/internal/ddl"
	"chdocs/internal/domain"
	"chdocs/internal/engine"
)

// RetryPolicy bounds retries of transient failures on idempotent statements.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	NodeTimeout time.Duration // per statement attempt
	Concurrency int           // nodes worked on at once in fan-out mode
	Retry       RetryPolicy
	RateLimit   float64 // statements per second across all nodes, 0 = unlimited
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		NodeTimeout: 30 * time.Second,
		Concurrency: 8,
		Retry:       RetryPolicy{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
}

// Dispatcher applies statement sets to topologies.
type Dispatcher struct {
	connector engine.Connector
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(connector engine.Connector, opts Options, logger *slog.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = def.NodeTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = def.Retry.MaxDelay
	}
	d := &Dispatcher{connector: connector, opts: opts, logger: logger}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return d
}

// ResolveMode turns a requested mode into the one Apply will use. Auto picks
// cluster-native when the topology names a cluster and the dialect can
// distribute DDL itself, and explicit fan-out otherwise.
func ResolveMode(requested domain.PropagationMode, topo domain.Topology, d ddl.Dialect) (domain.PropagationMode, error) {
	switch requested {
	case domain.ModeAuto, "":
		if topo.Clustered() && d.SupportsOnCluster() {
			return domain.ModeClusterNative, nil
		}
		return domain.ModeExplicitFanout, nil
	case domain.ModeClusterNative:
		if !topo.Clustered() {
			return "", domain.ErrValidation("cluster-native propagation requires a named cluster")
		}
		if !d.SupportsOnCluster() {
			return "", domain.ErrValidation("%s does not support cluster-native propagation", d)
		}
		return domain.ModeClusterNative, nil
	case domain.ModeExplicitFanout:
		return domain.ModeExplicitFanout, nil
	default:
		return "", domain.ErrValidation("unknown propagation mode %q", requested)
	}
}

// Dialect returns the dialect of the nodes the dispatcher writes to.
func (d *Dispatcher) Dialect() ddl.Dialect { return d.connector.Dialect() }

// Mode resolves requested against the connector's dialect.
func (d *Dispatcher) Mode(requested domain.PropagationMode, topo domain.Topology) (domain.PropagationMode, error) {
	return ResolveMode(requested, topo, d.connector.Dialect())
}

// Apply executes set on every node of topo and returns one result per node.
// A node failure never aborts the others. The returned error is non-nil only
// when the request is invalid or no node succeeded; the result is returned
// whenever any node was attempted.
func (d *Dispatcher) Apply(ctx context.Context, topo domain.Topology, set *ddl.StatementSet, mode domain.PropagationMode) (*domain.PropagationResult, error) {
	if len(topo.Nodes) == 0 {
		return nil, domain.ErrValidation("topology for %s has no nodes", set.Relation)
	}
	mode, err := d.Mode(mode, topo)
	if err != nil {
		return nil, err
	}
	switch {
	case mode == domain.ModeClusterNative && set.OnCluster != topo.Cluster:
		return nil, domain.ErrValidation("statements for %s target cluster %q, topology is %q", set.Relation, set.OnCluster, topo.Cluster)
	case mode == domain.ModeExplicitFanout && set.OnCluster != "":
		return nil, domain.ErrValidation("statements for %s carry ON CLUSTER and cannot be fanned out", set.Relation)
	}

	res := &domain.PropagationResult{
		RunID:    uuid.NewString(),
		Relation: set.Relation,
		Mode:     mode,
	}
	logger := d.logger.With("relation", set.Relation, "mode", string(mode), "run_id", res.RunID)
	logger.Debug("propagating", "nodes", len(topo.Nodes), "statements", len(set.Statements))

	if mode == domain.ModeClusterNative {
		res.Nodes = d.applyClusterNative(ctx, topo, set, logger)
	} else {
		res.Nodes = d.applyFanout(ctx, topo, set, logger)
	}

	failed := res.Failed()
	for _, f := range failed {
		logger.Warn("propagation failed on node", "node", f.Node.String(), "error", f.Err)
	}
	logger.Info("propagation finished", "succeeded", len(res.Nodes)-len(failed), "failed", len(failed))

	if !res.AnySucceeded() {
		return res, fmt.Errorf("propagate %s: %w", set.Relation, res.Err())
	}
	return res, nil
}

func (d *Dispatcher) applyFanout(ctx context.Context, topo domain.Topology, set *ddl.StatementSet, logger *slog.Logger) []domain.NodeResult {
	results := make([]domain.NodeResult, len(topo.Nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency) // bounded parallelism

	for i, node := range topo.Nodes {
		g.Go(func() error {
			results[i] = d.applyToNode(gctx, node, set, logger.With("node", node.String()))
			return nil // a failed node must not cancel the others
		})
	}
	_ = g.Wait()
	return results
}

// applyToNode runs the statements in order and stops at the first failure.
func (d *Dispatcher) applyToNode(ctx context.Context, node domain.Node, set *ddl.StatementSet, logger *slog.Logger) domain.NodeResult {
	res := domain.NodeResult{Node: node}

	sess, err := d.connect(ctx, node)
	if err != nil {
		res.Err = err
		return res
	}

	for _, st := range set.Statements {
		attempts, err := d.execute(ctx, st, func(ctx context.Context) error {
			return sess.Exec(ctx, st.SQL)
		})
		res.Attempts += attempts
		if attempts > 1 {
			logger.Info("statement retried", "kind", string(st.Kind), "attempts", attempts)
		}
		if err != nil {
			res.Err = err
			return res
		}
		res.Statements++
	}
	res.AppliedComment = set.Comment
	return res
}

// applyClusterNative sends each statement once through the canonical node
// and attributes the per-host status rows back to topology nodes.
func (d *Dispatcher) applyClusterNative(ctx context.Context, topo domain.Topology, set *ddl.StatementSet, logger *slog.Logger) []domain.NodeResult {
	results := make([]domain.NodeResult, len(topo.Nodes))
	for i, n := range topo.Nodes {
		results[i].Node = n
	}
	failAll := func(err error) {
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = err
			}
		}
	}

	canonical := topo.Canonical()
	sess, err := d.connect(ctx, canonical)
	if err != nil {
		failAll(err)
		return results
	}

	for _, st := range set.Statements {
		var statuses []engine.HostStatus
		attempts, err := d.execute(ctx, st, func(ctx context.Context) error {
			var execErr error
			statuses, execErr = sess.ExecDistributed(ctx, st.SQL)
			return execErr
		})
		for i := range results {
			if results[i].Err == nil {
				results[i].Attempts += attempts
			}
		}

		if err != nil && len(statuses) == 0 {
			failAll(err)
			return results
		}
		if err == nil && len(statuses) == 0 {
			logger.Warn("no per-host status rows for ON CLUSTER statement; assuming every node applied it", "kind", string(st.Kind))
			for i := range results {
				if results[i].Err == nil {
					results[i].Statements++
				}
			}
			continue
		}

		reported := make([]bool, len(results))
		for _, hs := range statuses {
			i := matchHost(topo.Nodes, hs)
			if i < 0 {
				logger.Warn("ON CLUSTER status from host outside topology", "host", hs.Host, "port", hs.Port)
				continue
			}
			reported[i] = true
			if results[i].Err != nil {
				continue
			}
			if !hs.Succeeded() {
				results[i].Err = &domain.NodeExecutionError{
					Node:      results[i].Node,
					Statement: st.SQL,
					Cause:     fmt.Errorf("code %d: %s", hs.Status, hs.Error),
				}
				continue
			}
			results[i].Statements++
		}
		for i := range results {
			if reported[i] || results[i].Err != nil {
				continue
			}
			cause := errors.New("host did not report a status for ON CLUSTER statement")
			if err != nil {
				cause = fmt.Errorf("host did not report a status: %w", err)
			}
			results[i].Err = &domain.NodeExecutionError{Node: results[i].Node, Statement: st.SQL, Cause: cause}
		}

		if allFailed(results) {
			return results
		}
	}

	for i := range results {
		if results[i].Err == nil {
			results[i].AppliedComment = set.Comment
		}
	}
	return results
}

// matchHost finds the topology node a status row belongs to, preferring an
// exact host and port match.
func matchHost(nodes []domain.Node, hs engine.HostStatus) int {
	if hs.Port != 0 {
		for i, n := range nodes {
			if n.Host == hs.Host && n.Port == hs.Port {
				return i
			}
		}
	}
	topo := domain.Topology{Nodes: nodes}
	n, ok := topo.NodeByHost(hs.Host)
	if !ok {
		return -1
	}
	for i := range nodes {
		if nodes[i] == n {
			return i
		}
	}
	return -1
}

func allFailed(results []domain.NodeResult) bool {
	for _, r := range results {
		if r.Err == nil {
			return false
		}
	}
	return true
}

// connect opens a session, retrying transient connection failures.
func (d *Dispatcher) connect(ctx context.Context, node domain.Node) (engine.Session, error) {
	var sess engine.Session
	_, err := d.retry(ctx, true, func(ctx context.Context) error {
		var err error
		sess, err = d.connector.Connect(ctx, node)
		return err
	})
	return sess, err
}

// execute runs fn under the rate limiter and per-attempt timeout. Only
// idempotent statements are retried, and only on connection failures.
func (d *Dispatcher) execute(ctx context.Context, st ddl.Statement, fn func(context.Context) error) (int, error) {
	return d.retry(ctx, st.Idempotent, func(ctx context.Context) error {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
		}
		actx, cancel := context.WithTimeout(ctx, d.opts.NodeTimeout)
		defer cancel()
		return fn(actx)
	})
}

func (d *Dispatcher) retry(ctx context.Context, retryable bool, fn func(context.Context) error) (int, error) {
	attempts := 0
	b := retry.NewExponential(d.opts.Retry.BaseDelay)
	b = retry.WithCappedDuration(d.opts.Retry.MaxDelay, b)
	b = retry.WithMaxRetries(d.opts.Retry.MaxRetries, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := fn(ctx)
		if err != nil && retryable && domain.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts, err
}
