package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"chdocs/internal/domain"
	"chdocs/internal/engine"
)

// Snapshot is one node's view of a relation's documentation.
type Snapshot struct {
	Node    domain.Node
	Present bool
	Comment string
	Columns map[string]string // column name -> comment
	Err     error
}

// Reader collects one snapshot per node. The database is always explicit.
type Reader interface {
	Read(ctx context.Context, topo domain.Topology, database, name string) []Snapshot
}

// FanoutReader queries every node's local system catalog concurrently.
type FanoutReader struct {
	connector   engine.Connector
	timeout     time.Duration
	concurrency int
}

var _ Reader = (*FanoutReader)(nil)

// NewFanoutReader creates a reader that gives each node timeout to answer.
func NewFanoutReader(connector engine.Connector, timeout time.Duration, concurrency int) *FanoutReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &FanoutReader{connector: connector, timeout: timeout, concurrency: concurrency}
}

// Read returns snapshots in topology order.
func (r *FanoutReader) Read(ctx context.Context, topo domain.Topology, database, name string) []Snapshot {
	out := make([]Snapshot, len(topo.Nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, node := range topo.Nodes {
		g.Go(func() error {
			out[i] = r.readNode(gctx, node, database, name)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *FanoutReader) readNode(ctx context.Context, node domain.Node, database, name string) Snapshot {
	snap := Snapshot{Node: node}
	nctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sess, err := r.connector.Connect(nctx, node)
	if err == nil {
		var info *engine.RelationInfo
		info, err = sess.DescribeRelation(nctx, database, name)
		if err == nil {
			snap.Present = true
			snap.Comment = info.Comment
			snap.Columns = make(map[string]string, len(info.Columns))
			for _, c := range info.Columns {
				snap.Columns[c.Name] = c.Comment
			}
			return snap
		}
	}

	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &nf):
		// absent is an observation, not a failure
	case errors.Is(nctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		snap.Err = &domain.VerificationTimeout{Node: node, Timeout: r.timeout}
	default:
		snap.Err = err
	}
	return snap
}

// ClusterViewReader reads every replica through one query against the
// engine's cluster-wide system view, issued on the canonical node.
type ClusterViewReader struct {
	connector engine.Connector
	timeout   time.Duration
	logger    *slog.Logger
}

var _ Reader = (*ClusterViewReader)(nil)

// NewClusterViewReader creates a cluster-view reader.
func NewClusterViewReader(connector engine.Connector, timeout time.Duration, logger *slog.Logger) *ClusterViewReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClusterViewReader{connector: connector, timeout: timeout, logger: logger}
}

// Read returns one snapshot per topology node, plus one for every host the
// engine reported that the topology does not list. When the query fails,
// every node is non-responding.
func (r *ClusterViewReader) Read(ctx context.Context, topo domain.Topology, database, name string) []Snapshot {
	out := make([]Snapshot, len(topo.Nodes))
	for i, n := range topo.Nodes {
		out[i] = Snapshot{Node: n}
	}
	if !topo.Clustered() {
		for i := range out {
			out[i].Err = fmt.Errorf("cluster view needs a named cluster")
		}
		return out
	}

	nctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	hosts, err := r.query(nctx, topo, database, name)
	if err != nil {
		if errors.Is(nctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &domain.VerificationTimeout{Node: topo.Canonical(), Timeout: r.timeout}
		}
		for i := range out {
			out[i].Err = err
		}
		return out
	}

	for _, hc := range hosts {
		snap := Snapshot{Present: hc.Present, Comment: hc.Comment, Columns: hc.Columns}
		node, ok := topo.NodeByHost(hc.Host)
		if !ok {
			r.logger.Warn("cluster view reported host outside topology", "cluster", topo.Cluster, "host", hc.Host)
			snap.Node = domain.Node{Host: hc.Host}
			out = append(out, snap)
			continue
		}
		for i := range out {
			if out[i].Node == node {
				snap.Node = node
				out[i] = snap
				break
			}
		}
	}
	return out
}

func (r *ClusterViewReader) query(ctx context.Context, topo domain.Topology, database, name string) ([]engine.HostComments, error) {
	sess, err := r.connector.Connect(ctx, topo.Canonical())
	if err != nil {
		return nil, err
	}
	return sess.ClusterComments(ctx, topo.Cluster, database, name)
}
