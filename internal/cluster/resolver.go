// Package cluster resolves a cluster name into the nodes a relation lives on.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chdocs/internal/domain"
	"chdocs/internal/engine"
)

// Resolver maps a cluster name to its topology. An empty name resolves to
// the single local node.
type Resolver interface {
	Resolve(ctx context.Context, cluster string) (domain.Topology, error)
}

// File is the on-disk topology format.
type File struct {
	Clusters map[string]struct {
		Nodes []domain.Node `yaml:"nodes"`
	} `yaml:"clusters"`
}

// StaticResolver resolves from a fixed set of clusters.
type StaticResolver struct {
	local    domain.Node
	clusters map[string][]domain.Node
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver creates a resolver with the given local node and clusters.
func NewStaticResolver(local domain.Node, clusters map[string][]domain.Node) *StaticResolver {
	if clusters == nil {
		clusters = map[string][]domain.Node{}
	}
	return &StaticResolver{local: local, clusters: clusters}
}

// LoadFile reads a YAML topology file. Unknown keys are rejected.
func LoadFile(path string, local domain.Node) (*StaticResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cluster config: %w", err)
	}
	defer f.Close()
	return Parse(f, local)
}

// Parse decodes a topology document.
func Parse(r io.Reader, local domain.Node) (*StaticResolver, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc File
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode cluster config: %w", err)
	}

	clusters := make(map[string][]domain.Node, len(doc.Clusters))
	for name, c := range doc.Clusters {
		if len(c.Nodes) == 0 {
			return nil, domain.ErrValidation("cluster %q has no nodes", name)
		}
		seen := make(map[string]bool, len(c.Nodes))
		for _, n := range c.Nodes {
			if strings.TrimSpace(n.Host) == "" {
				return nil, domain.ErrValidation("cluster %q: node host is required", name)
			}
			if seen[n.Address()] {
				return nil, domain.ErrValidation("cluster %q: duplicate node %s", name, n)
			}
			seen[n.Address()] = true
		}
		clusters[name] = c.Nodes
	}
	return NewStaticResolver(local, clusters), nil
}

// Resolve returns the configured nodes of cluster, sorted by shard and replica.
func (r *StaticResolver) Resolve(_ context.Context, cluster string) (domain.Topology, error) {
	if cluster == "" {
		return domain.SingleNode(r.local), nil
	}
	nodes, ok := r.clusters[cluster]
	if !ok {
		return domain.Topology{}, &domain.UnknownClusterError{Cluster: cluster}
	}
	out := make([]domain.Node, len(nodes))
	copy(out, nodes)
	domain.SortNodes(out)
	return domain.Topology{Cluster: cluster, Nodes: out}, nil
}

// Names returns the configured cluster names.
func (r *StaticResolver) Names() []string {
	names := make([]string, 0, len(r.clusters))
	for n := range r.clusters {
		names = append(names, n)
	}
	return names
}

// SystemResolver asks a seed node's system.clusters table. Configured
// clusters in the fallback take precedence over the engine's view.
type SystemResolver struct {
	connector engine.Connector
	seed      domain.Node
	fallback  *StaticResolver
	logger    *slog.Logger
}

var _ Resolver = (*SystemResolver)(nil)

// NewSystemResolver creates a resolver that discovers clusters through seed.
func NewSystemResolver(connector engine.Connector, seed domain.Node, fallback *StaticResolver, logger *slog.Logger) *SystemResolver {
	if fallback == nil {
		fallback = NewStaticResolver(seed, nil)
	}
	return &SystemResolver{connector: connector, seed: seed, fallback: fallback, logger: logger}
}

// Resolve returns the topology of cluster. An empty cluster name is the seed
// node alone; a name unknown to both the file and the engine fails with
// *domain.UnknownClusterError.
func (r *SystemResolver) Resolve(ctx context.Context, cluster string) (domain.Topology, error) {
	topo, err := r.fallback.Resolve(ctx, cluster)
	var unknown *domain.UnknownClusterError
	if err == nil || !errors.As(err, &unknown) {
		return topo, err
	}

	sess, err := r.connector.Connect(ctx, r.seed)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("resolve cluster %q: %w", cluster, err)
	}
	nodes, err := sess.ClusterNodes(ctx, cluster)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("resolve cluster %q: %w", cluster, err)
	}
	if len(nodes) == 0 {
		return domain.Topology{}, &domain.UnknownClusterError{Cluster: cluster}
	}
	domain.SortNodes(nodes)
	r.logger.Info("resolved cluster from system.clusters", "cluster", cluster, "nodes", len(nodes))
	return domain.Topology{Cluster: cluster, Nodes: nodes}, nil
}
