package domain

import (
	"sort"
	"strconv"
	"strings"
)

// Node is one physical server in a cluster topology.
type Node struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port,omitempty"`
	Shard   int    `yaml:"shard" json:"shard"`
	Replica int    `yaml:"replica" json:"replica"`
}

// Address returns "host:port", or just the host when no port is set.
func (n Node) Address() string {
	if n.Port == 0 {
		return n.Host
	}
	return n.Host + ":" + strconv.Itoa(n.Port)
}

func (n Node) String() string { return n.Address() }

// Topology is the ordered set of nodes a relation lives on.
type Topology struct {
	Cluster string `json:"cluster,omitempty"` // empty in single-node mode
	Nodes   []Node `json:"nodes"`
}

// SingleNode returns a one-node topology with no cluster name.
func SingleNode(n Node) Topology {
	return Topology{Nodes: []Node{n}}
}

// Clustered reports whether the topology came from a named cluster.
func (t Topology) Clustered() bool {
	return t.Cluster != ""
}

// Canonical returns the node used for catalog reads and cluster-native DDL.
func (t Topology) Canonical() Node {
	if len(t.Nodes) == 0 {
		return Node{}
	}
	return t.Nodes[0]
}

// NodeByHost finds the node a server-reported hostname belongs to. The
// engine may report a fully-qualified name for a node configured by its
// short name, or the other way round.
func (t Topology) NodeByHost(host string) (Node, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, n := range t.Nodes {
		h := strings.ToLower(n.Host)
		if h == host || strings.HasPrefix(host, h+".") || strings.HasPrefix(h, host+".") {
			return n, true
		}
	}
	return Node{}, false
}

// SortNodes orders nodes by shard, replica, then address.
func SortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Shard != b.Shard {
			return a.Shard < b.Shard
		}
		if a.Replica != b.Replica {
			return a.Replica < b.Replica
		}
		return a.Address() < b.Address()
	})
}
