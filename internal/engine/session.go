// Package engine connects to individual database nodes and exposes the
// handful of operations documentation propagation needs: executing DDL and
// reading relation and column comments back from the system catalog.
package engine

import (
	"context"

	"chdocs/internal/ddl"
	"chdocs/internal/domain"
)

// HostStatus is one per-host row returned by ON CLUSTER DDL.
type HostStatus struct {
	Host   string
	Port   int
	Status int64 // 0 on success, otherwise the server error code
	Error  string
}

// Succeeded reports whether the host applied the statement.
func (h HostStatus) Succeeded() bool { return h.Status == 0 }

// ColumnInfo describes one column as stored in the engine's catalog.
type ColumnInfo struct {
	Name     string
	Type     string
	Position int // 1-based
	Comment  string
}

// RelationInfo describes one relation as stored in the engine's catalog.
type RelationInfo struct {
	Database string
	Name     string
	Kind     string // "table" or "view"
	Engine   string
	Comment  string
	Columns  []ColumnInfo
}

// Column returns the column with the given name.
func (r *RelationInfo) Column(name string) (ColumnInfo, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// HostComments is what one replica reported through a cluster-wide system view.
type HostComments struct {
	Host    string
	Present bool // relation exists on the host
	Comment string
	Columns map[string]string
}

// Session is a live connection to one node.
type Session interface {
	Node() domain.Node
	Dialect() ddl.Dialect

	// Exec runs a statement on this node only.
	Exec(ctx context.Context, stmt string) error
	// ExecDistributed runs an ON CLUSTER statement and returns the
	// per-host status rows the engine reports. Rows read before a failure
	// are returned together with the error.
	ExecDistributed(ctx context.Context, stmt string) ([]HostStatus, error)
	// DescribeRelation reads the relation and its columns from the local
	// catalog. A missing relation yields a *domain.NotFoundError.
	DescribeRelation(ctx context.Context, database, name string) (*RelationInfo, error)
	// ClusterComments reads relation and column comments from every
	// replica of cluster in one round trip.
	ClusterComments(ctx context.Context, cluster, database, name string) ([]HostComments, error)
	// ClusterNodes lists the nodes the engine knows for cluster.
	ClusterNodes(ctx context.Context, cluster string) ([]domain.Node, error)
}

// Connector hands out sessions to nodes.
type Connector interface {
	Dialect() ddl.Dialect
	Connect(ctx context.Context, node domain.Node) (Session, error)
	Close() error
}
