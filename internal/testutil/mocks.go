// Package testutil provides shared fakes of the engine interfaces for use in
// tests across the codebase. This follows the Go convention of a shared test
// utility package (like net/http/httptest).
package testutil

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"chdocs/internal/ddl"
	"chdocs/internal/domain"
	"chdocs/internal/engine"
)

// === Fake Cluster ===

// FakeRelation is the catalog state of one relation on one fake node.
type FakeRelation struct {
	Kind     string
	Comment  string
	Columns  []string
	Comments map[string]string
}

// FakeCluster is an in-memory set of nodes implementing engine.Connector.
// It understands the ClickHouse statements ddl.Synthesize produces well
// enough to track relation and column comments per node.
type FakeCluster struct {
	mu sync.Mutex

	Name  string
	Nodes []domain.Node
	// Schema lists the columns a CREATE of "db.table" produces.
	Schema map[string][]string
	// Down nodes refuse connections.
	Down map[string]bool

	// ExecFn, when set, runs before every per-node statement. A non-nil
	// error fails the statement on that node without applying it. attempt
	// counts executions of the same statement on the same node from 1.
	ExecFn func(node domain.Node, stmt string, attempt int) error
	// DistributedFn, when set, replaces the per-host rows of ON CLUSTER DDL.
	DistributedFn func(stmt string) ([]engine.HostStatus, error)
	// ClusterCommentsFn, when set, replaces cluster-wide comment reads.
	ClusterCommentsFn func(database, name string) ([]engine.HostComments, error)

	state    map[string]map[string]*FakeRelation // node address -> relation -> state
	attempts map[string]int
	executed map[string][]string
}

var _ engine.Connector = (*FakeCluster)(nil)

// NewFakeCluster creates a fake cluster with the given nodes.
func NewFakeCluster(name string, nodes ...domain.Node) *FakeCluster {
	fc := &FakeCluster{
		Name:     name,
		Nodes:    nodes,
		Schema:   map[string][]string{},
		Down:     map[string]bool{},
		state:    map[string]map[string]*FakeRelation{},
		attempts: map[string]int{},
		executed: map[string][]string{},
	}
	for _, n := range nodes {
		fc.state[n.Address()] = map[string]*FakeRelation{}
	}
	return fc
}

// Topology returns the cluster's topology.
func (fc *FakeCluster) Topology() domain.Topology {
	nodes := append([]domain.Node(nil), fc.Nodes...)
	domain.SortNodes(nodes)
	return domain.Topology{Cluster: fc.Name, Nodes: nodes}
}

// Dialect implements engine.Connector.
func (fc *FakeCluster) Dialect() ddl.Dialect { return ddl.DialectClickHouse }

// Connect implements engine.Connector.
func (fc *FakeCluster) Connect(_ context.Context, node domain.Node) (engine.Session, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.Down[node.Address()] {
		return nil, &domain.NodeConnectionError{Node: node, Cause: errors.New("connection refused")}
	}
	if _, ok := fc.state[node.Address()]; !ok {
		return nil, &domain.NodeConnectionError{Node: node, Cause: errors.New("no such host")}
	}
	return &fakeSession{fc: fc, node: node}, nil
}

// Close implements engine.Connector.
func (fc *FakeCluster) Close() error { return nil }

// Put sets relation state on a node directly.
func (fc *FakeCluster) Put(node domain.Node, relation string, r FakeRelation) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if r.Comments == nil {
		r.Comments = map[string]string{}
	}
	fc.state[node.Address()][relation] = &r
}

// Relation returns a copy of the relation state on a node.
func (fc *FakeCluster) Relation(node domain.Node, relation string) (FakeRelation, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	r, ok := fc.state[node.Address()][relation]
	if !ok {
		return FakeRelation{}, false
	}
	return *r, true
}

// Executed returns the statements a node applied, in order.
func (fc *FakeCluster) Executed(node domain.Node) []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.executed[node.Address()]...)
}

// Attempts returns how often stmt was executed on node.
func (fc *FakeCluster) Attempts(node domain.Node, stmt string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.attempts[node.Address()+"|"+stmt]
}

var (
	relationRe      = regexp.MustCompile(`"(\w+)"\."(\w+)"`)
	modifyCommentRe = regexp.MustCompile(`MODIFY COMMENT '((?:[^']|'')*)'$`)
	commentColumnRe = regexp.MustCompile(`COMMENT COLUMN "(\w+)" '((?:[^']|'')*)'$`)
)

func unquote(s string) string {
	s = strings.ReplaceAll(s, "''", "'")
	return strings.ReplaceAll(s, `\\`, `\`)
}

// apply runs stmt against node's state. Callers hold fc.mu.
func (fc *FakeCluster) apply(node domain.Node, stmt string) error {
	key := node.Address() + "|" + stmt
	fc.attempts[key]++
	if fc.ExecFn != nil {
		if err := fc.ExecFn(node, stmt, fc.attempts[key]); err != nil {
			return err
		}
	}

	rels := fc.state[node.Address()]
	m := relationRe.FindStringSubmatch(stmt)
	name := ""
	if m != nil {
		name = m[1] + "." + m[2]
	}

	switch {
	case strings.HasPrefix(stmt, "CREATE DATABASE"):
	case strings.HasPrefix(stmt, "DROP "):
		delete(rels, name)
	case strings.HasPrefix(stmt, "CREATE TABLE"), strings.HasPrefix(stmt, "CREATE OR REPLACE VIEW"):
		if _, exists := rels[name]; exists && strings.HasPrefix(stmt, "CREATE TABLE") {
			return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: fmt.Errorf("table %s already exists", name)}
		}
		kind := "table"
		if strings.Contains(stmt, "VIEW") {
			kind = "view"
		}
		rels[name] = &FakeRelation{Kind: kind, Columns: fc.Schema[name], Comments: map[string]string{}}
	case modifyCommentRe.MatchString(stmt):
		r, ok := rels[name]
		if !ok {
			return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: fmt.Errorf("table %s does not exist", name)}
		}
		r.Comment = unquote(modifyCommentRe.FindStringSubmatch(stmt)[1])
	case commentColumnRe.MatchString(stmt):
		r, ok := rels[name]
		if !ok {
			return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: fmt.Errorf("table %s does not exist", name)}
		}
		cm := commentColumnRe.FindStringSubmatch(stmt)
		r.Comments[cm[1]] = unquote(cm[2])
	default:
		return &domain.NodeExecutionError{Node: node, Statement: stmt, Cause: errors.New("unsupported statement")}
	}
	fc.executed[node.Address()] = append(fc.executed[node.Address()], stmt)
	return nil
}

type fakeSession struct {
	fc   *FakeCluster
	node domain.Node
}

func (s *fakeSession) Node() domain.Node    { return s.node }
func (s *fakeSession) Dialect() ddl.Dialect { return ddl.DialectClickHouse }

func (s *fakeSession) Exec(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return &domain.NodeConnectionError{Node: s.node, Cause: err}
	}
	s.fc.mu.Lock()
	defer s.fc.mu.Unlock()
	return s.fc.apply(s.node, stmt)
}

func (s *fakeSession) ExecDistributed(ctx context.Context, stmt string) ([]engine.HostStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.NodeConnectionError{Node: s.node, Cause: err}
	}
	if s.fc.DistributedFn != nil {
		return s.fc.DistributedFn(stmt)
	}
	s.fc.mu.Lock()
	defer s.fc.mu.Unlock()
	var out []engine.HostStatus
	for _, n := range s.fc.Nodes {
		if s.fc.Down[n.Address()] {
			continue
		}
		hs := engine.HostStatus{Host: n.Host, Port: n.Port}
		if err := s.fc.apply(n, stmt); err != nil {
			hs.Status = 1
			hs.Error = err.Error()
		}
		out = append(out, hs)
	}
	return out, nil
}

func (s *fakeSession) DescribeRelation(ctx context.Context, database, name string) (*engine.RelationInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.NodeConnectionError{Node: s.node, Cause: err}
	}
	s.fc.mu.Lock()
	defer s.fc.mu.Unlock()
	r, ok := s.fc.state[s.node.Address()][database+"."+name]
	if !ok {
		return nil, domain.ErrNotFound("relation %s.%s not found on %s", database, name, s.node)
	}
	info := &engine.RelationInfo{Database: database, Name: name, Kind: r.Kind, Engine: "MergeTree", Comment: r.Comment}
	if r.Kind == "view" {
		info.Engine = "View"
	}
	for i, c := range r.Columns {
		info.Columns = append(info.Columns, engine.ColumnInfo{Name: c, Type: "String", Position: i + 1, Comment: r.Comments[c]})
	}
	return info, nil
}

func (s *fakeSession) ClusterComments(ctx context.Context, cluster, database, name string) ([]engine.HostComments, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.NodeConnectionError{Node: s.node, Cause: err}
	}
	if s.fc.ClusterCommentsFn != nil {
		return s.fc.ClusterCommentsFn(database, name)
	}
	s.fc.mu.Lock()
	defer s.fc.mu.Unlock()
	if cluster != s.fc.Name {
		return nil, &domain.NodeExecutionError{Node: s.node, Cause: fmt.Errorf("cluster %s not found", cluster)}
	}
	var out []engine.HostComments
	for _, n := range s.fc.Nodes {
		if s.fc.Down[n.Address()] {
			return nil, &domain.NodeExecutionError{Node: s.node, Cause: fmt.Errorf("all connection tries failed for %s", n)}
		}
		r, ok := s.fc.state[n.Address()][database+"."+name]
		if !ok {
			continue
		}
		hc := engine.HostComments{Host: n.Host, Present: true, Comment: r.Comment, Columns: map[string]string{}}
		for _, c := range r.Columns {
			hc.Columns[c] = r.Comments[c]
		}
		out = append(out, hc)
	}
	return out, nil
}

func (s *fakeSession) ClusterNodes(_ context.Context, cluster string) ([]domain.Node, error) {
	if cluster != s.fc.Name {
		return nil, nil
	}
	return append([]domain.Node(nil), s.fc.Nodes...), nil
}
