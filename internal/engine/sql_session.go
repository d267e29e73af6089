package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chdocs/internal/ddl"
	"chdocs/internal/domain"
)

// sqlSession is a Session backed by a database/sql pool.
type sqlSession struct {
	db      *sql.DB
	node    domain.Node
	dialect ddl.Dialect
}

var _ Session = (*sqlSession)(nil)

func (s *sqlSession) Node() domain.Node    { return s.node }
func (s *sqlSession) Dialect() ddl.Dialect { return s.dialect }

func (s *sqlSession) Exec(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return ClassifyError(s.node, stmt, err)
	}
	return nil
}

func (s *sqlSession) ExecDistributed(ctx context.Context, stmt string) ([]HostStatus, error) {
	if !s.dialect.SupportsOnCluster() {
		return nil, fmt.Errorf("%s does not support distributed DDL", s.dialect)
	}
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, ClassifyError(s.node, stmt, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, ClassifyError(s.node, stmt, err)
	}
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[strings.ToLower(c)] = i
	}

	var out []HostStatus
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return out, ClassifyError(s.node, stmt, err)
		}
		out = append(out, hostStatusFromRow(idx, vals))
	}
	if err := rows.Err(); err != nil {
		return out, ClassifyError(s.node, stmt, err)
	}
	return out, nil
}

// hostStatusFromRow reads the host, port, status and error columns by name;
// the remaining progress columns are ignored.
func hostStatusFromRow(idx map[string]int, vals []any) HostStatus {
	var h HostStatus
	if i, ok := idx["host"]; ok {
		h.Host = asString(vals[i])
	}
	if i, ok := idx["port"]; ok {
		h.Port = int(asInt(vals[i]))
	}
	if i, ok := idx["status"]; ok {
		h.Status = asInt(vals[i])
	}
	if i, ok := idx["error"]; ok {
		h.Error = asString(vals[i])
	}
	return h
}

func (s *sqlSession) DescribeRelation(ctx context.Context, database, name string) (*RelationInfo, error) {
	q := queries[s.dialect]
	args := []any{database, name}
	if s.dialect == ddl.DialectDuckDB {
		args = append(args, database, name)
	}

	var engineName string
	var comment sql.NullString
	err := s.db.QueryRowContext(ctx, q.relation, args...).Scan(&engineName, &comment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("relation %s.%s not found on %s", database, name, s.node)
	}
	if err != nil {
		return nil, ClassifyError(s.node, q.relation, err)
	}

	info := &RelationInfo{
		Database: database,
		Name:     name,
		Kind:     relationKind(engineName),
		Engine:   engineName,
		Comment:  comment.String,
	}

	rows, err := s.db.QueryContext(ctx, q.columns, database, name)
	if err != nil {
		return nil, ClassifyError(s.node, q.columns, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c ColumnInfo
		var pos int64
		var colComment sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &pos, &colComment); err != nil {
			return nil, ClassifyError(s.node, q.columns, err)
		}
		c.Position = int(pos)
		c.Comment = colComment.String
		info.Columns = append(info.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyError(s.node, q.columns, err)
	}
	return info, nil
}

func (s *sqlSession) ClusterComments(ctx context.Context, cluster, database, name string) ([]HostComments, error) {
	if !s.dialect.SupportsOnCluster() {
		return nil, fmt.Errorf("%s has no cluster-wide system views", s.dialect)
	}

	byHost := make(map[string]*HostComments)
	var order []string
	get := func(host string) *HostComments {
		if hc, ok := byHost[host]; ok {
			return hc
		}
		hc := &HostComments{Host: host, Columns: make(map[string]string)}
		byHost[host] = hc
		order = append(order, host)
		return hc
	}

	relQuery := clickhouseClusterRelation(cluster)
	rows, err := s.db.QueryContext(ctx, relQuery, database, name)
	if err != nil {
		return nil, ClassifyError(s.node, relQuery, err)
	}
	for rows.Next() {
		var host, comment string
		if err := rows.Scan(&host, &comment); err != nil {
			rows.Close()
			return nil, ClassifyError(s.node, relQuery, err)
		}
		hc := get(host)
		hc.Present = true
		hc.Comment = comment
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, ClassifyError(s.node, relQuery, err)
	}

	colQuery := clickhouseClusterColumns(cluster)
	rows, err = s.db.QueryContext(ctx, colQuery, database, name)
	if err != nil {
		return nil, ClassifyError(s.node, colQuery, err)
	}
	defer rows.Close()
	for rows.Next() {
		var host, col, comment string
		if err := rows.Scan(&host, &col, &comment); err != nil {
			return nil, ClassifyError(s.node, colQuery, err)
		}
		get(host).Columns[col] = comment
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyError(s.node, colQuery, err)
	}

	out := make([]HostComments, 0, len(order))
	for _, h := range order {
		out = append(out, *byHost[h])
	}
	return out, nil
}

func (s *sqlSession) ClusterNodes(ctx context.Context, cluster string) ([]domain.Node, error) {
	if !s.dialect.SupportsOnCluster() {
		return nil, fmt.Errorf("%s has no cluster configuration", s.dialect)
	}
	rows, err := s.db.QueryContext(ctx, clickhouseClusterNodes, cluster)
	if err != nil {
		return nil, ClassifyError(s.node, clickhouseClusterNodes, err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var n domain.Node
		var port, shard, replica int64
		if err := rows.Scan(&n.Host, &port, &shard, &replica); err != nil {
			return nil, ClassifyError(s.node, clickhouseClusterNodes, err)
		}
		n.Port, n.Shard, n.Replica = int(port), int(shard), int(replica)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyError(s.node, clickhouseClusterNodes, err)
	}
	return nodes, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case uint64:
		return int64(t)
	case uint32:
		return int64(t)
	case uint16:
		return int64(t)
	case uint8:
		return int64(t)
	default:
		n, _ := strconv.ParseInt(asString(v), 10, 64)
		return n
	}
}
