package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chdocs/internal/ddl"
	"chdocs/internal/domain"
)

// DefaultClickHousePort is the native protocol port.
const DefaultClickHousePort = 9000

// ConnConfig holds the credentials and limits shared by every node.
type ConnConfig struct {
	User         string
	Password     string
	Database     string
	DialTimeout  time.Duration
	MaxOpenConns int
	// Params are appended to ClickHouse DSNs verbatim (e.g. secure=true).
	Params map[string]string
}

// catalogQueries are the dialect-specific statements a session reads with.
type catalogQueries struct {
	relation string // args: database, name
	columns  string // args: database, name
}

var queries = map[ddl.Dialect]catalogQueries{
	ddl.DialectClickHouse: {
		relation: `SELECT engine, comment FROM system.tables WHERE database = ? AND name = ?`,
		columns: `SELECT name, type, toInt64(position), comment FROM system.columns ` +
			`WHERE database = ? AND table = ? ORDER BY position`,
	},
	ddl.DialectDuckDB: {
		relation: `SELECT 'BASE TABLE' AS engine, comment FROM duckdb_tables() WHERE schema_name = ? AND table_name = ? ` +
			`UNION ALL SELECT 'View' AS engine, comment FROM duckdb_views() WHERE schema_name = ? AND view_name = ?`,
		columns: `SELECT column_name, data_type, column_index, comment FROM duckdb_columns() ` +
			`WHERE schema_name = ? AND table_name = ? ORDER BY column_index`,
	},
}

const clickhouseClusterNodes = `SELECT host_name, toInt64(port), toInt64(shard_num), toInt64(replica_num) ` +
	`FROM system.clusters WHERE cluster = ? ORDER BY shard_num, replica_num`

// clusterHost names the replica answering a clusterAllReplicas query by its
// configured system.clusters host_name, the address the topology holds.
// hostName() is only the fallback, since it is the server's OS hostname.
func clusterHost(cluster string) string {
	return fmt.Sprintf(`coalesce(nullIf((SELECT any(host_name) FROM system.clusters WHERE cluster = %s AND is_local), ''), hostName())`,
		ddl.DialectClickHouse.QuoteLiteral(cluster))
}

// The per-replica select runs inside view() so the host lookup is evaluated
// on each replica rather than on the initiator. clusterAllReplicas takes the
// cluster name as a literal, not a bound parameter.
func clickhouseClusterRelation(cluster string) string {
	lit := ddl.DialectClickHouse.QuoteLiteral(cluster)
	return fmt.Sprintf(`SELECT host, comment FROM clusterAllReplicas(%s, view(`+
		`SELECT %s AS host, comment FROM system.tables WHERE database = ? AND name = ?))`, lit, clusterHost(cluster))
}

func clickhouseClusterColumns(cluster string) string {
	lit := ddl.DialectClickHouse.QuoteLiteral(cluster)
	return fmt.Sprintf(`SELECT host, name, comment FROM clusterAllReplicas(%s, view(`+
		`SELECT %s AS host, name, comment FROM system.columns WHERE database = ? AND table = ?))`, lit, clusterHost(cluster))
}

// DSN builds the driver data source name for node.
func DSN(d ddl.Dialect, node domain.Node, cfg ConnConfig) (string, error) {
	switch d {
	case ddl.DialectClickHouse:
		port := node.Port
		if port == 0 {
			port = DefaultClickHousePort
		}
		u := url.URL{
			Scheme: "clickhouse",
			Host:   node.Host + ":" + strconv.Itoa(port),
			Path:   "/" + cfg.Database,
		}
		if cfg.User != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		}
		q := url.Values{}
		if cfg.DialTimeout > 0 {
			q.Set("dial_timeout", cfg.DialTimeout.String())
		}
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case ddl.DialectDuckDB:
		// Host is a database file path; ":memory:" (optionally suffixed) is in-memory.
		if node.Host == "" || strings.HasPrefix(node.Host, ":memory:") {
			return "", nil
		}
		return node.Host, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", d)
	}
}

func driverName(d ddl.Dialect) string {
	if d == ddl.DialectDuckDB {
		return "duckdb"
	}
	return "clickhouse"
}

func relationKind(engine string) string {
	if strings.EqualFold(engine, "View") || strings.EqualFold(engine, "MaterializedView") {
		return "view"
	}
	return "table"
}
