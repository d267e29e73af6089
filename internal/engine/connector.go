package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/ClickHouse/clickhouse-go/v2" // registers the "clickhouse" driver
	_ "github.com/duckdb/duckdb-go/v2"         // registers the "duckdb" driver

	"chdocs/internal/ddl"
	"chdocs/internal/domain"
)

// SQLConnector keeps one *sql.DB per node address and hands out sessions
// over it. It is safe for concurrent use.
type SQLConnector struct {
	mu      sync.Mutex
	dialect ddl.Dialect
	cfg     ConnConfig
	logger  *slog.Logger

	// pools maps node addresses to their open handles
	pools  map[string]*sql.DB
	closed bool
}

var _ Connector = (*SQLConnector)(nil)

// NewSQLConnector creates a connector for the given dialect.
func NewSQLConnector(d ddl.Dialect, cfg ConnConfig, logger *slog.Logger) *SQLConnector {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	return &SQLConnector{
		dialect: d,
		cfg:     cfg,
		logger:  logger,
		pools:   make(map[string]*sql.DB),
	}
}

// Dialect returns the SQL dialect every session speaks.
func (c *SQLConnector) Dialect() ddl.Dialect { return c.dialect }

// Register attaches an already-open handle for node. The connector takes
// ownership and closes it on Close.
func (c *SQLConnector) Register(node domain.Node, db *sql.DB) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[node.Address()] = db
}

// Connect returns a session for node, opening and pinging a new handle the
// first time the node is seen. A failed ping is a *domain.NodeConnectionError
// and leaves nothing cached.
func (c *SQLConnector) Connect(ctx context.Context, node domain.Node) (Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connector is closed")
	}
	if db, ok := c.pools[node.Address()]; ok {
		c.mu.Unlock()
		return &sqlSession{db: db, node: node, dialect: c.dialect}, nil
	}
	c.mu.Unlock()

	db, err := c.open(ctx, node)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = db.Close()
		return nil, fmt.Errorf("connector is closed")
	}
	// Another caller may have opened the same node concurrently.
	if existing, ok := c.pools[node.Address()]; ok {
		_ = db.Close()
		db = existing
	} else {
		c.pools[node.Address()] = db
	}
	return &sqlSession{db: db, node: node, dialect: c.dialect}, nil
}

func (c *SQLConnector) open(ctx context.Context, node domain.Node) (*sql.DB, error) {
	dsn, err := DSN(c.dialect, node, c.cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName(c.dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", node, err)
	}
	db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.NodeConnectionError{Node: node, Cause: err}
	}
	c.logger.Debug("connected", "node", node.String(), "dialect", string(c.dialect))
	return db, nil
}

// Close closes every pooled handle.
func (c *SQLConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for addr, db := range c.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	c.pools = nil
	return errors.Join(errs...)
}
