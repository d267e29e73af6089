// Package app wires configuration into the propagation service, the drift
// monitor and the HTTP handler.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chdocs/internal/api"
	"chdocs/internal/artifact"
	"chdocs/internal/catalog"
	"chdocs/internal/cluster"
	"chdocs/internal/config"
	"chdocs/internal/ddl"
	"chdocs/internal/dispatch"
	"chdocs/internal/domain"
	"chdocs/internal/engine"
	"chdocs/internal/monitor"
	"chdocs/internal/project"
	"chdocs/internal/service/propagation"
	"chdocs/internal/verify"
)

// driftCheckTimeout bounds one scheduled verification of every model.
const driftCheckTimeout = 5 * time.Minute

// Deps holds what the caller must provide. Connector is optional; when nil
// a SQL connector for cfg.Engine is created and owned by the App.
type Deps struct {
	Cfg       *config.Config
	Connector engine.Connector
	Logger    *slog.Logger
}

// App is the fully wired application.
type App struct {
	Service *propagation.Service
	Monitor *monitor.Monitor // nil when DRIFT_SCHEDULE is unset
	Sink    artifact.Sink

	cfg       *config.Config
	connector engine.Connector
	owned     bool
	logger    *slog.Logger
}

// New wires every component from deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	dialect, err := ddl.ParseDialect(cfg.Engine)
	if err != nil {
		return nil, err
	}
	mode, err := domain.ParsePropagationMode(cfg.PropagationMode)
	if err != nil {
		return nil, err
	}

	// === Project ===
	proj, err := project.Load(cfg.ProjectFile, cfg.TargetDatabase)
	if err != nil {
		return nil, err
	}

	// === Connections ===
	a := &App{cfg: cfg, connector: deps.Connector, logger: logger}
	if a.connector == nil {
		a.connector = engine.NewSQLConnector(dialect, engine.ConnConfig{
			User:        cfg.TargetUser,
			Password:    cfg.TargetPassword,
			Database:    cfg.TargetDatabase,
			DialTimeout: cfg.NodeTimeout,
		}, logger.With("component", "engine"))
		a.owned = true
	}
	local := domain.Node{Host: cfg.TargetHost, Port: cfg.TargetPort}

	// === Topology ===
	resolver, err := newResolver(cfg, dialect, a.connector, local, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// === Core components ===
	dispatcher := dispatch.New(a.connector, dispatch.Options{
		NodeTimeout: cfg.NodeTimeout,
		Concurrency: cfg.FanoutConcurrency,
		Retry: dispatch.RetryPolicy{
			MaxRetries: uint64(max(cfg.RetryMax, 0)), //nolint:gosec // clamped to non-negative
			BaseDelay:  cfg.RetryBaseDelay,
		},
		RateLimit: cfg.DDLRateLimit,
	}, logger.With("component", "dispatcher"))

	var reader verify.Reader
	if cfg.VerifyReader == "cluster" {
		reader = verify.NewClusterViewReader(a.connector, cfg.VerifyTimeout, logger.With("component", "verifier"))
	} else {
		reader = verify.NewFanoutReader(a.connector, cfg.VerifyTimeout, cfg.FanoutConcurrency)
	}
	verifier := verify.New(reader, logger.With("component", "verifier"))
	reporter := catalog.NewReporter(a.connector, logger.With("component", "catalog"))

	// === Catalog sink ===
	a.Sink, err = artifact.Open(ctx, cfg.CatalogSink, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("catalog sink: %w", err)
	}

	a.Service = propagation.NewService(proj, resolver, dispatcher, verifier, reporter, a.Sink,
		propagation.Options{Cluster: cfg.Cluster, Mode: mode, CreateDatabase: true},
		logger.With("component", "propagation"))

	// === Drift monitor ===
	if cfg.DriftSchedule != "" {
		a.Monitor, err = monitor.New(a.Service, cfg.DriftSchedule, driftCheckTimeout, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newResolver(cfg *config.Config, dialect ddl.Dialect, conn engine.Connector, local domain.Node, logger *slog.Logger) (cluster.Resolver, error) {
	static := cluster.NewStaticResolver(local, nil)
	if cfg.ClusterConfig != "" {
		var err error
		if static, err = cluster.LoadFile(cfg.ClusterConfig, local); err != nil {
			return nil, err
		}
	}
	if dialect != ddl.DialectClickHouse {
		return static, nil
	}
	return cluster.NewSystemResolver(conn, local, static, logger.With("component", "resolver")), nil
}

// Handler returns the HTTP surface for the service and, when configured,
// the drift monitor.
func (a *App) Handler() http.Handler {
	var drift api.DriftSource
	if a.Monitor != nil {
		drift = a.Monitor
	}
	return api.NewRouter(api.NewHandler(a.Service, drift, a.logger.With("component", "api")), a.cfg.CORSAllowedOrigins)
}

// Close releases connections the App opened itself.
func (a *App) Close() {
	if !a.owned || a.connector == nil {
		return
	}
	if err := a.connector.Close(); err != nil {
		a.logger.Warn("close connections", "error", err)
	}
}
