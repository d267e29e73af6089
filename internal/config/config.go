// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageConfig holds credentials for the remote catalog sinks. Every field
// is optional; a sink fails at write time when its credentials are missing.
type StorageConfig struct {
	// S3 fields are nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3URLStyle string // "path" (default) or "vhost"

	GCSKeyFile string // service account JSON file

	AzureConnectionString string
}

// HasS3Config returns true if all required S3 fields are set.
func (s *StorageConfig) HasS3Config() bool {
	return s.S3KeyID != nil && s.S3Secret != nil &&
		s.S3Endpoint != nil && s.S3Region != nil
}

// Config holds the configuration for propagation, verification and the
// read-only HTTP surface.
type Config struct {
	Engine         string // clickhouse (default) or duckdb
	TargetHost     string // single-node host, or the DuckDB database file
	TargetPort     int
	TargetUser     string
	TargetPassword string
	TargetDatabase string // default "default"

	Cluster         string // empty = single node
	ClusterConfig   string // optional YAML topology file
	PropagationMode string // auto (default), cluster or fanout
	ProjectFile     string // model manifest (default "chdocs.yml")

	NodeTimeout       time.Duration // per-node DDL budget (default 30s)
	VerifyTimeout     time.Duration // per-node verification budget (default 10s)
	VerifyReader      string        // fanout (default) or cluster
	RetryMax          int           // retries of retryable statements (default 3)
	RetryBaseDelay    time.Duration // first backoff step (default 200ms)
	FanoutConcurrency int           // parallel nodes (default 8)
	DDLRateLimit      float64       // statements per second, 0 = unlimited

	CatalogSink   string // artifact destination (default file://target/catalog.json)
	DriftSchedule string // cron expression for drift checks, empty disables them

	ListenAddr         string   // HTTP listen address (default ":8080")
	CORSAllowedOrigins []string // default ["*"]
	LogLevel           string   // debug, info, warn, error (default "info")
	LogFormat          string   // text (default) or json
	Env                string   // "development" (default) or "production"

	Storage StorageConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the root logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numeric or duration values keep their default and add a warning.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Engine:          strings.ToLower(os.Getenv("ENGINE")),
		TargetHost:      os.Getenv("TARGET_HOST"),
		TargetUser:      os.Getenv("TARGET_USER"),
		TargetPassword:  os.Getenv("TARGET_PASSWORD"),
		TargetDatabase:  os.Getenv("TARGET_DATABASE"),
		Cluster:         os.Getenv("CLUSTER"),
		ClusterConfig:   os.Getenv("CLUSTER_CONFIG"),
		PropagationMode: strings.ToLower(os.Getenv("PROPAGATION_MODE")),
		VerifyReader:    strings.ToLower(os.Getenv("VERIFY_READER")),
		ProjectFile:     os.Getenv("PROJECT_FILE"),
		CatalogSink:     os.Getenv("CATALOG_SINK"),
		DriftSchedule:   os.Getenv("DRIFT_SCHEDULE"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		LogFormat:       os.Getenv("LOG_FORMAT"),
		Env:             os.Getenv("ENV"),
	}

	cfg.TargetPort = cfg.intEnv("TARGET_PORT", 0)
	cfg.NodeTimeout = cfg.durationEnv("NODE_TIMEOUT", 30*time.Second)
	cfg.VerifyTimeout = cfg.durationEnv("VERIFY_TIMEOUT", 10*time.Second)
	cfg.RetryMax = cfg.intEnv("RETRY_MAX", 3)
	cfg.RetryBaseDelay = cfg.durationEnv("RETRY_BASE_DELAY", 200*time.Millisecond)
	cfg.FanoutConcurrency = cfg.intEnv("FANOUT_CONCURRENCY", 8)
	if v := os.Getenv("DDL_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("DDL_RATE_LIMIT %q is not a non-negative number; rate limiting disabled", v))
		} else {
			cfg.DDLRateLimit = f
		}
	}

	// S3 fields are optional, only set if present
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.Storage.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.Storage.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.S3Region = &v
	}
	cfg.Storage.S3URLStyle = os.Getenv("S3_URL_STYLE")
	cfg.Storage.GCSKeyFile = os.Getenv("GCS_KEY_FILE")
	cfg.Storage.AzureConnectionString = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.Engine == "" {
		cfg.Engine = "clickhouse"
	}
	if cfg.Engine != "clickhouse" && cfg.Engine != "duckdb" {
		return nil, fmt.Errorf("ENGINE must be clickhouse or duckdb, got %q", cfg.Engine)
	}
	if cfg.TargetHost == "" {
		if cfg.Engine == "duckdb" {
			cfg.TargetHost = ":memory:"
		} else {
			cfg.TargetHost = "localhost"
		}
	}
	if cfg.TargetDatabase == "" {
		if cfg.Engine == "duckdb" {
			cfg.TargetDatabase = "main"
		} else {
			cfg.TargetDatabase = "default"
		}
	}
	if cfg.PropagationMode == "" {
		cfg.PropagationMode = "auto"
	}
	if cfg.VerifyReader == "" {
		cfg.VerifyReader = "fanout"
	}
	if cfg.ProjectFile == "" {
		cfg.ProjectFile = "chdocs.yml"
	}
	if cfg.CatalogSink == "" {
		cfg.CatalogSink = "file://target/catalog.json"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.FanoutConcurrency < 1 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("FANOUT_CONCURRENCY %d is below 1; using 1", cfg.FanoutConcurrency))
		cfg.FanoutConcurrency = 1
	}
	if cfg.Engine == "duckdb" && cfg.Cluster != "" {
		return nil, fmt.Errorf("CLUSTER is not supported with ENGINE=duckdb")
	}
	switch cfg.PropagationMode {
	case "auto", "fanout":
	case "cluster":
		if cfg.Cluster == "" {
			return nil, fmt.Errorf("PROPAGATION_MODE=cluster requires CLUSTER")
		}
	default:
		return nil, fmt.Errorf("PROPAGATION_MODE must be auto, cluster or fanout, got %q", cfg.PropagationMode)
	}
	switch cfg.VerifyReader {
	case "fanout":
	case "cluster":
		if cfg.Cluster == "" {
			return nil, fmt.Errorf("VERIFY_READER=cluster requires CLUSTER")
		}
	default:
		return nil, fmt.Errorf("VERIFY_READER must be fanout or cluster, got %q", cfg.VerifyReader)
	}

	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s %q is not a non-negative integer; using %d", key, v, def))
		return def
	}
	return n
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s %q is not a positive duration; using %s", key, v, def))
		return def
	}
	return d
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
