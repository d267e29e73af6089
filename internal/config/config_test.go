package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable LoadFromEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENGINE", "TARGET_HOST", "TARGET_PORT", "TARGET_USER", "TARGET_PASSWORD", "TARGET_DATABASE",
		"CLUSTER", "CLUSTER_CONFIG", "PROPAGATION_MODE", "VERIFY_READER", "PROJECT_FILE",
		"NODE_TIMEOUT", "VERIFY_TIMEOUT", "RETRY_MAX", "RETRY_BASE_DELAY", "FANOUT_CONCURRENCY", "DDL_RATE_LIMIT",
		"CATALOG_SINK", "DRIFT_SCHEDULE", "LISTEN_ADDR", "CORS_ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT", "ENV",
		"S3_KEY_ID", "S3_SECRET", "S3_ENDPOINT", "S3_REGION", "S3_URL_STYLE", "GCS_KEY_FILE", "AZURE_STORAGE_CONNECTION_STRING",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "clickhouse", cfg.Engine)
	assert.Equal(t, "localhost", cfg.TargetHost)
	assert.Equal(t, "default", cfg.TargetDatabase)
	assert.Equal(t, "auto", cfg.PropagationMode)
	assert.Equal(t, "fanout", cfg.VerifyReader)
	assert.Equal(t, "chdocs.yml", cfg.ProjectFile)
	assert.Equal(t, 30*time.Second, cfg.NodeTimeout)
	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 8, cfg.FanoutConcurrency)
	assert.Zero(t, cfg.DDLRateLimit)
	assert.Equal(t, "file://target/catalog.json", cfg.CatalogSink)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.False(t, cfg.Storage.HasS3Config())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_DuckDBDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE", "DuckDB")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "duckdb", cfg.Engine)
	assert.Equal(t, ":memory:", cfg.TargetHost)
	assert.Equal(t, "main", cfg.TargetDatabase)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("TARGET_HOST", "ch-1")
	t.Setenv("TARGET_PORT", "9440")
	t.Setenv("CLUSTER", "company_cluster")
	t.Setenv("PROPAGATION_MODE", "cluster")
	t.Setenv("VERIFY_READER", "Cluster")
	t.Setenv("NODE_TIMEOUT", "5s")
	t.Setenv("RETRY_MAX", "0")
	t.Setenv("DDL_RATE_LIMIT", "2.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("S3_KEY_ID", "key")
	t.Setenv("S3_SECRET", "secret")
	t.Setenv("S3_ENDPOINT", "s3.example.com")
	t.Setenv("S3_REGION", "eu-central-1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9440, cfg.TargetPort)
	assert.Equal(t, "company_cluster", cfg.Cluster)
	assert.Equal(t, "cluster", cfg.VerifyReader)
	assert.Equal(t, 5*time.Second, cfg.NodeTimeout)
	assert.Equal(t, 0, cfg.RetryMax)
	assert.InDelta(t, 2.5, cfg.DDLRateLimit, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Storage.HasS3Config())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadFromEnv_Warnings(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_TIMEOUT", "soon")
	t.Setenv("RETRY_MAX", "-1")
	t.Setenv("DDL_RATE_LIMIT", "fast")
	t.Setenv("FANOUT_CONCURRENCY", "0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.NodeTimeout)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Zero(t, cfg.DDLRateLimit)
	assert.Equal(t, 1, cfg.FanoutConcurrency)
	assert.Len(t, cfg.Warnings, 4)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown_engine", env: map[string]string{"ENGINE": "postgres"}, wantErr: "ENGINE must be"},
		{name: "duckdb_cluster", env: map[string]string{"ENGINE": "duckdb", "CLUSTER": "c"}, wantErr: "not supported with ENGINE=duckdb"},
		{name: "cluster_mode_without_cluster", env: map[string]string{"PROPAGATION_MODE": "cluster"}, wantErr: "requires CLUSTER"},
		{name: "unknown_mode", env: map[string]string{"PROPAGATION_MODE": "broadcast"}, wantErr: "PROPAGATION_MODE must be"},
		{name: "cluster_reader_without_cluster", env: map[string]string{"VERIFY_READER": "cluster"}, wantErr: "VERIFY_READER=cluster requires CLUSTER"},
		{name: "unknown_reader", env: map[string]string{"VERIFY_READER": "gossip"}, wantErr: "VERIFY_READER must be"},
		{name: "production_cors_wildcard", env: map[string]string{"ENV": "production"}, wantErr: "CORS wildcard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "node", "ch-1:9000")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"node":"ch-1:9000"`)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	require.NoError(t, LoadDotEnv("/nonexistent/.env"))
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport CHDOCS_TEST_KEY='test_value'\nnot a pair\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("CHDOCS_TEST_KEY") })

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("CHDOCS_TEST_KEY"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("CHDOCS_TEST_PRECEDENCE", "from_env")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHDOCS_TEST_PRECEDENCE=from_file\n"), 0o644))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("CHDOCS_TEST_PRECEDENCE"))
}
