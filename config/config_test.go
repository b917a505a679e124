package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchasedash/internal/storage"
)

var overrideKeys = []string{
	"PORT", "PURCHASEDASH_MASTER_KEY", "SWAGGER_ENABLED", "STORAGE_TYPE", "SQLITE_PATH",
	"POSTGRES_URL", "POSTGRES_MAX_CONNS", "MONGODB_URL", "MONGODB_DATABASE",
	"METRICS_ENABLED", "METRICS_ENDPOINT", "LOG_LEVEL", "LOG_FORMAT",
	"ANALYTICS_DEFAULT_MONTHS", "ANALYTICS_MAX_MONTHS", "ANALYTICS_CACHE_TTL", "ANALYTICS_CACHE_MAX_ENTRIES",
}

// clearOverrides blanks every override so the host environment cannot leak in.
func clearOverrides(t *testing.T) {
	t.Helper()
	for _, k := range overrideKeys {
		t.Setenv(k, "")
	}
}

func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{"empty string", "", nil, ""},
		{"no placeholders", "plain", nil, "plain"},
		{"simple", "${DASH_KEY}", map[string]string{"DASH_KEY": "k1"}, "k1"},
		{"embedded", "pre-${DASH_KEY}-post", map[string]string{"DASH_KEY": "k1"}, "pre-k1-post"},
		{"default when missing", "${DASH_PORT:-9999}", nil, "9999"},
		{"default when empty", "${DASH_PORT:-9999}", map[string]string{"DASH_PORT": ""}, "9999"},
		{"env beats default", "${DASH_PORT:-9999}", map[string]string{"DASH_PORT": "7000"}, "7000"},
		{"default with colon", "${DASH_URL:-http://localhost:8080}", nil, "http://localhost:8080"},
		{"empty default", "${DASH_OPTIONAL:-}", nil, ""},
		{"unresolved kept", "${DASH_MISSING}", nil, "${DASH_MISSING}"},
		{"partial", "${DASH_A}-${DASH_B}", map[string]string{"DASH_A": "a"}, "a-${DASH_B}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"DASH_KEY", "DASH_PORT", "DASH_URL", "DASH_OPTIONAL", "DASH_MISSING", "DASH_A", "DASH_B"} {
				t.Setenv(k, "")
				require.NoError(t, os.Unsetenv(k))
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandString(tt.input))
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "server",
			envVars: map[string]string{"PORT": "3000", "PURCHASEDASH_MASTER_KEY": "secret", "SWAGGER_ENABLED": "false"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "3000", cfg.Server.Port)
				assert.Equal(t, "secret", cfg.Server.MasterKey)
				assert.False(t, cfg.Server.SwaggerEnabled)
			},
		},
		{
			name:    "storage",
			envVars: map[string]string{"STORAGE_TYPE": "postgresql", "POSTGRES_URL": "postgres://localhost/test", "POSTGRES_MAX_CONNS": "20"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgresql", cfg.Storage.Type)
				assert.Equal(t, "postgres://localhost/test", cfg.Storage.PostgreSQL.URL)
				assert.Equal(t, 20, cfg.Storage.PostgreSQL.MaxConns)
			},
		},
		{
			name:    "mongodb",
			envVars: map[string]string{"MONGODB_URL": "mongodb://db:27017", "MONGODB_DATABASE": "dash"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "mongodb://db:27017", cfg.Storage.MongoDB.URL)
				assert.Equal(t, "dash", cfg.Storage.MongoDB.Database)
			},
		},
		{
			name: "analytics",
			envVars: map[string]string{
				"ANALYTICS_DEFAULT_MONTHS":    "12",
				"ANALYTICS_MAX_MONTHS":        "24",
				"ANALYTICS_CACHE_TTL":         "15m",
				"ANALYTICS_CACHE_MAX_ENTRIES": "500",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 12, cfg.Analytics.DefaultMonths)
				assert.Equal(t, 24, cfg.Analytics.MaxMonths)
				assert.Equal(t, 15*time.Minute, cfg.Analytics.CacheTTL)
				assert.Equal(t, 500, cfg.Analytics.CacheMaxEntries)
			},
		},
		{
			name:    "metrics and logging",
			envVars: map[string]string{"METRICS_ENABLED": "0", "METRICS_ENDPOINT": "/m", "LOG_LEVEL": "debug", "LOG_FORMAT": "json"},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Metrics.Enabled)
				assert.Equal(t, "/m", cfg.Metrics.Endpoint)
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "json", cfg.Log.Format)
			},
		},
		{
			name:    "no env vars preserves defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "8080", cfg.Server.Port)
				assert.Equal(t, storage.TypeSQLite, cfg.Storage.Type)
				assert.Equal(t, 6, cfg.Analytics.DefaultMonths)
				assert.Zero(t, cfg.Analytics.CacheTTL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearOverrides(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := buildDefaultConfig()
			require.NoError(t, applyEnvOverrides(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	clearOverrides(t)
	t.Setenv("POSTGRES_MAX_CONNS", "many")
	t.Setenv("METRICS_ENABLED", "sometimes")
	t.Setenv("ANALYTICS_CACHE_TTL", "soon")

	err := applyEnvOverrides(buildDefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_MAX_CONNS")
	assert.Contains(t, err.Error(), "METRICS_ENABLED")
	assert.Contains(t, err.Error(), "ANALYTICS_CACHE_TTL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"empty port", func(c *Config) { c.Server.Port = " " }, "server.port"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"postgres without url", func(c *Config) { c.Storage.Type = storage.TypePostgreSQL }, "storage.postgresql.url"},
		{"mongo without url", func(c *Config) { c.Storage.Type = storage.TypeMongoDB }, "storage.mongodb.url"},
		{"metrics endpoint", func(c *Config) { c.Metrics.Endpoint = "metrics" }, "metrics.endpoint"},
		{"disabled metrics skip endpoint", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.Endpoint = "" }, ""},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero default months", func(c *Config) { c.Analytics.DefaultMonths = 0 }, "analytics.default_months"},
		{"default above max", func(c *Config) { c.Analytics.DefaultMonths = 13; c.Analytics.MaxMonths = 12 }, "analytics.default_months"},
		{"zero max months", func(c *Config) { c.Analytics.MaxMonths = 0 }, "analytics.max_months"},
		{"negative ttl", func(c *Config) { c.Analytics.CacheTTL = -time.Second }, "analytics.cache_ttl"},
		{"negative max entries", func(c *Config) { c.Analytics.CacheMaxEntries = -1 }, "analytics.cache_max_entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_YAMLWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "${DASH_TEST_PORT:-9999}"
storage:
  type: sqlite
  sqlite:
    path: /tmp/dash.db
analytics:
  default_months: 3
  max_months: 36
  cache_ttl: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	clearOverrides(t)
	t.Setenv("DASH_TEST_PORT", "")
	t.Setenv("ANALYTICS_MAX_MONTHS", "48")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "/tmp/dash.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 3, cfg.Analytics.DefaultMonths)
	assert.Equal(t, 48, cfg.Analytics.MaxMonths, "environment overrides the file")
	assert.Equal(t, 10*time.Minute, cfg.Analytics.CacheTTL)
	assert.True(t, cfg.Metrics.Enabled, "sections absent from the file keep defaults")
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: postgresql\n"), 0o644))
	clearOverrides(t)

	_, err := Load(path)
	assert.ErrorContains(t, err, "storage.postgresql.url")
}

func TestStorageConfigBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = storage.TypeMongoDB
	cfg.Storage.MongoDB.URL = "mongodb://localhost:27017"

	got := cfg.Storage.Backend()
	assert.Equal(t, storage.TypeMongoDB, got.Type)
	assert.Equal(t, "mongodb://localhost:27017", got.MongoDB.URL)
	assert.Equal(t, "purchasedash", got.MongoDB.Database)
	assert.Equal(t, "data/purchasedash.db", got.SQLite.Path)
}
