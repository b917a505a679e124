// Package config loads the service configuration from defaults, an optional
// YAML file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"purchasedash/internal/storage"
)

// DefaultPath is the YAML file read when Load is given an empty path.
const DefaultPath = "config/config.yaml"

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey protects /api/v1 with bearer auth. Empty disables authentication.
	MasterKey      string `yaml:"master_key"`
	SwaggerEnabled bool   `yaml:"swagger_enabled"`
	// BodyLimit caps request bodies, e.g. "2M".
	BodyLimit string `yaml:"body_limit"`
}

// StorageConfig mirrors storage.Config with YAML tags.
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AnalyticsConfig tunes the series engines.
type AnalyticsConfig struct {
	// DefaultMonths is used when a request omits the window length.
	DefaultMonths int `yaml:"default_months"`
	// MaxMonths caps the window length a request may ask for.
	MaxMonths int `yaml:"max_months"`
	// CacheTTL expires cached series. Zero keeps them for the process lifetime.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// CacheMaxEntries bounds each collection's cache. Zero means unbounded.
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// Backend converts the section to storage.Config.
func (c StorageConfig) Backend() storage.Config {
	return storage.Config{
		Type:       c.Type,
		SQLite:     storage.SQLiteConfig{Path: c.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: c.PostgreSQL.URL, MaxConns: c.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: c.MongoDB.URL, Database: c.MongoDB.Database},
	}
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return buildDefaultConfig()
}

func buildDefaultConfig() *Config {
	st := storage.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			SwaggerEnabled: true,
			BodyLimit:      "2M",
		},
		Storage: StorageConfig{
			Type:       st.Type,
			SQLite:     SQLiteConfig{Path: st.SQLite.Path},
			PostgreSQL: PostgreSQLConfig{MaxConns: st.PostgreSQL.MaxConns},
			MongoDB:    MongoDBConfig{Database: st.MongoDB.Database},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Analytics: AnalyticsConfig{
			DefaultMonths: 6,
			MaxMonths:     120,
		},
	}
}

// Load builds the configuration. An empty path reads DefaultPath if it exists;
// an explicit path must exist. A .env file in the working directory is loaded
// into the environment first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := loadYAML(cfg, path, explicit); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset or
// empty takes the default; without a default the placeholder is left untouched.
func expandString(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]

		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return m
	})
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	var errs []error
	setInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}
	setDuration := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	setString("PORT", &cfg.Server.Port)
	setString("PURCHASEDASH_MASTER_KEY", &cfg.Server.MasterKey)
	setBool("SWAGGER_ENABLED", &cfg.Server.SwaggerEnabled)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	setInt("ANALYTICS_DEFAULT_MONTHS", &cfg.Analytics.DefaultMonths)
	setInt("ANALYTICS_MAX_MONTHS", &cfg.Analytics.MaxMonths)
	setDuration("ANALYTICS_CACHE_TTL", &cfg.Analytics.CacheTTL)
	setInt("ANALYTICS_CACHE_MAX_ENTRIES", &cfg.Analytics.CacheMaxEntries)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.Storage.Type {
	case storage.TypeSQLite:
	case storage.TypePostgreSQL:
		if c.Storage.PostgreSQL.URL == "" {
			errs = append(errs, errors.New("storage.postgresql.url is required for postgresql storage"))
		}
	case storage.TypeMongoDB:
		if c.Storage.MongoDB.URL == "" {
			errs = append(errs, errors.New("storage.mongodb.url is required for mongodb storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not one of sqlite, postgresql, mongodb", c.Storage.Type))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("metrics.endpoint %q must start with /", c.Metrics.Endpoint))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of auto, json, pretty", c.Log.Format))
	}

	a := c.Analytics
	if a.MaxMonths < 1 {
		errs = append(errs, errors.New("analytics.max_months must be at least 1"))
	}
	if a.DefaultMonths < 1 || (a.MaxMonths >= 1 && a.DefaultMonths > a.MaxMonths) {
		errs = append(errs, fmt.Errorf("analytics.default_months must be between 1 and %d", a.MaxMonths))
	}
	if a.CacheTTL < 0 {
		errs = append(errs, errors.New("analytics.cache_ttl must not be negative"))
	}
	if a.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("analytics.cache_max_entries must not be negative"))
	}

	return errors.Join(errs...)
}
