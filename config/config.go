// Package config loads the settings of the loom tools from YAML and the
// environment.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/asaidimu/go-loom/core/store"
	"github.com/asaidimu/go-loom/memory"
	"github.com/asaidimu/go-loom/redis"
	"github.com/asaidimu/go-loom/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Database  string        `yaml:"database"`   // Default database name
	Backend   BackendConfig `yaml:"backend"`    // Document store
	SchemaDir string        `yaml:"schema_dir"` // Directory of schema descriptors
	Log       LogConfig     `yaml:"log"`
	HTTP      HTTPConfig    `yaml:"http"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// BackendConfig selects and locates the document store.
type BackendConfig struct {
	Kind     string `yaml:"kind"`      // memory, sqlite or redis
	Path     string `yaml:"path"`      // sqlite: directory of database files
	URL      string `yaml:"url"`       // redis: redis://host:port/db
	PoolSize int    `yaml:"pool_size"` // redis: connection pool size
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Serve /metrics on the gateway
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	setDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults. An empty path starts from DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies LOOM_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOOM_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("LOOM_BACKEND"); v != "" {
		cfg.Backend.Kind = v
	}
	if v := os.Getenv("LOOM_BACKEND_PATH"); v != "" {
		cfg.Backend.Path = v
	}
	if v := os.Getenv("LOOM_REDIS_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("LOOM_REDIS_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.PoolSize = n
		}
	}
	if v := os.Getenv("LOOM_SCHEMA_DIR"); v != "" {
		cfg.SchemaDir = v
	}
	if v := os.Getenv("LOOM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOOM_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOOM_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = "loom"
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendMemory
	}
	if cfg.Backend.Kind == BackendSQLite && cfg.Backend.Path == "" {
		cfg.Backend.Path = sqlite.DefaultOptions().Dir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
}

// Validate checks that the configuration can be used.
func (c *Config) Validate() error {
	validBackends := map[string]bool{BackendMemory: true, BackendSQLite: true, BackendRedis: true}
	if !validBackends[c.Backend.Kind] {
		return fmt.Errorf("backend.kind must be one of: memory, sqlite, redis, got %q", c.Backend.Kind)
	}
	if c.Backend.Kind == BackendRedis && c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required when backend.kind is 'redis'")
	}
	if c.Backend.PoolSize < 0 {
		return fmt.Errorf("backend.pool_size must not be negative")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Logger builds a production logger at the configured level, named loom.
func (c *Config) Logger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	config.Level = level
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("loom"), nil
}

// Driver builds the configured store driver. The redis driver owns its
// client and must be closed by the caller; see Close.
func (c *Config) Driver(ctx context.Context, logger *zap.Logger) (store.Driver, error) {
	switch c.Backend.Kind {
	case BackendMemory:
		return memory.NewDriver(logger), nil
	case BackendSQLite:
		return sqlite.NewDriver(sqlite.Options{Dir: c.Backend.Path}, logger), nil
	case BackendRedis:
		client, err := redis.NewClient(ctx, redis.ClientConfig{URL: c.Backend.URL, PoolSize: c.Backend.PoolSize})
		if err != nil {
			return nil, err
		}
		return redis.NewDriver(client, redis.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend.Kind)
}

// Close releases a driver built by Driver, if it holds resources.
func Close(driver store.Driver) error {
	if closer, ok := driver.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
