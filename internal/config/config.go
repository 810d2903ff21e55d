// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage and registry backend names.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Inject   InjectConfig   `mapstructure:"inject"`
	Snippet  SnippetConfig  `mapstructure:"snippet"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Registry RegistryConfig `mapstructure:"registry"`
	DB       DBConfig       `mapstructure:"db"`
	Cache    CacheConfig    `mapstructure:"cache"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// BaseURL prefixes view URLs. Empty means derive from the request.
	BaseURL               string `mapstructure:"base_url"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// FetchConfig configures the outbound page fetcher.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// BlockedDomains lists hosts ("example.org") or suffixes ("*.internal")
	// that are never fetched.
	BlockedDomains []string `mapstructure:"blocked_domains"`
	// RateLimitRPS caps fetches per host; <= 0 disables throttling.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// InjectConfig toggles optional markup rewrites.
type InjectConfig struct {
	BaseHref bool `mapstructure:"base_href"`
}

// SnippetConfig overrides the snippet renderer's id pattern and template.
type SnippetConfig struct {
	IDPattern string `mapstructure:"id_pattern"`
	Template  string `mapstructure:"template"`
}

// StorageConfig selects the blob backend and how objects are written.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	GCSBucket   string             `mapstructure:"gcs_bucket"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// RegistryConfig selects the registry backend and its retention cap.
type RegistryConfig struct {
	Backend    string `mapstructure:"backend"`
	MaxEntries int    `mapstructure:"max_entries"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to the Postgres registry.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// CacheConfig controls the in-process serve cache.
type CacheConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TTLSeconds     int  `mapstructure:"ttl_seconds"`
	CleanupSeconds int  `mapstructure:"cleanup_seconds"`
}

// PubSubConfig holds metadata for lifecycle event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIXELPAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Platforms like Cloud Run inject PORT; it wins over everything but an
	// explicit PIXELPAGE_SERVER_PORT.
	if _, ok := os.LookupEnv("PIXELPAGE_SERVER_PORT"); !ok {
		if raw, ok := os.LookupEnv("PORT"); ok {
			port, err := strconv.Atoi(raw)
			if err != nil {
				return Config{}, fmt.Errorf("parse PORT %q: %w", raw, err)
			}
			cfg.Server.Port = port
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.user_agent", "pixelpage/0.1")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.blocked_domains", []string{})
	v.SetDefault("fetch.rate_limit_rps", 0)
	v.SetDefault("fetch.rate_limit_burst", 1)
	v.SetDefault("inject.base_href", false)
	v.SetDefault("snippet.id_pattern", "")
	v.SetDefault("snippet.template", "")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("registry.backend", BackendMemory)
	v.SetDefault("registry.max_entries", 100)
	v.SetDefault("registry.sqlite_path", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "artifacts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.cleanup_seconds", 600)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.base_url must be an absolute http(s) URL")
		}
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Fetch.RateLimitRPS > 0 && c.Fetch.RateLimitBurst <= 0 {
		return fmt.Errorf("fetch.rate_limit_burst must be > 0 when rate limiting is enabled")
	}
	if c.Registry.MaxEntries < 0 {
		return fmt.Errorf("registry.max_entries must be >= 0")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Registry.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Registry.SQLitePath == "" {
			return fmt.Errorf("registry.sqlite_path must be set when registry.backend is sqlite")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when registry.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown registry.backend %q", c.Registry.Backend)
	}
	// The registry may only list ids the store still holds after a restart.
	if (c.Storage.Backend == BackendMemory) != (c.Registry.Backend == BackendMemory) {
		return fmt.Errorf("storage.backend %q and registry.backend %q must both be memory or both be durable",
			c.Storage.Backend, c.Registry.Backend)
	}

	if c.Cache.Enabled && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0 when the cache is enabled")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in 0..1")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequestTimeout returns the per-request handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// FetchTimeout returns the outbound fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// CacheTTL returns the serve cache expiry.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CacheCleanup returns the serve cache janitor interval.
func (c Config) CacheCleanup() time.Duration {
	return time.Duration(c.Cache.CleanupSeconds) * time.Second
}
