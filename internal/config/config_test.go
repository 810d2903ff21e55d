package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Registry.Backend != BackendMemory {
		t.Fatalf("expected memory backends, got %q/%q", cfg.Storage.Backend, cfg.Registry.Backend)
	}
	if cfg.Storage.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", cfg.Storage.ContentType)
	}
	if cfg.Registry.MaxEntries != 100 {
		t.Fatalf("expected max entries 100, got %d", cfg.Registry.MaxEntries)
	}
	if !cfg.Cache.Enabled || cfg.CacheTTL() != time.Hour || cfg.CacheCleanup() != 10*time.Minute {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.FetchTimeout() != 10*time.Second {
		t.Fatalf("expected fetch timeout 10s, got %v", cfg.FetchTimeout())
	}
	if cfg.RequestTimeout() != time.Minute {
		t.Fatalf("expected request timeout 60s, got %v", cfg.RequestTimeout())
	}
	if cfg.Fetch.MaxBodyBytes != 10<<20 {
		t.Fatalf("expected 10MiB body cap, got %d", cfg.Fetch.MaxBodyBytes)
	}
	if cfg.Tracing.Enabled || cfg.Tracing.Exporter != "none" || cfg.Tracing.SampleRate != 1 {
		t.Fatalf("unexpected tracing defaults: %+v", cfg.Tracing)
	}
	if cfg.DB.Table != "artifacts" || cfg.DB.MaxConnLifetime != time.Hour {
		t.Fatalf("unexpected db defaults: %+v", cfg.DB)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  base_url: https://pages.example.com
  request_timeout_seconds: 30
fetch:
  timeout_seconds: 5
  user_agent: test-agent
  max_body_bytes: 2048
  respect_robots: true
  blocked_domains: ["*.internal", "localhost"]
  rate_limit_rps: 2.5
  rate_limit_burst: 3
inject:
  base_href: true
snippet:
  id_pattern: "^[0-9]+$"
storage:
  backend: local
  prefix: artifacts
  content_type: text/html
  local:
    base_dir: /tmp/pages
registry:
  backend: sqlite
  max_entries: 5
  sqlite_path: /tmp/pixelpage.db
db:
  max_conn_lifetime: 30m
cache:
  enabled: false
pubsub:
  project_id: proj
  topic_name: artifacts
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.BaseURL != "https://pages.example.com" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.FetchTimeout() != 5*time.Second || !cfg.Fetch.RespectRobots || cfg.Fetch.UserAgent != "test-agent" {
		t.Fatalf("expected fetch overrides, got %+v", cfg.Fetch)
	}
	if len(cfg.Fetch.BlockedDomains) != 2 || cfg.Fetch.RateLimitRPS != 2.5 || cfg.Fetch.RateLimitBurst != 3 {
		t.Fatalf("expected fetch policy overrides, got %+v", cfg.Fetch)
	}
	if !cfg.Inject.BaseHref || cfg.Snippet.IDPattern != "^[0-9]+$" {
		t.Fatalf("expected inject/snippet overrides")
	}
	if cfg.Storage.Backend != BackendLocal || cfg.Storage.Local.BaseDir != "/tmp/pages" {
		t.Fatalf("expected local storage, got %+v", cfg.Storage)
	}
	if cfg.Registry.Backend != BackendSQLite || cfg.Registry.MaxEntries != 5 {
		t.Fatalf("expected sqlite registry, got %+v", cfg.Registry)
	}
	if cfg.DB.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("expected 30m lifetime, got %v", cfg.DB.MaxConnLifetime)
	}
	if cfg.Cache.Enabled || cfg.Logging.Development {
		t.Fatalf("expected cache and development logging disabled")
	}
	if cfg.PubSub.TopicName != "artifacts" {
		t.Fatalf("expected pubsub topic, got %q", cfg.PubSub.TopicName)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PIXELPAGE_REGISTRY_MAX_ENTRIES", "7")
	t.Setenv("PIXELPAGE_SERVER_BASE_URL", "http://localhost:9000")
	t.Setenv("PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Registry.MaxEntries != 7 {
		t.Fatalf("expected max entries 7, got %d", cfg.Registry.MaxEntries)
	}
	if cfg.Server.BaseURL != "http://localhost:9000" {
		t.Fatalf("expected base url from env, got %q", cfg.Server.BaseURL)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected PORT to apply, got %d", cfg.Server.Port)
	}
}

func TestLoadExplicitPortBeatsPORT(t *testing.T) {
	t.Setenv("PIXELPAGE_SERVER_PORT", "7000")
	t.Setenv("PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected port 7000, got %d", cfg.Server.Port)
	}
}

func TestLoadInvalidPORT(t *testing.T) {
	t.Setenv("PORT", "http")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Fatalf("expected PORT parse error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		Fetch:    FetchConfig{TimeoutSeconds: 10, MaxBodyBytes: 1024},
		Storage:  StorageConfig{Backend: BackendMemory},
		Registry: RegistryConfig{Backend: BackendMemory, MaxEntries: 100},
		Cache:    CacheConfig{Enabled: true, TTLSeconds: 60},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, want: "server.port"},
		{
			name:   "invalid request timeout",
			mutate: func(c *Config) { c.Server.RequestTimeoutSeconds = 0 },
			want:   "server.request_timeout_seconds",
		},
		{name: "relative base url", mutate: func(c *Config) { c.Server.BaseURL = "/pages" }, want: "server.base_url"},
		{name: "invalid fetch timeout", mutate: func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, want: "fetch.timeout_seconds"},
		{name: "invalid body cap", mutate: func(c *Config) { c.Fetch.MaxBodyBytes = 0 }, want: "fetch.max_body_bytes"},
		{
			name:   "rate limit without burst",
			mutate: func(c *Config) { c.Fetch.RateLimitRPS = 1 },
			want:   "fetch.rate_limit_burst",
		},
		{name: "negative retention", mutate: func(c *Config) { c.Registry.MaxEntries = -1 }, want: "registry.max_entries"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = BackendLocal }, want: "storage.local.base_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs_bucket"},
		{name: "unknown registry", mutate: func(c *Config) { c.Registry.Backend = "redis" }, want: "registry.backend"},
		{
			name:   "sqlite without path",
			mutate: func(c *Config) { c.Registry.Backend = BackendSQLite },
			want:   "registry.sqlite_path",
		},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Registry.Backend = BackendPostgres }, want: "db.dsn"},
		{
			name: "durable registry over memory store",
			mutate: func(c *Config) {
				c.Registry.Backend = BackendSQLite
				c.Registry.SQLitePath = "/tmp/registry.db"
			},
			want: "must both be memory or both be durable",
		},
		{
			name: "durable store with memory registry",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendLocal
				c.Storage.Local.BaseDir = "/tmp/pages"
			},
			want: "must both be memory or both be durable",
		},
		{name: "cache without ttl", mutate: func(c *Config) { c.Cache.TTLSeconds = 0 }, want: "cache.ttl_seconds"},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }, want: "tracing.exporter"},
		{name: "sample rate", mutate: func(c *Config) { c.Tracing.SampleRate = 2 }, want: "tracing.sample_rate"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
