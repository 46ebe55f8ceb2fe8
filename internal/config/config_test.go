package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "FRONTEND_URL", "DATABASE_URL", "REDIS_URL", "OPENAI_API_KEY", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":3001" || cfg.Storage.Driver != "sqlite" || cfg.Cache.Backend != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Enrichment.CacheTTL != time.Hour {
		t.Fatalf("expected 1h cache ttl, got %v", cfg.Enrichment.CacheTTL)
	}
	if cfg.Classifier.RemoteEnabled() {
		t.Fatalf("remote classifier should be disabled without a key")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "signalwatch.yaml", `
log_level: debug
api:
  addr: ":9000"
storage:
  driver: memory
cache:
  backend: none
classifier:
  api_key: sk-test
  timeout: 3s
enrichment:
  workers: 2
  cache_ttl: 10m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9000" || cfg.Storage.Driver != "memory" || cfg.Cache.Backend != "none" {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.Classifier.Timeout != 3*time.Second || !cfg.Classifier.RemoteEnabled() {
		t.Fatalf("classifier not applied: %+v", cfg.Classifier)
	}
	if cfg.Classifier.Model != "gpt-3.5-turbo" || cfg.Classifier.MaxTokens != 300 {
		t.Fatalf("classifier defaults lost: %+v", cfg.Classifier)
	}
	if cfg.Enrichment.Workers != 2 || cfg.Enrichment.CacheTTL != 10*time.Minute || cfg.Enrichment.QueueSize != 1000 {
		t.Fatalf("enrichment not applied: %+v", cfg.Enrichment)
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "signalwatch.json", `{"storage":{"driver":"memory"},"cache":{"backend":"memory"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("json not applied: %+v", cfg.Storage)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		"PORT":           "8080",
		"DATABASE_URL":   "postgres://u:p@db:5432/signalwatch",
		"REDIS_URL":      "redis://cache:6379/0",
		"OPENAI_API_KEY": "sk-x",
		"FRONTEND_URL":   "https://ui.example",
	}
	applyEnv(cfg, func(k string) string { return env[k] })
	if cfg.API.Addr != ":8080" {
		t.Fatalf("PORT not applied: %s", cfg.API.Addr)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != env["DATABASE_URL"] {
		t.Fatalf("DATABASE_URL not applied: %+v", cfg.Storage)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.URL != env["REDIS_URL"] {
		t.Fatalf("REDIS_URL not applied: %+v", cfg.Cache)
	}
	if cfg.Classifier.APIKey != "sk-x" || cfg.API.FrontendURL != "https://ui.example" {
		t.Fatalf("remaining env not applied")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"temperature", func(c *Config) { c.Classifier.Temperature = 3 }},
		{"kafka", func(c *Config) { c.Ingest.Kafka.Enabled = true }},
		{"file tail", func(c *Config) { c.Ingest.FileTail.Enabled = true }},
		{"redis", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Addr = "" }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestManagerReload(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "signalwatch.yaml", "log_level: info\nstorage:\n  driver: memory\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("unexpected level %s", m.Get().LogLevel)
	}
	if err := os.WriteFile(path, []byte("log_level: debug\nstorage:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "debug" || m.Get().LogLevel != "debug" {
		t.Fatalf("reload not applied")
	}
	static := NewStaticManager(DefaultConfig())
	if needs, err := static.NeedsReload(); needs || err != nil {
		t.Fatalf("static manager should never reload")
	}
}
