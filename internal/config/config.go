package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Enrichment EnrichmentConfig `json:"enrichment" yaml:"enrichment"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
}

type APIConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	FrontendURL  string        `json:"frontend_url" yaml:"frontend_url"`
	MaxBodyBytes int64         `json:"max_body_bytes" yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type CacheConfig struct {
	Backend  string `json:"backend" yaml:"backend"`
	Addr     string `json:"addr" yaml:"addr"`
	URL      string `json:"url" yaml:"url"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ClassifierConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model" yaml:"model"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	Breaker     BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

type EnrichmentConfig struct {
	Workers   int           `json:"workers" yaml:"workers"`
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

type IngestConfig struct {
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	FileTail FileTailConfig `json:"file_tail" yaml:"file_tail"`
}

// FileTailConfig follows newline-delimited JSON event files.
type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Files      []string `json:"files" yaml:"files"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// RemoteEnabled reports whether a remote classifier endpoint is configured.
func (c ClassifierConfig) RemoteEnabled() bool {
	return strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.BaseURL) != ""
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API: APIConfig{
			Addr:         ":3001",
			FrontendURL:  "http://localhost:3000",
			MaxBodyBytes: 10 << 20,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:signalwatch.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"},
		Cache:   CacheConfig{Backend: "memory", Addr: "127.0.0.1:6379"},
		Classifier: ClassifierConfig{
			Model:       "gpt-3.5-turbo",
			MaxTokens:   300,
			Temperature: 0.3,
			Timeout:     10 * time.Second,
			Breaker:     BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second},
		},
		Enrichment: EnrichmentConfig{Workers: 4, QueueSize: 1000, CacheTTL: time.Hour},
	}
}

// Load reads a YAML or JSON config file and applies environment overrides.
// An empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, decodeErr
		}
	}
	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// applyEnv maps the deployment environment variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		cfg.API.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := strings.TrimSpace(getenv("FRONTEND_URL")); v != "" {
		cfg.API.FrontendURL = v
	}
	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		cfg.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := strings.TrimSpace(getenv("REDIS_URL")); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.URL = v
	}
	if v := strings.TrimSpace(getenv("OPENAI_API_KEY")); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.API.MaxBodyBytes <= 0 {
		cfg.API.MaxBodyBytes = def.API.MaxBodyBytes
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "none"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = def.Classifier.Model
	}
	if cfg.Classifier.MaxTokens <= 0 {
		cfg.Classifier.MaxTokens = def.Classifier.MaxTokens
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = def.Classifier.Timeout
	}
	if cfg.Classifier.Breaker.FailureThreshold == 0 {
		cfg.Classifier.Breaker.FailureThreshold = def.Classifier.Breaker.FailureThreshold
	}
	if cfg.Classifier.Breaker.OpenTimeout <= 0 {
		cfg.Classifier.Breaker.OpenTimeout = def.Classifier.Breaker.OpenTimeout
	}
	if cfg.Enrichment.Workers <= 0 {
		cfg.Enrichment.Workers = def.Enrichment.Workers
	}
	if cfg.Enrichment.QueueSize <= 0 {
		cfg.Enrichment.QueueSize = def.Enrichment.QueueSize
	}
	if cfg.Enrichment.CacheTTL <= 0 {
		cfg.Enrichment.CacheTTL = def.Enrichment.CacheTTL
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return errors.New("api.addr required")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver)
	}
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		if cfg.Cache.Addr == "" && cfg.Cache.URL == "" {
			return errors.New("cache.addr or cache.url required when cache.backend is redis")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("cache.backend %q unsupported", cfg.Cache.Backend)
	}
	if cfg.Classifier.Temperature < 0 || cfg.Classifier.Temperature > 2 {
		return errors.New("classifier.temperature must be within [0, 2]")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail requires files")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

// NewStaticManager wraps an already built config; it never reloads.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
