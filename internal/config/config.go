// Package config loads and validates the service configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server" yaml:"server"`
	Database  DatabaseConfig  `toml:"database" json:"database" yaml:"database"`
	Lifecycle LifecycleConfig `toml:"lifecycle" json:"lifecycle" yaml:"lifecycle"`
	Webhook   WebhookConfig   `toml:"webhook" json:"webhook" yaml:"webhook"`
	Events    EventsConfig    `toml:"events" json:"events" yaml:"events"`
	Log       LogConfig       `toml:"log" json:"log" yaml:"log"`
	Workers   WorkersConfig   `toml:"workers" json:"workers" yaml:"workers"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string          `toml:"addr" json:"addr" yaml:"addr"`
	BaseURL      string          `toml:"base_url" json:"base_url" yaml:"base_url"`
	AdminSecret  string          `toml:"admin_secret" json:"-" yaml:"admin_secret"`
	ReadTimeout  time.Duration   `toml:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration   `toml:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	RateLimit    RateLimitConfig `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per caller per window. Zero requests disables limiting.
type RateLimitConfig struct {
	Requests int           `toml:"requests" json:"requests" yaml:"requests"`
	Window   time.Duration `toml:"window" json:"window" yaml:"window"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `toml:"driver" json:"driver" yaml:"driver"`
	DSN    string `toml:"dsn" json:"-" yaml:"dsn"`
}

// LifecycleConfig tunes knowledge maturation.
type LifecycleConfig struct {
	MaturationThreshold int `toml:"maturation_threshold" json:"maturation_threshold" yaml:"maturation_threshold"`
}

// WebhookConfig tunes notification delivery.
type WebhookConfig struct {
	Timeout     time.Duration `toml:"timeout" json:"timeout" yaml:"timeout"`
	UserAgent   string        `toml:"user_agent" json:"user_agent" yaml:"user_agent"`
	Concurrency int           `toml:"concurrency" json:"concurrency" yaml:"concurrency"`
}

// EventsConfig points at the NATS broker. An empty URL disables event publishing.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url" json:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix" json:"subject_prefix" yaml:"subject_prefix"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level" json:"level" yaml:"level"`
	Development bool   `toml:"development" json:"development" yaml:"development"`
}

// WorkersConfig schedules the background workers.
type WorkersConfig struct {
	ReconcileInterval time.Duration `toml:"reconcile_interval" json:"reconcile_interval" yaml:"reconcile_interval"`
	AnomalyInterval   time.Duration `toml:"anomaly_interval" json:"anomaly_interval" yaml:"anomaly_interval"`
	FloodThreshold    int           `toml:"flood_threshold" json:"flood_threshold" yaml:"flood_threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			BaseURL:      "http://localhost:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    RateLimitConfig{Requests: 120, Window: time.Minute},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join("data", "antfarm.db"),
		},
		Lifecycle: LifecycleConfig{MaturationThreshold: 3},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			UserAgent:   "AntFarm-Webhook/1.0",
			Concurrency: 8,
		},
		Events: EventsConfig{SubjectPrefix: "antfarm"},
		Log:    LogConfig{Level: "info"},
		Workers: WorkersConfig{
			ReconcileInterval: time.Minute,
			AnomalyInterval:   5 * time.Minute,
			FloodThreshold:    50,
		},
	}
}

// Load reads path (TOML, YAML or JSON by extension) over the defaults, applies
// environment overrides and validates the result. An empty path uses defaults and
// the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides fields from the environment. PORT and DATABASE_URL follow
// hosting conventions; everything else uses the ANTFARM_ prefix.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		c.Server.Addr = ":" + v
	}
	str("ANTFARM_ADDR", &c.Server.Addr)
	str("ANTFARM_BASE_URL", &c.Server.BaseURL)
	str("ANTFARM_ADMIN_SECRET", &c.Server.AdminSecret)
	num("ANTFARM_RATE_LIMIT", &c.Server.RateLimit.Requests)

	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
	}
	str("ANTFARM_DB_DRIVER", &c.Database.Driver)
	str("ANTFARM_DB_DSN", &c.Database.DSN)

	num("ANTFARM_MATURATION_THRESHOLD", &c.Lifecycle.MaturationThreshold)
	dur("ANTFARM_WEBHOOK_TIMEOUT", &c.Webhook.Timeout)
	str("ANTFARM_NATS_URL", &c.Events.NATSURL)
	str("ANTFARM_LOG_LEVEL", &c.Log.Level)
	dur("ANTFARM_RECONCILE_INTERVAL", &c.Workers.ReconcileInterval)

	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.base_url must be an absolute http(s) URL, got %q", c.Server.BaseURL))
	}
	if c.Server.RateLimit.Requests < 0 {
		errs = append(errs, errors.New("server.rate_limit.requests must not be negative"))
	}
	if c.Server.RateLimit.Requests > 0 && c.Server.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("server.rate_limit.window must be positive"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Lifecycle.MaturationThreshold < 1 {
		errs = append(errs, errors.New("lifecycle.maturation_threshold must be at least 1"))
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}
	if c.Webhook.Concurrency < 1 {
		errs = append(errs, errors.New("webhook.concurrency must be at least 1"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Workers.ReconcileInterval < 0 || c.Workers.AnomalyInterval < 0 {
		errs = append(errs, errors.New("worker intervals must not be negative"))
	}
	if c.Workers.FloodThreshold < 1 {
		errs = append(errs, errors.New("workers.flood_threshold must be at least 1"))
	}
	return errors.Join(errs...)
}
