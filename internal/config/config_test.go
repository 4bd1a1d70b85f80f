package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "antfarm.yaml", `
server:
  addr: ":9000"
  base_url: "https://antfarm.example"
  rate_limit:
    requests: 10
    window: 30s
lifecycle:
  maturation_threshold: 5
webhook:
  timeout: 3s
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "https://antfarm.example", cfg.Server.BaseURL)
	assert.Equal(t, RateLimitConfig{Requests: 10, Window: 30 * time.Second}, cfg.Server.RateLimit)
	assert.Equal(t, 5, cfg.Lifecycle.MaturationThreshold)
	assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver, "unset keys keep defaults")
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "antfarm.toml", `
[database]
driver = "postgres"
dsn = "postgres://antfarm@localhost/antfarm?sslmode=disable"

[workers]
reconcile_interval = "2m"
flood_threshold = 20

[events]
nats_url = "nats://localhost:4222"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Workers.ReconcileInterval)
	assert.Equal(t, 20, cfg.Workers.FloodThreshold)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	assert.Equal(t, "antfarm", cfg.Events.SubjectPrefix)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeFile(t, "antfarm.ini", "x=1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeFile(t, "bad.yaml", "lifecycle:\n  maturation_threshold: 0\ndatabase:\n  driver: mysql\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "maturation_threshold")
	assert.ErrorContains(t, err, "database.driver")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"PORT":                         "3000",
		"DATABASE_URL":                 "postgres://db/antfarm",
		"ANTFARM_ADMIN_SECRET":         "s3cret",
		"ANTFARM_MATURATION_THRESHOLD": "4",
		"ANTFARM_WEBHOOK_TIMEOUT":      "1500ms",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://db/antfarm", cfg.Database.DSN)
	assert.Equal(t, "s3cret", cfg.Server.AdminSecret)
	assert.Equal(t, 4, cfg.Lifecycle.MaturationThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.Webhook.Timeout)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ANTFARM_MATURATION_THRESHOLD": "three",
		"ANTFARM_RECONCILE_INTERVAL":   "soon",
	}))
	assert.ErrorContains(t, err, "ANTFARM_MATURATION_THRESHOLD")
	assert.ErrorContains(t, err, "ANTFARM_RECONCILE_INTERVAL")
	assert.Equal(t, 3, cfg.Lifecycle.MaturationThreshold)
}

func TestValidate_BaseURL(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "antfarm.example"
	assert.ErrorContains(t, cfg.Validate(), "server.base_url")
}

func TestLoader_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "antfarm.yaml", "lifecycle:\n  maturation_threshold: 3\n")
	l := NewLoader(path, nil)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan int, 4)
	l.OnChange(func(c *Config) { changed <- c.Lifecycle.MaturationThreshold })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("lifecycle:\n  maturation_threshold: 0\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("lifecycle:\n  maturation_threshold: 7\n"), 0o600))

	select {
	case n := <-changed:
		assert.Equal(t, 7, n)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Equal(t, 7, l.Config().Lifecycle.MaturationThreshold)
}
