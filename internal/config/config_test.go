package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
  read_timeout: 5s
database:
  driver: postgres
  dsn: postgres://anon:pw@db:5432/anon?sslmode=disable
anonymizer:
  synthesis_attempts: 8
  fingerprint_secret: pepper
  defaults:
    locale: de_DE
    entity_types: [PERSON, EMAIL_ADDRESS]
websocket:
  events:
    broadcast_requests: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, store.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Anonymizer.SynthesisAttempts)
	assert.Equal(t, "pepper", cfg.Anonymizer.FingerprintSecret)
	assert.Equal(t, "de_DE", cfg.Anonymizer.Defaults.Locale)
	assert.Equal(t, "en", cfg.Anonymizer.Defaults.Language)
	assert.Equal(t, []string{"PERSON", "EMAIL_ADDRESS"}, cfg.Anonymizer.Defaults.EntityTypes)
	assert.False(t, cfg.WebSocket.Events.BroadcastRequests)
	assert.True(t, cfg.WebSocket.Events.BroadcastSystem)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9100\n")
	t.Setenv("ANONYMIZER_SERVER_PORT", "9200")
	t.Setenv("ANONYMIZER_LOGGING_LEVEL", "debug")
	t.Setenv("ANONYMIZER_ANONYMIZER_DETECTION_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3*time.Second, cfg.Anonymizer.DetectionTimeout)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("InvalidValue", func(t *testing.T) {
		_, err := Load(writeConfig(t, "logging:\n  level: loud\n"))
		assert.ErrorContains(t, err, "invalid log level")
	})
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(c *Config){
		"port":              func(c *Config) { c.Server.Port = 70000 },
		"format":            func(c *Config) { c.Logging.Format = "xml" },
		"driver":            func(c *Config) { c.Database.Driver = "mysql" },
		"postgres dsn":      func(c *Config) { c.Database.Driver = store.DriverPostgres; c.Database.DSN = "" },
		"cache url":         func(c *Config) { c.Cache.Enabled = true; c.Cache.RedisURL = "" },
		"batch size":        func(c *Config) { c.Anonymizer.MaxBatchSize = 0 },
		"detection timeout": func(c *Config) { c.Anonymizer.DetectionTimeout = 0 },
		"attempts":          func(c *Config) { c.Anonymizer.SynthesisAttempts = 0 },
		"threshold":         func(c *Config) { c.Anonymizer.Defaults.ConfidenceThreshold = 1.2 },
		"rate limit":        func(c *Config) { c.RateLimit.Burst = 0 },
		"ws path":           func(c *Config) { c.WebSocket.Path = "ws" },
		"ws password":       func(c *Config) { c.WebSocket.Username = "admin" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := GetDefaults()
			mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}

	assert.NoError(t, validateConfig(GetDefaults()))
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\nrate_limit:\n  requests_per_min: 60\n"), 0o600))
	require.NoError(t, cfg.source.ReadInConfig())

	next, err := decode(cfg.source)
	require.NoError(t, err)
	assert.Equal(t, "warn", next.Logging.Level)
	assert.Equal(t, 60, next.RateLimit.RequestsPerMin)
}

func TestWatchRequiresFile(t *testing.T) {
	assert.Error(t, Watch(GetDefaults(), func(*Config) {}, nil))
}

func TestConversions(t *testing.T) {
	cfg := GetDefaults()

	limits := cfg.Anonymizer.Limits()
	assert.Equal(t, cfg.Anonymizer.MaxBatchSize, limits.MaxBatchSize)
	assert.Equal(t, cfg.Anonymizer.DetectionTimeout, limits.DetectionTimeout)

	seed := cfg.Anonymizer.Defaults.Settings()
	assert.Equal(t, 0.7, seed.ConfidenceThreshold)
	assert.Len(t, seed.EntityTypes, len(settings.DefaultEntityTypes))
	assert.Equal(t, strategy.Replace, seed.For("PERSON").Strategy)

	cfg.WebSocket.Username = "admin"
	hub := cfg.WebSocket.HubConfig()
	assert.Equal(t, "admin", hub.Username)
	assert.True(t, hub.BroadcastAnonymizations)
}
