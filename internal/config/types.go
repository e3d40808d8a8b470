package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/raaihank/pii-anonymizer/internal/anonymizer"
	"github.com/raaihank/pii-anonymizer/internal/cache"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/store"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
	"github.com/raaihank/pii-anonymizer/internal/websocket"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   store.Config     `yaml:"database" mapstructure:"database"`
	Cache      cache.Config     `yaml:"cache" mapstructure:"cache"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Anonymizer AnonymizerConfig `yaml:"anonymizer" mapstructure:"anonymizer"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	WebSocket  WebSocketConfig  `yaml:"websocket" mapstructure:"websocket"`

	source *viper.Viper
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
		Path       string `yaml:"path" mapstructure:"path"`
		MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
		MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
		Compress   bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// AnonymizerConfig bounds requests and seeds the runtime configuration
type AnonymizerConfig struct {
	MaxTextLength     int           `yaml:"max_text_length" mapstructure:"max_text_length"`
	MaxBatchSize      int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	DetectionTimeout  time.Duration `yaml:"detection_timeout" mapstructure:"detection_timeout"`
	BatchConcurrency  int           `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	SynthesisAttempts int           `yaml:"synthesis_attempts" mapstructure:"synthesis_attempts"`
	// FingerprintSecret switches fingerprints to HMAC-SHA256. Changing it
	// orphans every existing mapping.
	FingerprintSecret string     `yaml:"fingerprint_secret" mapstructure:"fingerprint_secret"`
	Defaults          SeedConfig `yaml:"defaults" mapstructure:"defaults"`
}

// SeedConfig is written as the runtime configuration on first start
type SeedConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	Language            string   `yaml:"language" mapstructure:"language"`
	Locale              string   `yaml:"locale" mapstructure:"locale"`
	EntityTypes         []string `yaml:"entity_types" mapstructure:"entity_types"`
}

// RateLimitConfig contains per-client request limits
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Path           string        `yaml:"path" mapstructure:"path"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	StatusInterval time.Duration `yaml:"status_interval" mapstructure:"status_interval"`
	Events         struct {
		BroadcastAnonymizations bool `yaml:"broadcast_anonymizations" mapstructure:"broadcast_anonymizations"`
		BroadcastRequests       bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
		BroadcastSystem         bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections    bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// Limits converts the request bounds for the orchestrator.
func (a AnonymizerConfig) Limits() anonymizer.Config {
	return anonymizer.Config{
		MaxTextLength:    a.MaxTextLength,
		MaxBatchSize:     a.MaxBatchSize,
		DetectionTimeout: a.DetectionTimeout,
		BatchConcurrency: a.BatchConcurrency,
	}
}

// Settings builds the first-start runtime configuration.
func (s SeedConfig) Settings() *settings.Settings {
	out := &settings.Settings{
		ConfidenceThreshold: s.ConfidenceThreshold,
		Language:            s.Language,
		Locale:              s.Locale,
		EntityTypes:         make(map[string]settings.EntityConfig, len(s.EntityTypes)),
	}
	for _, t := range s.EntityTypes {
		out.EntityTypes[t] = settings.EntityConfig{EntityType: t, Enabled: true, Strategy: strategy.Replace}
	}
	return out
}

// HubConfig converts the event settings for the WebSocket hub.
func (w WebSocketConfig) HubConfig() websocket.HubConfig {
	return websocket.HubConfig{
		BroadcastAnonymizations: w.Events.BroadcastAnonymizations,
		BroadcastRequests:       w.Events.BroadcastRequests,
		BroadcastSystem:         w.Events.BroadcastSystem,
		BroadcastConnections:    w.Events.BroadcastConnections,
		Username:                w.Username,
		Password:                w.Password,
		AllowedOrigins:          w.AllowedOrigins,
	}
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    16 << 20,
		},
		Database: store.Config{
			Driver:          store.DriverSQLite,
			DSN:             "data/anonymizer.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Cache: cache.Config{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     time.Hour,
			KeyPrefix:      "pii-anonymizer",
		},
		Anonymizer: AnonymizerConfig{
			MaxTextLength:     anonymizer.DefaultMaxTextLength,
			MaxBatchSize:      anonymizer.DefaultMaxBatchSize,
			DetectionTimeout:  anonymizer.DefaultDetectionTimeout,
			BatchConcurrency:  anonymizer.DefaultBatchConcurrency,
			SynthesisAttempts: store.DefaultSynthesisAttempts,
			Defaults: SeedConfig{
				ConfidenceThreshold: 0.7,
				Language:            "en",
				Locale:              "en_US",
				EntityTypes:         append([]string(nil), settings.DefaultEntityTypes...),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 600,
			Burst:          50,
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
			StatusInterval: 30 * time.Second,
		},
	}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File.Path = "logs/anonymizer.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.MaxBackups = 5
	cfg.Logging.File.Compress = true

	cfg.WebSocket.Events.BroadcastAnonymizations = true
	cfg.WebSocket.Events.BroadcastRequests = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
