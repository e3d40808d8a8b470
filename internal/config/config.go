package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/pii-anonymizer/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. ANONYMIZER_SERVER_PORT.
const EnvPrefix = "ANONYMIZER"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-anonymizer/")
	v.AddConfigPath("$HOME/.pii-anonymizer/")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// every key needs a default for AutomaticEnv to see it
	setDefaults(v, "", reflect.ValueOf(GetDefaults()).Elem())

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.source = v
	return config, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setDefaults registers every field of val under its mapstructure key.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && field.Type != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// File returns the configuration file in use, if any.
func (c *Config) File() string {
	if c.source == nil {
		return ""
	}
	return c.source.ConfigFileUsed()
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	switch config.Database.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if config.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or postgres)", config.Database.Driver)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when the cache is enabled")
	}

	a := config.Anonymizer
	if a.MaxTextLength <= 0 || a.MaxBatchSize <= 0 || a.BatchConcurrency <= 0 {
		return fmt.Errorf("anonymizer limits must be positive")
	}
	if a.DetectionTimeout <= 0 {
		return fmt.Errorf("invalid detection timeout: %s", a.DetectionTimeout)
	}
	if a.SynthesisAttempts < 1 || a.SynthesisAttempts > 20 {
		return fmt.Errorf("invalid synthesis attempts: %d (must be between 1 and 20)", a.SynthesisAttempts)
	}
	if t := a.Defaults.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("invalid default confidence threshold: %v (must be between 0 and 1)", t)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMin <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requests_per_min and burst must be positive")
	}

	if config.WebSocket.Enabled && !strings.HasPrefix(config.WebSocket.Path, "/") {
		return fmt.Errorf("invalid websocket path: %q", config.WebSocket.Path)
	}
	if config.WebSocket.Username != "" && config.WebSocket.Password == "" {
		return fmt.Errorf("websocket.password is required when websocket.username is set")
	}

	return nil
}

// Watch starts watching the configuration file for changes. Valid new
// configurations go to callback; invalid ones to onError.
func Watch(config *Config, callback func(*Config), onError func(error)) error {
	v := config.source
	if v == nil || v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		newConfig, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
