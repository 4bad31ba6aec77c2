package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Device    DeviceConfig    `yaml:"device" mapstructure:"device"`
	Refresh   RefreshConfig   `yaml:"refresh" mapstructure:"refresh"`
	Lookup    LookupConfig    `yaml:"lookup" mapstructure:"lookup"`
	PeopleAPI PeopleAPIConfig `yaml:"people_api" mapstructure:"people_api"`
	Emergency EmergencyConfig `yaml:"emergency" mapstructure:"emergency"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the annotated call log database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// MaxRows caps the number of non-voicemail rows kept. 0 disables the cap.
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows"`
}

// DeviceConfig configures the simulated device providers (call log,
// contacts and blocked numbers).
type DeviceConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	CountryISO  string `yaml:"country_iso" mapstructure:"country_iso"`
}

// RefreshConfig configures refresh cycles.
type RefreshConfig struct {
	DebounceMs      int         `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	IntervalSecs    int         `yaml:"interval_secs" mapstructure:"interval_secs"`
	MaxCallsPerFill int         `yaml:"max_calls_per_fill" mapstructure:"max_calls_per_fill"`
	StoreRetry      RetryConfig `yaml:"store_retry" mapstructure:"store_retry"`
}

// LookupConfig configures the phone lookups.
type LookupConfig struct {
	MaxInvalidNumbers int `yaml:"max_invalid_numbers" mapstructure:"max_invalid_numbers"`
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
}

// PeopleAPIConfig configures the remote caller-ID lookup. The lookup is
// disabled when Key is empty.
type PeopleAPIConfig struct {
	Key         string        `yaml:"key" mapstructure:"key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	TTLHours    int           `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig holds retry settings for an external dependency.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker settings.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// EmergencyConfig configures the emergency number table. TablePath, when
// set, replaces the built-in table; Numbers and PrefixRegions extend it.
type EmergencyConfig struct {
	TablePath     string              `yaml:"table_path" mapstructure:"table_path"`
	Numbers       map[string][]string `yaml:"numbers" mapstructure:"numbers"`
	PrefixRegions []string            `yaml:"prefix_regions" mapstructure:"prefix_regions"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CALLLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "calllog.db")
	v.SetDefault("store.max_rows", 1000)
	v.SetDefault("device.database_url", "device.db")
	v.SetDefault("device.country_iso", "US")
	v.SetDefault("refresh.debounce_ms", 100)
	v.SetDefault("refresh.interval_secs", 0)
	v.SetDefault("refresh.max_calls_per_fill", 1000)
	v.SetDefault("refresh.store_retry.max_attempts", 3)
	v.SetDefault("refresh.store_retry.initial_backoff_ms", 50)
	v.SetDefault("refresh.store_retry.max_backoff_ms", 1000)
	v.SetDefault("lookup.max_invalid_numbers", 5)
	v.SetDefault("lookup.concurrency", 4)
	v.SetDefault("people_api.key", "")
	v.SetDefault("people_api.base_url", "https://people.googleapis.com")
	v.SetDefault("people_api.timeout_secs", 10)
	v.SetDefault("people_api.rate_per_sec", 10.0)
	v.SetDefault("people_api.burst", 10)
	v.SetDefault("people_api.ttl_hours", 24)
	v.SetDefault("people_api.retry.max_attempts", 3)
	v.SetDefault("people_api.retry.initial_backoff_ms", 500)
	v.SetDefault("people_api.retry.max_backoff_ms", 10000)
	v.SetDefault("people_api.retry.multiplier", 2.0)
	v.SetDefault("people_api.retry.jitter_fraction", 0.25)
	v.SetDefault("people_api.circuit.failure_threshold", 5)
	v.SetDefault("people_api.circuit.reset_timeout_secs", 30)
	v.SetDefault("emergency.table_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "serve" for the HTTP
// API; every other mode only needs a usable store.
func (c *Config) Validate(mode string) error {
	var problems []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Store.MaxRows < 0 {
		problems = append(problems, "store.max_rows must not be negative")
	}
	if c.Device.DatabaseURL == "" {
		problems = append(problems, "device.database_url is required")
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
