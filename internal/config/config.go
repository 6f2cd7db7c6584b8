package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Cache backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds the full application configuration.
type Config struct {
	Mode       ModeConfig       `yaml:"mode" mapstructure:"mode"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Resolve    ResolveConfig    `yaml:"resolve" mapstructure:"resolve"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Foursquare FoursquareConfig `yaml:"foursquare" mapstructure:"foursquare"`
	Nominatim  NominatimConfig  `yaml:"nominatim" mapstructure:"nominatim"`
	LocalRef   LocalRefConfig   `yaml:"localref" mapstructure:"localref"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ModeConfig selects offline or live resolution. Override, when set to
// "offline" or "live", wins over Offline.
type ModeConfig struct {
	Offline  bool   `yaml:"offline" mapstructure:"offline"`
	Override string `yaml:"override" mapstructure:"override"`
}

// CacheConfig configures both cache tiers.
type CacheConfig struct {
	Backend             string `yaml:"backend" mapstructure:"backend"`
	Dir                 string `yaml:"dir" mapstructure:"dir"`
	FileName            string `yaml:"file_name" mapstructure:"file_name"`
	DatabaseURL         string `yaml:"database_url" mapstructure:"database_url"`
	RedisAddr           string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword       string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB             int    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisKey            string `yaml:"redis_key" mapstructure:"redis_key"`
	EphemeralTTLHours   int    `yaml:"ephemeral_ttl_hours" mapstructure:"ephemeral_ttl_hours"`
	EphemeralMaxEntries int    `yaml:"ephemeral_max_entries" mapstructure:"ephemeral_max_entries"`
	FlushDebounceMs     int    `yaml:"flush_debounce_ms" mapstructure:"flush_debounce_ms"`
}

// EphemeralTTL returns the ephemeral tier TTL.
func (c CacheConfig) EphemeralTTL() time.Duration {
	return time.Duration(c.EphemeralTTLHours) * time.Hour
}

// FlushDebounce returns the persistent tier write debounce.
func (c CacheConfig) FlushDebounce() time.Duration {
	return time.Duration(c.FlushDebounceMs) * time.Millisecond
}

// ResolveConfig holds resolution defaults.
type ResolveConfig struct {
	MaxAlternatives int     `yaml:"max_alternatives" mapstructure:"max_alternatives"`
	MinConfidence   float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	SearchLimit     int     `yaml:"search_limit" mapstructure:"search_limit"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMs    int     `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	OrderingPath    string  `yaml:"ordering_path" mapstructure:"ordering_path"`
}

// BatchDelay returns the pause between batches.
func (c ResolveConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// ProviderConfig configures timeouts, retry, and circuit breaking shared by
// all live providers.
type ProviderConfig struct {
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// Timeout returns the per-request provider timeout.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryConfig configures transient-failure retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// FoursquareConfig holds Foursquare Places API settings.
type FoursquareConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// NominatimConfig holds OpenStreetMap Nominatim settings. Enabled gates
// the provider because the public instance has a strict usage policy.
type NominatimConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LocalRefConfig locates curated reference data.
type LocalRefConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from an optional .env file, an optional
// config.yaml, and PLACES_* environment variables, in increasing priority.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can bind it.
	v.SetDefault("mode.offline", false)
	v.SetDefault("mode.override", "")
	v.SetDefault("cache.backend", BackendFile)
	v.SetDefault("cache.dir", ".place-cache")
	v.SetDefault("cache.file_name", "place-cache.json")
	v.SetDefault("cache.database_url", "")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_key", "place-resolver:cache")
	v.SetDefault("cache.ephemeral_ttl_hours", 24)
	v.SetDefault("cache.ephemeral_max_entries", 10000)
	v.SetDefault("cache.flush_debounce_ms", 100)
	v.SetDefault("resolve.max_alternatives", 2)
	v.SetDefault("resolve.min_confidence", 0.5)
	v.SetDefault("resolve.search_limit", 5)
	v.SetDefault("resolve.batch_size", 5)
	v.SetDefault("resolve.batch_delay_ms", 200)
	v.SetDefault("resolve.ordering_path", "")
	v.SetDefault("provider.timeout_secs", 10)
	v.SetDefault("provider.retry.max_attempts", 2)
	v.SetDefault("provider.retry.initial_backoff_ms", 250)
	v.SetDefault("provider.retry.max_backoff_ms", 5000)
	v.SetDefault("provider.circuit.failure_threshold", 5)
	v.SetDefault("provider.circuit.reset_timeout_secs", 30)
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("foursquare.key", "")
	v.SetDefault("foursquare.base_url", "https://api.foursquare.com/v3")
	v.SetDefault("foursquare.rate_limit", 10)
	v.SetDefault("nominatim.enabled", true)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "place-resolver/1.0")
	v.SetDefault("nominatim.rate_limit", 1)
	v.SetDefault("localref.dir", "data/localref")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)
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

// Validate reports every setting the given command mode cannot run with.
// Mode is "resolve" for one-shot CLI commands or "serve" for the HTTP API.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "resolve":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Cache.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			errs = append(errs, "cache.dir is required for the file backend")
		}
	case BackendSQLite, BackendPostgres:
		if strings.TrimSpace(c.Cache.DatabaseURL) == "" {
			errs = append(errs, "cache.database_url is required for the "+c.Cache.Backend+" backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			errs = append(errs, "cache.redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, "cache.backend must be one of file, sqlite, postgres, redis")
	}

	switch strings.ToLower(strings.TrimSpace(c.Mode.Override)) {
	case "", "offline", "synthetic", "live":
	default:
		errs = append(errs, "mode.override must be offline, live, or empty")
	}

	if c.Resolve.MinConfidence < 0 || c.Resolve.MinConfidence > 1 {
		errs = append(errs, "resolve.min_confidence must be between 0 and 1")
	}
	if c.Resolve.MaxAlternatives < 0 {
		errs = append(errs, "resolve.max_alternatives must be >= 0")
	}
	if c.Resolve.BatchSize < 1 {
		errs = append(errs, "resolve.batch_size must be >= 1")
	}
	if c.Cache.EphemeralTTLHours < 1 {
		errs = append(errs, "cache.ephemeral_ttl_hours must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
