// Package config provides Viper-based configuration loading for the arena server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the spectator-facing HTTP listener settings.
type HTTPConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds reading a request (not the lifetime of a stream).
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// AllowOrigins is a comma-separated CORS origin list; empty disables CORS.
	AllowOrigins string `mapstructure:"allow_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// RedisConfig holds the matchmaking queue connection settings.
type RedisConfig struct {
	// Addr is the "host:port" of the Redis server. Empty disables queue removal.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces the matchmaking keys, e.g. "arena".
	KeyPrefix string `mapstructure:"key_prefix"`
}

// NarrationConfig holds text-generation provider settings.
type NarrationConfig struct {
	// Provider is "anthropic" or "template" (no external calls).
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	// MaxTokens caps each generated narration.
	MaxTokens int64 `mapstructure:"max_tokens"`
	// Temperature is the creativity parameter passed to the provider.
	Temperature float64 `mapstructure:"temperature"`
	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxAttempts is the number of tries before the fallback sentence is used.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// StreamConfig holds server-side streaming settings.
type StreamConfig struct {
	// PingInterval is the keep-alive period for idle connections.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// WatchPollInterval is how often a watcher re-reads the log store.
	WatchPollInterval time.Duration `mapstructure:"watch_poll_interval"`
}

// SweeperConfig holds stale in-progress match detection settings.
type SweeperConfig struct {
	// Interval between sweeps. Zero disables the sweeper.
	Interval time.Duration `mapstructure:"interval"`
	// StaleAfter is the inactivity after which an in-progress match is failed.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// ArenaConfig locates arena definitions.
type ArenaConfig struct {
	// Dir is the directory of arena YAML files.
	Dir string `mapstructure:"dir"`
	// Default is the arena id used for matches whose arena is unknown.
	Default string `mapstructure:"default"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Narration NarrationConfig `mapstructure:"narration"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Arena     ArenaConfig     `mapstructure:"arena"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateHTTP(c.HTTP),
		validateDatabase(c.Database),
		validateLogging(c.Logging),
		validateNarration(c.Narration),
		validateStream(c.Stream),
		validateSweeper(c.Sweeper),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Arena.Default == "" {
		errs = append(errs, "arena.default must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.ReadTimeout < 0 {
		errs = append(errs, "http.read_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateNarration(n NarrationConfig) error {
	var errs []string
	switch n.Provider {
	case "anthropic":
		if n.APIKey == "" {
			errs = append(errs, "narration.api_key must not be empty for the anthropic provider")
		}
		if n.Model == "" {
			errs = append(errs, "narration.model must not be empty for the anthropic provider")
		}
	case "template":
	default:
		errs = append(errs, fmt.Sprintf("narration.provider must be one of [anthropic, template], got %q", n.Provider))
	}
	if n.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("narration.max_tokens must be >= 1, got %d", n.MaxTokens))
	}
	if n.Temperature < 0 || n.Temperature > 1 {
		errs = append(errs, fmt.Sprintf("narration.temperature must be in [0, 1], got %v", n.Temperature))
	}
	if n.CallTimeout <= 0 {
		errs = append(errs, "narration.call_timeout must be positive")
	}
	if n.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("narration.max_attempts must be >= 1, got %d", n.MaxAttempts))
	}
	if n.RetryInterval < 0 {
		errs = append(errs, "narration.retry_interval must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateStream(s StreamConfig) error {
	var errs []string
	if s.PingInterval <= 0 {
		errs = append(errs, "stream.ping_interval must be positive")
	}
	if s.WatchPollInterval <= 0 {
		errs = append(errs, "stream.watch_poll_interval must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateSweeper(s SweeperConfig) error {
	if s.Interval < 0 {
		return errors.New("sweeper.interval must not be negative")
	}
	if s.Interval > 0 && s.StaleAfter <= 0 {
		return errors.New("sweeper.stale_after must be positive when the sweeper is enabled")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.allow_origins", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "arena")

	v.SetDefault("narration.provider", "template")
	v.SetDefault("narration.model", "claude-3-5-haiku-latest")
	v.SetDefault("narration.max_tokens", 160)
	v.SetDefault("narration.temperature", 0.9)
	v.SetDefault("narration.call_timeout", "20s")
	v.SetDefault("narration.max_attempts", 3)
	v.SetDefault("narration.retry_interval", "500ms")

	v.SetDefault("stream.ping_interval", "15s")
	v.SetDefault("stream.watch_poll_interval", "1s")

	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.stale_after", "10m")

	v.SetDefault("arena.dir", "content/arenas")
	v.SetDefault("arena.default", "colosseum")
}
