// Package config loads resgraph configuration from a YAML file,
// RESGRAPH_ environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/resgraph/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g. RESGRAPH_CLOCK_RATE.
const EnvPrefix = "RESGRAPH"

// Config is the complete runtime configuration.
type Config struct {
	// Database is the SQLite file real nodes are persisted to. Empty
	// keeps the graph in memory.
	Database string `mapstructure:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// Heartbeat is the period of the run command's heartbeat timer.
	Heartbeat time.Duration `mapstructure:"heartbeat"`

	Clock    ClockConfig    `mapstructure:"clock"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Security SecurityConfig `mapstructure:"security"`
	Tracing  tracing.Config `mapstructure:"tracing"`
}

// ClockConfig selects the framework clock.
type ClockConfig struct {
	// Rate is framework seconds per real second. 1 with no Start uses
	// the system clock.
	Rate float64 `mapstructure:"rate"`

	// Start is the RFC 3339 framework start time of a simulated clock.
	Start string `mapstructure:"start"`
}

// ExecutorConfig sizes the listener executor.
type ExecutorConfig struct {
	// Workers is the worker pool size. Zero runs each task on its own
	// goroutine.
	Workers int `mapstructure:"workers"`
}

// SecurityConfig selects the permission oracle.
type SecurityConfig struct {
	// Policy is a YAML policy file. Empty allows everything.
	Policy string `mapstructure:"policy"`

	// Watch reloads the policy when the file changes.
	Watch bool `mapstructure:"watch"`

	// CacheTTL caches decisions for this long. Zero disables caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		Heartbeat: time.Second,
		Clock:     ClockConfig{Rate: 1},
		Executor:  ExecutorConfig{Workers: 4},
		Security:  SecurityConfig{Watch: true, CacheTTL: time.Minute},
		Tracing:   tracing.DefaultConfig(),
	}
}

// NewViper returns a viper instance with defaults and environment
// overrides installed. Callers may bind flags to it before Load.
func NewViper() *viper.Viper {
	d := Defaults()
	v := viper.New()
	v.SetDefault("database", d.Database)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("heartbeat", d.Heartbeat)
	v.SetDefault("clock.rate", d.Clock.Rate)
	v.SetDefault("clock.start", d.Clock.Start)
	v.SetDefault("executor.workers", d.Executor.Workers)
	v.SetDefault("security.policy", d.Security.Policy)
	v.SetDefault("security.watch", d.Security.Watch)
	v.SetDefault("security.cache_ttl", d.Security.CacheTTL)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and decodes the result. An
// empty path searches ./resgraph.yaml and ~/.config/resgraph/config.yaml
// and tolerates finding neither.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("resgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "resgraph"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("config loaded", "file", used)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %s", c.Heartbeat)
	}
	if c.Clock.Rate < 0 {
		return fmt.Errorf("clock.rate must not be negative, got %g", c.Clock.Rate)
	}
	if c.Clock.Start != "" {
		if _, err := time.Parse(time.RFC3339, c.Clock.Start); err != nil {
			return fmt.Errorf("clock.start: %w", err)
		}
	}
	if c.Executor.Workers < 0 {
		return fmt.Errorf("executor.workers must not be negative, got %d", c.Executor.Workers)
	}
	if c.Security.CacheTTL < 0 {
		return fmt.Errorf("security.cache_ttl must not be negative, got %s", c.Security.CacheTTL)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log_level: unknown level %q", name)
	}
	return level, nil
}

// ClockStart parses Clock.Start. ok is false when unset.
func (c Config) ClockStart() (start time.Time, ok bool) {
	if c.Clock.Start == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.Clock.Start)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
