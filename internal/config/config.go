// Package config loads application configuration from defaults, an optional
// YAML file and GIGPUSH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable. Nested keys are separated
// by a double underscore, e.g. GIGPUSH_DRAIN__BATCH_SIZE.
const EnvPrefix = "GIGPUSH_"

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Drain    DrainConfig    `koanf:"drain"`
	Trigger  TriggerConfig  `koanf:"trigger"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	// RequestTimeout bounds one trigger request, and so one drain pass.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// GatewayConfig contains push gateway client settings.
type GatewayConfig struct {
	URL       string        `koanf:"url" validate:"required,url"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimit float64       `koanf:"rate_limit" validate:"gte=0"`
}

// DrainConfig contains drain loop settings.
type DrainConfig struct {
	BatchSize           int           `koanf:"batch_size" validate:"gte=1,lte=1000"`
	RetryBackoff        time.Duration `koanf:"retry_backoff" validate:"gt=0"`
	MaxAttempts         int           `koanf:"max_attempts" validate:"gte=0"`
	DispatchConcurrency int           `koanf:"dispatch_concurrency" validate:"gte=1,lte=64"`
	SentRetention       time.Duration `koanf:"sent_retention" validate:"gte=0"`
	ScheduleEnabled     bool          `koanf:"schedule_enabled"`
	Interval            time.Duration `koanf:"interval" validate:"gt=0"`
	EnqueueProcedures   []string      `koanf:"enqueue_procedures"`
}

// TriggerConfig contains authorization settings of the drain trigger.
type TriggerConfig struct {
	Secret               string `koanf:"secret"`
	SchedulerHeader      string `koanf:"scheduler_header"`
	AllowUnauthenticated bool   `koanf:"allow_unauthenticated"`
}

// Default returns the configuration used for keys that are not set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      90 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Gateway: GatewayConfig{
			Timeout: 10 * time.Second,
		},
		Drain: DrainConfig{
			BatchSize:           50,
			RetryBackoff:        5 * time.Minute,
			DispatchConcurrency: 1,
			Interval:            time.Minute,
		},
	}
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// listKeys are list settings given as comma separated values in the environment.
var listKeys = map[string]bool{
	"drain.enqueue_procedures": true,
}

// envKey maps GIGPUSH_DRAIN__BATCH_SIZE to drain.batch_size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func envValue(key, value string) (string, interface{}) {
	key = envKey(key)
	if !listKeys[key] {
		return key, value
	}
	if strings.TrimSpace(value) == "" {
		return key, []string{}
	}

	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return key, parts
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Trigger.Secret == "" && !c.Trigger.AllowUnauthenticated {
		return errors.New("trigger.secret is required unless trigger.allow_unauthenticated is set")
	}

	for _, p := range c.Drain.EnqueueProcedures {
		if strings.TrimSpace(p) == "" {
			return errors.New("drain.enqueue_procedures must not contain empty names")
		}
	}

	return nil
}
