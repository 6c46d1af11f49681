// Package config provides configuration loading for the deck session service.
// Supports YAML files, a .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/spherical/deck-session/internal/domain"
)

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Converter     ConverterConfig     `yaml:"converter"`
	Parser        ParserConfig        `yaml:"parser"`
	Session       SessionConfig       `yaml:"session"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// ConverterConfig holds settings for the office-to-PDF conversion service.
type ConverterConfig struct {
	URL      string `yaml:"url"`
	Endpoint string `yaml:"endpoint"`
	// Timeout of 0 leaves the HTTP transport defaults in charge.
	Timeout time.Duration `yaml:"timeout"`
}

// ParserConfig holds document parser settings.
type ParserConfig struct {
	RenderDPI float64 `yaml:"render_dpi"`
}

// SessionConfig holds document session settings.
type SessionConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

// CacheConfig holds conversion cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
	TLS      bool   `yaml:"tls"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, domain.ConfigError("environment override", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   256 << 20,
		},
		Converter: ConverterConfig{
			URL:      "http://localhost:3001",
			Endpoint: "/forms/libreoffice/convert",
		},
		Parser: ParserConfig{
			RenderDPI: 144,
		},
		Session: SessionConfig{
			EventBuffer: 16,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        time.Hour,
			MaxEntries: 32,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "deck:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "deck-session",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Converter.URL == "" {
		return fmt.Errorf("converter url is required")
	}

	if !strings.HasPrefix(c.Converter.Endpoint, "/") {
		return fmt.Errorf("converter endpoint must start with '/': %q", c.Converter.Endpoint)
	}

	if c.Converter.Timeout < 0 {
		return fmt.Errorf("converter timeout cannot be negative")
	}

	if c.Parser.RenderDPI <= 0 || c.Parser.RenderDPI > 1200 {
		return fmt.Errorf("render_dpi must be between 1 and 1200, got %v", c.Parser.RenderDPI)
	}

	if c.Session.EventBuffer < 0 {
		return fmt.Errorf("event_buffer cannot be negative")
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ConverterURL returns the full conversion endpoint URL.
func (c *Config) ConverterURL() string {
	return strings.TrimRight(c.Converter.URL, "/") + c.Converter.Endpoint
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("GOTENBERG_URL"); v != "" {
		cfg.Converter.URL = v
	}

	if v := os.Getenv("CONVERTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Converter.Timeout = d
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		opt, err := redis.ParseURL(v)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = opt.Addr
		cfg.Cache.Redis.Username = opt.Username
		cfg.Cache.Redis.Password = opt.Password
		cfg.Cache.Redis.DB = opt.DB
		cfg.Cache.Redis.TLS = opt.TLSConfig != nil
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	return nil
}
