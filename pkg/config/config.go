// Package config provides environment-based configuration for the build feed
// services, with an optional .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the API server, web UI and CLI.
type Config struct {
	// Database configuration. An empty DSN selects the in-memory store.
	DatabaseDSN string `yaml:"database_dsn"`

	// Authentication
	JWTSecret string        `yaml:"-"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`

	// Server configuration
	APIHost string `yaml:"api_host"`
	APIPort int    `yaml:"api_port"`
	WebHost string `yaml:"web_host"`
	WebPort int    `yaml:"web_port"`

	// SecureCookies marks the web UI session cookie Secure.
	SecureCookies bool `yaml:"secure_cookies"`

	// APIURL is where the web UI and CLI reach the API server.
	APIURL string `yaml:"api_url"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	Events EventsConfig `yaml:"events"`
	Feed   FeedConfig   `yaml:"feed"`
	Seed   SeedConfig   `yaml:"seed"`
}

// EventsConfig selects how live events travel between API instances.
type EventsConfig struct {
	// Relay is "redis", "nats" or empty for in-process only.
	Relay    string `yaml:"relay"`
	RedisURL string `yaml:"redis_url"`
	NATSURL  string `yaml:"nats_url"`
	Channel  string `yaml:"channel"`
}

// FeedConfig holds defaults for feeds opened by the web UI and CLI.
type FeedConfig struct {
	Limit  int    `yaml:"limit"`
	Scope  string `yaml:"scope"`
	Branch string `yaml:"branch"`
	PR     int    `yaml:"pr"`
	Commit string `yaml:"commit"`
}

// SeedConfig controls demo data for the in-memory store.
type SeedConfig struct {
	Enabled bool       `yaml:"enabled"`
	Builds  int        `yaml:"builds"`
	Users   []SeedUser `yaml:"users"`
}

// SeedUser is an account created at startup.
type SeedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Load reads configuration from .env, the optional CONFIG_FILE and the
// environment, in increasing precedence, and validates it.
func Load() (*Config, error) {
	cfg, err := load(defaults())
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadClient loads configuration for processes that only talk to the API,
// the web UI and the CLI. The JWT secret is not required.
func LoadClient() (*Config, error) {
	cfg, err := load(defaults())
	if err != nil {
		return nil, err
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("API_URL is required")
	}
	if cfg.Feed.Limit <= 0 {
		return nil, fmt.Errorf("FEED_LIMIT must be positive")
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields and seeds demo data, useful for
// testing. File errors fall back to the defaults.
func LoadWithDefaults() *Config {
	base := defaults()
	base.JWTSecret = "development-secret-key-min-32-chars"
	base.Seed.Enabled = true

	cfg, err := load(base)
	if err != nil {
		return base
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		JWTExpiry:       24 * time.Hour,
		APIHost:         "0.0.0.0",
		APIPort:         8080,
		WebHost:         "0.0.0.0",
		WebPort:         6500,
		APIURL:          "http://localhost:8080",
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogJSON:         true,
		Events: EventsConfig{
			RedisURL: "redis://localhost:6379/0",
			NATSURL:  "nats://localhost:4222",
		},
		Feed: FeedConfig{
			Limit: 5,
			Scope: "latest",
		},
		Seed: SeedConfig{
			Builds: 12,
			Users: []SeedUser{
				{Email: "john@gmail.com", Password: "test123", Name: "John"},
			},
		},
	}
}

func load(cfg *Config) (*Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.DatabaseDSN = getEnv("DATABASE_URL", cfg.DatabaseDSN)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTExpiry = getDurationEnv("JWT_EXPIRY", cfg.JWTExpiry)
	cfg.APIHost = getEnv("API_HOST", cfg.APIHost)
	cfg.APIPort = getIntEnv("API_PORT", cfg.APIPort)
	cfg.WebHost = getEnv("WEB_HOST", cfg.WebHost)
	cfg.WebPort = getIntEnv("WEB_PORT", cfg.WebPort)
	cfg.SecureCookies = getBoolEnv("SECURE_COOKIES", cfg.SecureCookies)
	cfg.APIURL = strings.TrimRight(getEnv("API_URL", cfg.APIURL), "/")
	cfg.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getBoolEnv("LOG_JSON", cfg.LogJSON)

	cfg.Events.Relay = getEnv("EVENTS_RELAY", cfg.Events.Relay)
	cfg.Events.RedisURL = getEnv("REDIS_URL", cfg.Events.RedisURL)
	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)
	cfg.Events.Channel = getEnv("EVENTS_CHANNEL", cfg.Events.Channel)

	cfg.Feed.Limit = getIntEnv("FEED_LIMIT", cfg.Feed.Limit)
	cfg.Feed.Scope = getEnv("FEED_SCOPE", cfg.Feed.Scope)
	cfg.Feed.Branch = getEnv("FEED_BRANCH", cfg.Feed.Branch)
	cfg.Feed.PR = getIntEnv("FEED_PR", cfg.Feed.PR)
	cfg.Feed.Commit = getEnv("FEED_COMMIT", cfg.Feed.Commit)

	cfg.Seed.Enabled = getBoolEnv("SEED_DEMO", cfg.Seed.Enabled)
	cfg.Seed.Builds = getIntEnv("SEED_BUILDS", cfg.Seed.Builds)

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	switch c.Events.Relay {
	case "", "redis", "nats":
	default:
		return fmt.Errorf("EVENTS_RELAY must be redis, nats or empty, got %q", c.Events.Relay)
	}
	if c.Feed.Limit <= 0 {
		return fmt.Errorf("FEED_LIMIT must be positive")
	}
	return nil
}

// APIAddr returns the API listen address.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// WebAddr returns the web UI listen address.
func (c *Config) WebAddr() string {
	return fmt.Sprintf("%s:%d", c.WebHost, c.WebPort)
}

// loadDotEnv loads variables from path without overriding the environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
