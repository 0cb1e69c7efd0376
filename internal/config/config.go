package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server and the terminal client.
type Config struct {
	Env      string `yaml:"env" validate:"oneof=development production test"`
	Port     string `yaml:"port" validate:"required,numeric"`
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	DatabaseDriver string `yaml:"database_driver" validate:"oneof=pgx sqlite3"`
	DatabaseURL    string `yaml:"database_url"`
	RedisURL       string `yaml:"redis_url"`
	NATSURL        string `yaml:"nats_url"`
	JWTSecret      string `yaml:"jwt_secret"`

	// Client side
	Transport     string        `yaml:"transport" validate:"oneof=websocket redis nats memory"`
	RelayURL      string        `yaml:"relay_url" validate:"omitempty,url"`
	Store         string        `yaml:"store" validate:"oneof=memory sql redis"`
	FeedBuffer    int           `yaml:"feed_buffer" validate:"min=1"`
	FeedOverflow  string        `yaml:"feed_overflow" validate:"oneof=drop-oldest drop-newest"`
	PersistPolicy string        `yaml:"persist_policy" validate:"oneof=own-messages open-conversation"`
	WriteTimeout  time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

func defaults() *Config {
	return &Config{
		Env:            "development",
		Port:           "8080",
		LogLevel:       "info",
		DatabaseDriver: "pgx",
		Transport:      "websocket",
		RelayURL:       "ws://localhost:8080/ws",
		Store:          "memory",
		FeedBuffer:     1,
		FeedOverflow:   "drop-oldest",
		PersistPolicy:  "own-messages",
		WriteTimeout:   10 * time.Second,
	}
}

// Load reads configuration in increasing order of precedence: defaults, the
// YAML file named by CHATSYNC_CONFIG, then environment variables (a .env
// file is loaded first if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CHATSYNC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ENV":             &c.Env,
		"PORT":            &c.Port,
		"LOG_LEVEL":       &c.LogLevel,
		"DATABASE_DRIVER": &c.DatabaseDriver,
		"DATABASE_URL":    &c.DatabaseURL,
		"REDIS_URL":       &c.RedisURL,
		"NATS_URL":        &c.NATSURL,
		"JWT_SECRET":      &c.JWTSecret,
		"TRANSPORT":       &c.Transport,
		"RELAY_URL":       &c.RelayURL,
		"STORE":           &c.Store,
		"FEED_OVERFLOW":   &c.FeedOverflow,
		"PERSIST_POLICY":  &c.PersistPolicy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("FEED_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEED_BUFFER: %w", err)
		}
		c.FeedBuffer = n
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WRITE_TIMEOUT: %w", err)
		}
		c.WriteTimeout = d
	}
	return nil
}

// Validate checks field constraints and the cross-field requirements of
// the chosen backends.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Transport == "websocket" && c.RelayURL == "" {
		return fmt.Errorf("invalid config: RELAY_URL is required for the websocket transport")
	}
	if c.Store == "sql" && c.DatabaseURL == "" {
		return fmt.Errorf("invalid config: DATABASE_URL is required for the sql store")
	}
	if (c.Store == "redis" || c.Transport == "redis") && c.RedisURL == "" {
		return fmt.Errorf("invalid config: REDIS_URL is required for redis")
	}
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("invalid config: JWT_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
