// Package config loads server and client settings from an optional YAML file and ARENA_* env vars.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap/zapcore"
)

// MinKeyLen mirrors the token signer's minimum key length.
const MinKeyLen = 32

// Server is the auth server configuration.
type Server struct {
	Addr        string `yaml:"addr" env:"ARENA_ADDR" env-default:":8080" env-description:"HTTP listen address"`
	HealthAddr  string `yaml:"health_addr" env:"ARENA_HEALTH_ADDR" env-description:"optional gRPC health listen address"`
	DSN         string `yaml:"dsn" env:"ARENA_DSN" env-description:"PostgreSQL DSN of the user directory"`
	SkipMigrate bool   `yaml:"skip_migrate" env:"ARENA_SKIP_MIGRATE"`
	LogLevel    string `yaml:"log_level" env:"ARENA_LOG_LEVEL" env-default:"info"`

	JWT   JWT   `yaml:"jwt"`
	Redis Redis `yaml:"redis"`
	NATS  NATS  `yaml:"nats"`

	ReadTimeout      time.Duration `yaml:"read_timeout" env:"ARENA_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"ARENA_WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"ARENA_SHUTDOWN_TIMEOUT" env-default:"10s"`
	DirectoryTimeout time.Duration `yaml:"directory_timeout" env:"ARENA_DIRECTORY_TIMEOUT" env-default:"3s"`
	StampTimeout     time.Duration `yaml:"stamp_timeout" env:"ARENA_STAMP_TIMEOUT" env-default:"2s"`
}

// JWT holds token signing settings.
type JWT struct {
	Key        string        `yaml:"key" env:"ARENA_JWT_KEY" env-description:"HS256 signing key, at least 32 bytes"`
	Issuer     string        `yaml:"issuer" env:"ARENA_JWT_ISSUER" env-default:"arena-auth"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ARENA_ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"ARENA_REFRESH_TTL" env-default:"168h"`
	Leeway     time.Duration `yaml:"leeway" env:"ARENA_JWT_LEEWAY" env-default:"0s"`
}

// Redis enables the refresh rotation ledger when Addr is set.
type Redis struct {
	Addr     string `yaml:"addr" env:"ARENA_REDIS_ADDR"`
	Password string `yaml:"password" env:"ARENA_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"ARENA_REDIS_DB" env-default:"0"`
}

// NATS enables auth event publishing when URL is set.
type NATS struct {
	URL string `yaml:"url" env:"ARENA_NATS_URL"`
}

// LoadServer reads path (if non-empty) and then the environment, and validates the result.
func LoadServer(path string) (*Server, error) {
	var cfg Server
	if err := read(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the rest of the server relies on.
func (c *Server) Validate() error {
	var problems []error
	if c.DSN == "" {
		problems = append(problems, errors.New("dsn is required"))
	}
	if len(c.JWT.Key) < MinKeyLen {
		problems = append(problems, fmt.Errorf("jwt key must be at least %d bytes", MinKeyLen))
	}
	if c.JWT.AccessTTL <= 0 {
		problems = append(problems, errors.New("access ttl must be positive"))
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		problems = append(problems, errors.New("refresh ttl must be longer than access ttl"))
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		problems = append(problems, errors.New("jwt leeway must be within [0, 1m]"))
	}
	for name, d := range map[string]time.Duration{
		"read timeout":      c.ReadTimeout,
		"write timeout":     c.WriteTimeout,
		"shutdown timeout":  c.ShutdownTimeout,
		"directory timeout": c.DirectoryTimeout,
		"stamp timeout":     c.StampTimeout,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(problems...)
}

// Client is the CLI configuration.
type Client struct {
	APIURL    string        `yaml:"api_url" env:"ARENA_API_URL" env-default:"http://localhost:8080"`
	Timeout   time.Duration `yaml:"timeout" env:"ARENA_TIMEOUT" env-default:"10s"`
	ConfigDir string        `yaml:"config_dir" env:"ARENA_CONFIG_DIR"`
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the API URL and timeout.
func (c *Client) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api url %q must be an absolute http(s) URL", c.APIURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

func read(path string, cfg any) error {
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("read env: %w", err)
		}
		return nil
	}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}
