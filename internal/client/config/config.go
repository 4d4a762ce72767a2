package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

// AuthPaths are the server endpoints of the auth flow.
type AuthPaths struct {
	LoginPath    string `koanf:"login_path"`
	RegisterPath string `koanf:"register_path"`
	RefreshPath  string `koanf:"refresh_path"`
}

// Config holds runtime settings for the donorsync CLI.
type Config struct {
	ServerURL           string        `koanf:"server_url"`
	RequestTimeout      time.Duration `koanf:"request_timeout"`
	RateLimit           float64       `koanf:"rate_limit"`
	RateBurst           int           `koanf:"rate_burst"`
	OnlineCheckInterval time.Duration `koanf:"online_check_interval"`

	// DataDir holds the token database; relative paths resolve against the
	// working directory.
	DataDir      string `koanf:"data_dir"`
	TokenBackend string `koanf:"token_backend"`
	// TokenSecret, when set, seals the stored token pair.
	TokenSecret string `koanf:"token_secret"`

	CacheFreshFor time.Duration `koanf:"cache_fresh_for"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Auth AuthPaths `koanf:"auth"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.RequestTimeout = 15 * time.Second
	c.RateLimit = 10
	c.RateBurst = 20
	c.OnlineCheckInterval = 3 * time.Second
	c.DataDir = "donorsync"
	c.TokenBackend = BackendSQLite
	c.TokenSecret = ""
	c.CacheFreshFor = 30 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.Auth = AuthPaths{
		LoginPath:    "/auth/local/login",
		RegisterPath: "/auth/local/register",
		RefreshPath:  "/auth/refresh",
	}
}

// toMap renders c keyed like its koanf tags.
func (c *Config) toMap() map[string]any {
	return map[string]any{
		"server_url":            c.ServerURL,
		"request_timeout":       c.RequestTimeout,
		"rate_limit":            c.RateLimit,
		"rate_burst":            c.RateBurst,
		"online_check_interval": c.OnlineCheckInterval,
		"data_dir":              c.DataDir,
		"token_backend":         c.TokenBackend,
		"token_secret":          c.TokenSecret,
		"cache_fresh_for":       c.CacheFreshFor,
		"log_level":             c.LogLevel,
		"log_format":            c.LogFormat,
		"auth": map[string]any{
			"login_path":    c.Auth.LoginPath,
			"register_path": c.Auth.RegisterPath,
			"refresh_path":  c.Auth.RefreshPath,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error

	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		errs = append(errs, fmt.Errorf("server_url %q must start with http:// or https://", c.ServerURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.OnlineCheckInterval <= 0 {
		errs = append(errs, errors.New("online_check_interval must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	switch c.TokenBackend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("token_backend %q is not one of sqlite, badger, memory", c.TokenBackend))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not one of text, json", c.LogFormat))
	}
	if c.Auth.LoginPath == "" || c.Auth.RegisterPath == "" || c.Auth.RefreshPath == "" {
		errs = append(errs, errors.New("auth paths must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
