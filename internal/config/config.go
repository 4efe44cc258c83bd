package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Env       string `mapstructure:"ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	BackendURL          string        `mapstructure:"BACKEND_URL"`
	RefreshPath         string        `mapstructure:"REFRESH_PATH"`
	LogoutPath          string        `mapstructure:"LOGOUT_PATH"`
	AuthFailureStatuses string        `mapstructure:"AUTH_FAILURE_STATUSES"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`

	StorageDriver        string `mapstructure:"STORAGE_DRIVER"`
	StoragePath          string `mapstructure:"STORAGE_PATH"`
	StorageEncryptionKey string `mapstructure:"STORAGE_ENCRYPTION_KEY"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32  `mapstructure:"DB_MIN_CONNS"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleIssuer       string `mapstructure:"GOOGLE_ISSUER"`
	SigninCallbackPort int    `mapstructure:"SIGNIN_CALLBACK_PORT"`

	ProxyPort      int      `mapstructure:"PROXY_PORT"`
	ProxyBodyLimit string   `mapstructure:"PROXY_BODY_LIMIT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	ProxyRateLimit float64  `mapstructure:"PROXY_RATE_LIMIT"`
}

var boundKeys = []string{
	"ENV", "LOG_LEVEL", "LOG_FORMAT",
	"BACKEND_URL", "REFRESH_PATH", "LOGOUT_PATH", "AUTH_FAILURE_STATUSES", "HTTP_TIMEOUT",
	"STORAGE_DRIVER", "STORAGE_PATH", "STORAGE_ENCRYPTION_KEY",
	"REDIS_URL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_ISSUER", "SIGNIN_CALLBACK_PORT",
	"PROXY_PORT", "PROXY_BODY_LIMIT", "CORS_ORIGINS", "PROXY_RATE_LIMIT",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Any extra env files are loaded first with godotenv;
// they never override variables that are already set.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("REFRESH_PATH", "/auth/refresh")
	v.SetDefault("AUTH_FAILURE_STATUSES", "403")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("STORAGE_DRIVER", StorageFile)
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("GOOGLE_ISSUER", "https://accounts.google.com")
	v.SetDefault("SIGNIN_CALLBACK_PORT", 8765)
	v.SetDefault("PROXY_PORT", 8787)
	v.SetDefault("PROXY_BODY_LIMIT", "20M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PROXY_RATE_LIMIT", 20)

	for _, k := range boundKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.StoragePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.StoragePath = filepath.Join(home, ".patientctl")
	}

	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("BACKEND_URL is required")
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the client is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FailureStatuses parses AUTH_FAILURE_STATUSES into HTTP status codes.
func (c *Config) FailureStatuses() ([]int, error) {
	var codes []int
	for _, part := range strings.Split(c.AuthFailureStatuses, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("AUTH_FAILURE_STATUSES: %q is not a status code", part)
		}
		if code < 400 || code > 599 {
			return nil, fmt.Errorf("AUTH_FAILURE_STATUSES: %d is not an error status", code)
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("AUTH_FAILURE_STATUSES must list at least one status code")
	}
	return codes, nil
}

// EncryptionKey decodes STORAGE_ENCRYPTION_KEY. A nil key means the file
// store writes plaintext.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.StorageEncryptionKey == "" {
		return nil, nil
	}
	keyBytes, err := hex.DecodeString(c.StorageEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("STORAGE_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("STORAGE_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}
	return keyBytes, nil
}

// SigninEnabled reports whether Google sign-in credentials are configured.
func (c *Config) SigninEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Validate checks that the configuration is usable before any command runs.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if c.IsProduction() && u.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL must use https in production")
	}

	if !strings.HasPrefix(c.RefreshPath, "/") {
		return fmt.Errorf("REFRESH_PATH must start with /, got %q", c.RefreshPath)
	}
	if _, err := c.FailureStatuses(); err != nil {
		return err
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	switch c.StorageDriver {
	case StorageFile, StorageSQLite, StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORAGE_DRIVER is %q", StorageRedis)
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of file, sqlite, redis, postgres, memory, got %q", c.StorageDriver)
	}

	if _, err := c.EncryptionKey(); err != nil {
		return err
	}

	if c.SigninCallbackPort <= 0 || c.SigninCallbackPort > 65535 {
		return fmt.Errorf("SIGNIN_CALLBACK_PORT out of range: %d", c.SigninCallbackPort)
	}
	if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
		return fmt.Errorf("PROXY_PORT out of range: %d", c.ProxyPort)
	}
	if c.ProxyRateLimit < 0 {
		return fmt.Errorf("PROXY_RATE_LIMIT must not be negative")
	}

	return nil
}
