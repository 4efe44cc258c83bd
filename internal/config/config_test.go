package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_RequiresBackendURL(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BACKEND_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.example.com/")
	t.Setenv("STORAGE_PATH", "/tmp/patientctl-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.BackendURL != "https://api.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.BackendURL)
	}
	if cfg.RefreshPath != "/auth/refresh" {
		t.Errorf("expected default refresh path, got %s", cfg.RefreshPath)
	}
	if cfg.StorageDriver != StorageFile {
		t.Errorf("expected default storage driver file, got %s", cfg.StorageDriver)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %s", cfg.HTTPTimeout)
	}
	if cfg.ProxyPort != 8787 {
		t.Errorf("expected default proxy port 8787, got %d", cfg.ProxyPort)
	}

	codes, err := cfg.FailureStatuses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 1 || codes[0] != 403 {
		t.Errorf("expected [403], got %v", codes)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.env")
	content := "BACKEND_URL=https://from-file.example.com\nSTORAGE_DRIVER=memory\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// godotenv sets variables directly; clear them after the test.
	t.Setenv("BACKEND_URL", "")
	os.Unsetenv("BACKEND_URL")
	t.Setenv("STORAGE_DRIVER", "")
	os.Unsetenv("STORAGE_DRIVER")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackendURL != "https://from-file.example.com" {
		t.Errorf("expected backend from env file, got %s", cfg.BackendURL)
	}
	if cfg.StorageDriver != StorageMemory {
		t.Errorf("expected memory driver, got %s", cfg.StorageDriver)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	if err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
	if !c.IsProduction() {
		t.Error("expected IsProduction() to return true for production")
	}
}

func TestConfig_FailureStatuses(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"403", []int{403}, false},
		{"401, 403", []int{401, 403}, false},
		{"", nil, true},
		{"abc", nil, true},
		{"200", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c := &Config{AuthFailureStatuses: tt.in}
			got, err := c.FailureStatuses()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Env:                 "development",
		BackendURL:          "http://localhost:8080",
		RefreshPath:         "/auth/refresh",
		AuthFailureStatuses: "403",
		HTTPTimeout:         time.Second,
		StorageDriver:       StorageFile,
		SigninCallbackPort:  8765,
		ProxyPort:           8787,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"relative backend", func(c *Config) { c.BackendURL = "api.example.com" }, "BACKEND_URL"},
		{"http in production", func(c *Config) { c.Env = "production" }, "https"},
		{"refresh path", func(c *Config) { c.RefreshPath = "auth/refresh" }, "REFRESH_PATH"},
		{"statuses", func(c *Config) { c.AuthFailureStatuses = "x" }, "AUTH_FAILURE_STATUSES"},
		{"timeout", func(c *Config) { c.HTTPTimeout = 0 }, "HTTP_TIMEOUT"},
		{"driver", func(c *Config) { c.StorageDriver = "floppy" }, "STORAGE_DRIVER"},
		{"redis url", func(c *Config) { c.StorageDriver = StorageRedis }, "REDIS_URL"},
		{"database url", func(c *Config) { c.StorageDriver = StoragePostgres }, "DATABASE_URL"},
		{"key hex", func(c *Config) { c.StorageEncryptionKey = "zz" }, "not valid hex"},
		{"key length", func(c *Config) { c.StorageEncryptionKey = "abcd" }, "32 bytes"},
		{"proxy port", func(c *Config) { c.ProxyPort = 70000 }, "PROXY_PORT"},
		{"rate limit", func(c *Config) { c.ProxyRateLimit = -1 }, "PROXY_RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEncryptionKey(t *testing.T) {
	c := &Config{}
	key, err := c.EncryptionKey()
	if err != nil || key != nil {
		t.Fatalf("expected nil key without error, got %v %v", key, err)
	}

	c.StorageEncryptionKey = strings.Repeat("ab", 32)
	key, err = c.EncryptionKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32 byte key, got %d", len(key))
	}
}
