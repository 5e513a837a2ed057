package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.GetDriver() != "sqlite" {
		t.Errorf("Storage.GetDriver() = %q, want sqlite", cfg.Storage.GetDriver())
	}

	cfg, err = Load("")
	if err != nil || cfg.Title != "Block Studio" {
		t.Errorf("Load(\"\") = %v, %v; want defaults", cfg, err)
	}
}

func TestLoadFromDirOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
title: Sales Studio
server:
  port: 9090
storage:
  driver: file
  path: ./data
editor:
  drop_throttle: 50ms
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir() error = %v", err)
	}
	if cfg.Title != "Sales Studio" {
		t.Errorf("Title = %q, want Sales Studio", cfg.Title)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want the default localhost", cfg.Server.Host)
	}
	if cfg.Storage.GetDriver() != "file" || cfg.Storage.Path != "./data" {
		t.Errorf("Storage = %+v, want file at ./data", cfg.Storage)
	}
	if got := cfg.Editor.GetDropThrottle(); got != 50*time.Millisecond {
		t.Errorf("GetDropThrottle() = %v, want 50ms", got)
	}
	if got := cfg.Editor.GetHistoryCapacity(); got != 100 {
		t.Errorf("GetHistoryCapacity() = %d, want 100", got)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://localhost/studio"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Storage.Driver != "postgres" || loaded.Storage.DSN != cfg.Storage.DSN {
		t.Errorf("Storage = %+v, want %+v", loaded.Storage, cfg.Storage)
	}
}

func TestStorageRetryDefaults(t *testing.T) {
	tests := []struct {
		name       string
		retry      *RetryConfig
		maxRetries int
		base       time.Duration
		max        time.Duration
	}{
		{"nil retry", nil, 3, 100 * time.Millisecond, 5 * time.Second},
		{"negative retries", &RetryConfig{MaxRetries: -1}, 3, 100 * time.Millisecond, 5 * time.Second},
		{"disabled", &RetryConfig{MaxRetries: 0}, 0, 100 * time.Millisecond, 5 * time.Second},
		{"custom", &RetryConfig{MaxRetries: 5, BaseDelay: "10ms", MaxDelay: "1s"}, 5, 10 * time.Millisecond, time.Second},
		{"invalid delays", &RetryConfig{BaseDelay: "soon", MaxDelay: "later"}, 0, 100 * time.Millisecond, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := StorageConfig{Retry: tt.retry}
			if got := c.GetRetryMaxRetries(); got != tt.maxRetries {
				t.Errorf("GetRetryMaxRetries() = %d, want %d", got, tt.maxRetries)
			}
			if got := c.GetRetryBaseDelay(); got != tt.base {
				t.Errorf("GetRetryBaseDelay() = %v, want %v", got, tt.base)
			}
			if got := c.GetRetryMaxDelay(); got != tt.max {
				t.Errorf("GetRetryMaxDelay() = %v, want %v", got, tt.max)
			}
		})
	}
}

func TestGetDSNExpandsEnv(t *testing.T) {
	t.Setenv("STUDIO_DB_PASS", "s3cret")
	c := StorageConfig{DSN: "postgres://studio:${STUDIO_DB_PASS}@db/studio"}
	if got := c.GetDSN(); got != "postgres://studio:s3cret@db/studio" {
		t.Errorf("GetDSN() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"unknown layout", func(c *Config) { c.Editor.Layout = "gpu" }, "editor.layout"},
		{"chrome without url", func(c *Config) { c.Editor.Layout = "chrome" }, "chrome needs"},
		{"chrome with url", func(c *Config) {
			c.Editor.Layout = "chrome"
			c.Editor.ChromeURL = "ws://127.0.0.1:9222"
		}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPIConfigGetters(t *testing.T) {
	var nilAPI *APIConfig
	if nilAPI.GetRateLimitRPS() != 10 || nilAPI.GetRateLimitBurst() != 20 {
		t.Errorf("nil API rate limit = %v/%v, want 10/20", nilAPI.GetRateLimitRPS(), nilAPI.GetRateLimitBurst())
	}
	if nilAPI.IsAuthEnabled() {
		t.Error("nil API should not require auth")
	}

	t.Setenv("STUDIO_KEY", "k1")
	api := &APIConfig{
		CORS: &CORSConfig{Origins: []string{"http://localhost:3000"}},
		Auth: &AuthConfig{APIKey: "$STUDIO_KEY"},
	}
	if !api.IsAuthEnabled() || api.Auth.GetAPIKey() != "k1" {
		t.Errorf("auth = %v/%q, want enabled k1", api.IsAuthEnabled(), api.Auth.GetAPIKey())
	}
	if api.Auth.GetHeaderName() != "X-API-Key" {
		t.Errorf("GetHeaderName() = %q", api.Auth.GetHeaderName())
	}
	if got := api.GetCORSOrigins(); len(got) != 1 {
		t.Errorf("GetCORSOrigins() = %v", got)
	}
}
