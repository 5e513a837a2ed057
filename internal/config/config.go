package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file LoadFromDir looks for.
const FileName = "blockstudio.yaml"

// Config represents the blockstudio configuration
type Config struct {
	Title    string         `yaml:"title"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Editor   EditorConfig   `yaml:"editor"`
	Metadata MetadataConfig `yaml:"metadata"`
	Features FeaturesConfig `yaml:"features"`
	API      *APIConfig     `yaml:"api,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// StorageConfig selects where pages, apps and components are kept
type StorageConfig struct {
	Driver string       `yaml:"driver"`          // "sqlite", "postgres" or "file"
	Path   string       `yaml:"path,omitempty"`  // sqlite database file or file store directory
	DSN    string       `yaml:"dsn,omitempty"`   // postgres connection string (env vars expanded)
	Retry  *RetryConfig `yaml:"retry,omitempty"` // retry of transient database errors
}

// RetryConfig configures retry behavior for storage operations
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 3)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "100ms"). Default: 100ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "5s"). Default: 5s
}

// EditorConfig holds canvas settings
type EditorConfig struct {
	DropThrottle    string `yaml:"drop_throttle,omitempty"`    // Minimum interval between drag-over updates. Default: 130ms
	HistoryCapacity int    `yaml:"history_capacity,omitempty"` // Undo snapshots kept. Default: 100
	Layout          string `yaml:"layout,omitempty"`           // "virtual" or "chrome". Default: virtual
	ChromeURL       string `yaml:"chrome_url,omitempty"`       // Remote debugging URL for the chrome layout host
	PreviewURL      string `yaml:"preview_url,omitempty"`      // Page the chrome layout host loads
}

// MetadataConfig points at component catalog overrides
type MetadataConfig struct {
	Catalog string `yaml:"catalog,omitempty"` // YAML file merged over the built-in catalog
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	Watch bool `yaml:"watch"` // Reload pages edited on disk (file storage only)
}

// APIConfig holds REST API configuration
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Auth      *AuthConfig      `yaml:"auth,omitempty"`
}

// AuthConfig holds authentication configuration for the API
type AuthConfig struct {
	// APIKey is the required API key for authentication.
	// Supports environment variable expansion (e.g., "${API_KEY}" or "$API_KEY")
	APIKey string `yaml:"api_key,omitempty"`
	// HeaderName is the HTTP header name for the API key (default: "X-API-Key")
	// Also supports "Authorization: Bearer <token>" format when set to "Authorization"
	HeaderName string `yaml:"header_name,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Rate limit in requests per second (default: 10)
	Burst             int     `yaml:"burst,omitempty"`               // Burst size (default: 20)
	MaxTrackedIPs     int     `yaml:"max_tracked_ips,omitempty"`     // Client IPs tracked at once (default: 10000)
}

// GetDriver returns the storage driver (default: "sqlite")
func (c StorageConfig) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// GetDSN returns the postgres DSN with environment variable expansion
func (c StorageConfig) GetDSN() string {
	return os.ExpandEnv(c.DSN)
}

// GetRetryMaxRetries returns the max retries (default: 3, set to 0 to disable retries)
func (c StorageConfig) GetRetryMaxRetries() int {
	if c.Retry == nil || c.Retry.MaxRetries < 0 {
		return 3
	}
	return c.Retry.MaxRetries
}

// GetRetryBaseDelay returns the base delay (default: 100ms)
func (c StorageConfig) GetRetryBaseDelay() time.Duration {
	if c.Retry == nil {
		return 100 * time.Millisecond
	}
	return parseDuration(c.Retry.BaseDelay, 100*time.Millisecond)
}

// GetRetryMaxDelay returns the max delay (default: 5s)
func (c StorageConfig) GetRetryMaxDelay() time.Duration {
	if c.Retry == nil {
		return 5 * time.Second
	}
	return parseDuration(c.Retry.MaxDelay, 5*time.Second)
}

// GetDropThrottle returns the drag-over throttle interval (default: 130ms)
func (c EditorConfig) GetDropThrottle() time.Duration {
	return parseDuration(c.DropThrottle, 130*time.Millisecond)
}

// GetHistoryCapacity returns the undo capacity (default: 100)
func (c EditorConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity <= 0 {
		return 100
	}
	return c.HistoryCapacity
}

// GetLayout returns the layout host kind (default: "virtual")
func (c EditorConfig) GetLayout() string {
	if c.Layout == "" {
		return "virtual"
	}
	return c.Layout
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetCORSOrigins returns the configured CORS origins, or nil if not configured
func (c *APIConfig) GetCORSOrigins() []string {
	if c == nil || c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetMaxTrackedIPs returns how many client IPs the rate limiter tracks (default: 10000)
func (c *APIConfig) GetMaxTrackedIPs() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTrackedIPs
}

// IsAuthEnabled returns true if API authentication is configured
func (c *APIConfig) IsAuthEnabled() bool {
	if c == nil || c.Auth == nil {
		return false
	}
	return c.Auth.GetAPIKey() != ""
}

// GetAPIKey returns the configured API key with environment variable expansion
func (c *AuthConfig) GetAPIKey() string {
	if c == nil || c.APIKey == "" {
		return ""
	}
	return os.ExpandEnv(c.APIKey)
}

// GetHeaderName returns the header name for authentication (default: "X-API-Key")
func (c *AuthConfig) GetHeaderName() string {
	if c == nil || c.HeaderName == "" {
		return "X-API-Key"
	}
	return c.HeaderName
}

// Validate checks values the getters cannot default.
func (c *Config) Validate() error {
	switch c.Storage.GetDriver() {
	case "sqlite", "postgres", "pg", "file":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch c.Editor.GetLayout() {
	case "virtual":
	case "chrome":
		if c.Editor.ChromeURL == "" && c.Editor.PreviewURL == "" {
			return fmt.Errorf("editor.layout: chrome needs chrome_url or preview_url")
		}
	default:
		return fmt.Errorf("editor.layout: unknown layout %q", c.Editor.Layout)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "Block Studio",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./blockstudio.db",
		},
		Editor: EditorConfig{
			DropThrottle:    "130ms",
			HistoryCapacity: 100,
			Layout:          "virtual",
		},
		Features: FeaturesConfig{
			Watch: true,
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir loads blockstudio.yaml from the given directory, or the
// default configuration when there is none
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
