package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up by LoadFromDir.
const FileName = "markpad.yaml"

// Config represents the markpad configuration
type Config struct {
	Title    string         `yaml:"title"`
	Server   ServerConfig   `yaml:"server"`
	Markdown MarkdownConfig `yaml:"markdown"`
	Database DatabaseConfig `yaml:"database"`
	Features FeaturesConfig `yaml:"features"`
	API      *APIConfig     `yaml:"api,omitempty"`
	Cache    *CacheConfig   `yaml:"cache,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	WWWRoot string `yaml:"www_root"` // Directory with index.html and css/js/img/font subdirectories
	Debug   bool   `yaml:"debug"`
}

// MarkdownConfig controls the preview renderer
type MarkdownConfig struct {
	Extensions []string `yaml:"extensions,omitempty"` // goldmark extensions (default: gfm)
	HardWraps  bool     `yaml:"hard_wraps"`
	XHTML      bool     `yaml:"xhtml"`
	Unsafe     bool     `yaml:"unsafe"`   // Pass raw HTML through the renderer
	Sanitize   bool     `yaml:"sanitize"` // Scrub rendered HTML (default: true)
}

// DatabaseConfig selects the article store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // File path for sqlite, connection URL for postgres (env vars expanded)
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	HotReload   bool `yaml:"hot_reload"`
	WASMPreview bool `yaml:"wasm_preview"` // Render in the browser with www_root/js/markpad.wasm
}

// CacheConfig configures the article lookup cache
type CacheConfig struct {
	TTL string `yaml:"ttl,omitempty"` // e.g. "30s", "5m". Empty disables caching
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig holds per-client API rate limits. Article writes and /api/render
// have separate budgets; reads are not limited.
type RateLimitConfig struct {
	RequestsPerSecond       float64 `yaml:"requests_per_second,omitempty"`        // Article writes, default: 10
	Burst                   int     `yaml:"burst,omitempty"`                      // Default: 20
	RenderRequestsPerSecond float64 `yaml:"render_requests_per_second,omitempty"` // Default: 5
	RenderBurst             int     `yaml:"render_burst,omitempty"`               // Default: 10
	MaxTrackedIPs           int     `yaml:"max_tracked_ips,omitempty"`            // Default: 10000
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

// GetRenderRateLimitRPS returns the /api/render rate in requests per second (default: 5)
func (c *APIConfig) GetRenderRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RenderRequestsPerSecond <= 0 {
		return 5
	}
	return c.RateLimit.RenderRequestsPerSecond
}

// GetRenderRateLimitBurst returns the /api/render burst size (default: 10)
func (c *APIConfig) GetRenderRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.RenderBurst <= 0 {
		return 10
	}
	return c.RateLimit.RenderBurst
}

// GetMaxTrackedIPs returns how many client IPs the rate limiter tracks (default: 10000)
func (c *APIConfig) GetMaxTrackedIPs() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTrackedIPs
}

// IsAPIEnabled returns whether the article API is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API != nil && c.API.Enabled
}

// GetCacheTTL returns the parsed cache TTL (0 if caching is disabled)
func (c *Config) GetCacheTTL() time.Duration {
	if c.Cache == nil || c.Cache.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// GetDSN returns the database DSN with environment variable expansion
func (c DatabaseConfig) GetDSN() string {
	return os.ExpandEnv(c.DSN)
}

// GetDriver returns the database driver (default: "sqlite")
func (c DatabaseConfig) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "New article",
		Server: ServerConfig{
			Port: 8081,
			Host: "0.0.0.0",
		},
		Markdown: MarkdownConfig{
			Sanitize: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "markpad.db",
		},
		Features: FeaturesConfig{
			HotReload: false,
		},
		API: &APIConfig{
			Enabled: true,
		},
	}
}

// ApplyEnv overrides configuration from the environment.
// WWW_ROOT sets the static root and DATABASE_URL selects the database; a postgres://
// or postgresql:// URL also switches the driver to postgres.
func (c *Config) ApplyEnv() {
	if root := os.Getenv("WWW_ROOT"); root != "" {
		c.Server.WWWRoot = root
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
		if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
			c.Database.Driver = "postgres"
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Database.GetDriver() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported (use sqlite or postgres)", c.Database.Driver)
	}
	if c.Cache != nil && c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("cache.ttl: %w", err)
		}
	}
	return nil
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

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir loads markpad.yaml from the given directory, or the defaults if there is none.
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
