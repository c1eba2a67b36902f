package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8081 {
		t.Errorf("default port = %d, want 8081", cfg.Server.Port)
	}
	if !cfg.Markdown.Sanitize {
		t.Error("sanitize should be on by default")
	}
	if got := cfg.Database.GetDriver(); got != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", got)
	}
	if !cfg.IsAPIEnabled() {
		t.Error("API should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestGetCacheTTL(t *testing.T) {
	tests := []struct {
		name     string
		cache    *CacheConfig
		expected time.Duration
	}{
		{"nil cache", nil, 0},
		{"empty TTL", &CacheConfig{TTL: ""}, 0},
		{"invalid TTL", &CacheConfig{TTL: "invalid"}, 0},
		{"negative TTL", &CacheConfig{TTL: "-5s"}, 0},
		{"30 seconds", &CacheConfig{TTL: "30s"}, 30 * time.Second},
		{"5 minutes", &CacheConfig{TTL: "5m"}, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Cache: tt.cache}
			if got := cfg.GetCacheTTL(); got != tt.expected {
				t.Errorf("GetCacheTTL() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAPIConfigDefaults(t *testing.T) {
	var nilAPI *APIConfig
	if got := nilAPI.GetRateLimitRPS(); got != 10 {
		t.Errorf("GetRateLimitRPS() on nil = %v, want 10", got)
	}
	if got := nilAPI.GetRateLimitBurst(); got != 20 {
		t.Errorf("GetRateLimitBurst() on nil = %v, want 20", got)
	}
	if got := nilAPI.GetRenderRateLimitRPS(); got != 5 {
		t.Errorf("GetRenderRateLimitRPS() on nil = %v, want 5", got)
	}
	if got := nilAPI.GetRenderRateLimitBurst(); got != 10 {
		t.Errorf("GetRenderRateLimitBurst() on nil = %v, want 10", got)
	}
	if got := nilAPI.GetMaxTrackedIPs(); got != 10000 {
		t.Errorf("GetMaxTrackedIPs() on nil = %v, want 10000", got)
	}
	if got := nilAPI.GetCORSOrigins(); got != nil {
		t.Errorf("GetCORSOrigins() on nil = %v, want nil", got)
	}

	api := &APIConfig{
		CORS: &CORSConfig{Origins: []string{"*"}},
		RateLimit: &RateLimitConfig{
			RequestsPerSecond:       2.5,
			Burst:                   4,
			RenderRequestsPerSecond: 7,
			RenderBurst:             3,
			MaxTrackedIPs:           500,
		},
	}
	if got := api.GetRenderRateLimitRPS(); got != 7 {
		t.Errorf("GetRenderRateLimitRPS() = %v, want 7", got)
	}
	if got := api.GetRenderRateLimitBurst(); got != 3 {
		t.Errorf("GetRenderRateLimitBurst() = %v, want 3", got)
	}
	if got := api.GetMaxTrackedIPs(); got != 500 {
		t.Errorf("GetMaxTrackedIPs() = %v, want 500", got)
	}
	if got := api.GetRateLimitRPS(); got != 2.5 {
		t.Errorf("GetRateLimitRPS() = %v, want 2.5", got)
	}
	if got := api.GetRateLimitBurst(); got != 4 {
		t.Errorf("GetRateLimitBurst() = %v, want 4", got)
	}
	if got := api.GetCORSOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("GetCORSOrigins() = %v, want [*]", got)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name       string
		wwwRoot    string
		dbURL      string
		wantRoot   string
		wantDriver string
		wantDSN    string
	}{
		{
			name:       "no env",
			wantDriver: "sqlite",
			wantDSN:    "markpad.db",
		},
		{
			name:       "www root",
			wwwRoot:    "/srv/www",
			wantRoot:   "/srv/www",
			wantDriver: "sqlite",
			wantDSN:    "markpad.db",
		},
		{
			name:       "postgres url",
			dbURL:      "postgres://user:pw@localhost/markpad?sslmode=disable",
			wantDriver: "postgres",
			wantDSN:    "postgres://user:pw@localhost/markpad?sslmode=disable",
		},
		{
			name:       "sqlite path",
			dbURL:      "/tmp/articles.db",
			wantDriver: "sqlite",
			wantDSN:    "/tmp/articles.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WWW_ROOT", tt.wwwRoot)
			t.Setenv("DATABASE_URL", tt.dbURL)

			cfg := DefaultConfig()
			cfg.ApplyEnv()

			if cfg.Server.WWWRoot != tt.wantRoot {
				t.Errorf("WWWRoot = %q, want %q", cfg.Server.WWWRoot, tt.wantRoot)
			}
			if cfg.Database.GetDriver() != tt.wantDriver {
				t.Errorf("driver = %q, want %q", cfg.Database.GetDriver(), tt.wantDriver)
			}
			if cfg.Database.DSN != tt.wantDSN {
				t.Errorf("DSN = %q, want %q", cfg.Database.DSN, tt.wantDSN)
			}
		})
	}
}

func TestGetDSNExpandsEnv(t *testing.T) {
	t.Setenv("MARKPAD_TEST_DB", "/data/test.db")
	db := DatabaseConfig{DSN: "${MARKPAD_TEST_DB}"}
	if got := db.GetDSN(); got != "/data/test.db" {
		t.Errorf("GetDSN() = %q, want /data/test.db", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		errorMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "out of range"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "not supported"},
		{"bad ttl", func(c *Config) { c.Cache = &CacheConfig{TTL: "soon"} }, "cache.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	content := `title: Notes
server:
  port: 9000
  www_root: ./www
markdown:
  hard_wraps: true
  extensions: [table, footnote]
database:
  driver: postgres
  dsn: postgres://localhost/notes
cache:
  ttl: 1m
api:
  enabled: true
  cors:
    origins: ["http://localhost:3000"]
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir() error = %v", err)
	}

	if cfg.Title != "Notes" {
		t.Errorf("Title = %q, want Notes", cfg.Title)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host should keep its default, got %q", cfg.Server.Host)
	}
	if cfg.Server.WWWRoot != "./www" {
		t.Errorf("WWWRoot = %q, want ./www", cfg.Server.WWWRoot)
	}
	if !cfg.Markdown.HardWraps || !cfg.Markdown.Sanitize {
		t.Errorf("Markdown = %+v, want hard wraps with default sanitize", cfg.Markdown)
	}
	if len(cfg.Markdown.Extensions) != 2 {
		t.Errorf("Extensions = %v, want 2 entries", cfg.Markdown.Extensions)
	}
	if cfg.Database.GetDriver() != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.GetDriver())
	}
	if cfg.GetCacheTTL() != time.Minute {
		t.Errorf("GetCacheTTL() = %v, want 1m", cfg.GetCacheTTL())
	}
	if got := cfg.API.GetCORSOrigins(); len(got) != 1 {
		t.Errorf("CORS origins = %v", got)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Server.Port = 9100

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Port != 9100 {
		t.Errorf("Port = %d, want 9100", loaded.Server.Port)
	}
}
