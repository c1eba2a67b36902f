package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/livetemplate/markpad/internal/articles"
	"github.com/livetemplate/markpad/internal/config"
)

// testConfig returns a configuration with a rate limit high enough for test traffic.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.RateLimit = &config.RateLimitConfig{
		RequestsPerSecond:       1000,
		Burst:                   1000,
		RenderRequestsPerSecond: 1000,
		RenderBurst:             1000,
	}
	return cfg
}

// openTestStore opens a SQLite article store in a temp dir.
func openTestStore(t *testing.T) *articles.SQLStore {
	t.Helper()
	store, err := articles.Open(context.Background(), articles.DriverSQLite, filepath.Join(t.TempDir(), "articles.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestServer starts an httptest server for srv's full handler chain.
func newTestServer(t *testing.T, cfg *config.Config, store articles.Store) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewWithConfig(cfg, store)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
}

func TestIndexRoutesServeEditor(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	for _, path := range []string{"/", "/index", "/index.htm", "/index.html"} {
		t.Run(path, func(t *testing.T) {
			resp, body := get(t, ts.URL+path)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Content-Type = %q, want text/html", ct)
			}
			for _, want := range []string{`id="previewpane"`, `id="preview"`, `id="body"`, "/static/js/markpad.js"} {
				if !strings.Contains(body, want) {
					t.Errorf("editor page missing %s", want)
				}
			}
		})
	}
}

func TestIndexPrefersWWWRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<html>custom page</html>")

	cfg := testConfig()
	cfg.Server.WWWRoot = root
	_, ts := newTestServer(t, cfg, nil)

	for _, path := range []string{"/", "/index.html"} {
		resp, body := get(t, ts.URL+path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if body != "<html>custom page</html>" {
			t.Errorf("%s: expected custom index, got %q", path, body)
		}
	}
}

func TestIndexPreloadsArticle(t *testing.T) {
	store := openTestStore(t)
	id, err := store.Insert(context.Background(), "Saved <draft>", "# Saved body", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, ts := newTestServer(t, testConfig(), store)

	_, body := get(t, ts.URL+"/?article="+strconv.FormatInt(id, 10))
	if !strings.Contains(body, "# Saved body</textarea>") {
		t.Errorf("editor should contain the article body, got:\n%s", body)
	}
	if !strings.Contains(body, "Saved &lt;draft&gt;") {
		t.Error("article title should be HTML-escaped")
	}

	resp, _ := get(t, ts.URL+"/?article=999")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing article: expected 404, got %d", resp.StatusCode)
	}

	resp, _ = get(t, ts.URL+"/?article=abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", resp.StatusCode)
	}
}

func TestStaticRoutes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "css", "site.css"), "body{}")
	writeFile(t, filepath.Join(root, "js", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(root, "img", "logo.png"), "png")
	writeFile(t, filepath.Join(root, "font", "mono.woff2"), "font")
	writeFile(t, filepath.Join(root, "css", "notes.txt"), "secret")
	writeFile(t, filepath.Join(root, "secret.css"), "outside")

	cfg := testConfig()
	cfg.Server.WWWRoot = root
	_, ts := newTestServer(t, cfg, nil)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/static/css/site.css", http.StatusOK, "body{}"},
		{"/static/js/app.js", http.StatusOK, "console.log(1)"},
		{"/static/img/logo.png", http.StatusOK, "png"},
		{"/static/font/mono.woff2", http.StatusOK, "font"},
		{"/static/css/notes.txt", http.StatusNotFound, ""},
		{"/static/img/site.css", http.StatusNotFound, ""},
		{"/static/css/../secret.css", http.StatusNotFound, ""},
		{"/static/css/missing.css", http.StatusNotFound, ""},
		{"/static/other/x.css", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.body != "" && body != tt.body {
				t.Errorf("body = %q, want %q", body, tt.body)
			}
		})
	}
}

func TestStaticFallsBackToEmbedded(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	for _, path := range []string{"/static/css/markpad.css", "/static/js/markpad.js", "/static/js/markpad-wasm.js"} {
		resp, body := get(t, ts.URL+path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if body == "" {
			t.Errorf("%s: empty body", path)
		}
	}
}

func TestWASMPreviewWiring(t *testing.T) {
	root := t.TempDir()
	module := "\x00asm\x01\x00\x00\x00"
	writeFile(t, filepath.Join(root, "js", "markpad.wasm"), module)
	writeFile(t, filepath.Join(root, "js", "wasm_exec.js"), "// go runtime")

	cfg := testConfig()
	cfg.Server.WWWRoot = root
	cfg.Features.WASMPreview = true
	_, ts := newTestServer(t, cfg, nil)

	resp, body := get(t, ts.URL+"/")
	for _, want := range []string{"/static/js/wasm_exec.js", "/static/js/markpad-wasm.js"} {
		if !strings.Contains(body, want) {
			t.Errorf("editor page should load %s", want)
		}
	}
	if strings.Contains(body, "/static/js/markpad.js") {
		t.Error("editor page should not load the websocket client in wasm mode")
	}
	if csp := resp.Header.Get("Content-Security-Policy"); !strings.Contains(csp, "'wasm-unsafe-eval'") {
		t.Errorf("CSP %q should allow compiling the module", csp)
	}

	resp, body = get(t, ts.URL+"/static/js/markpad.wasm")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("markpad.wasm: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/wasm" {
		t.Errorf("markpad.wasm Content-Type = %q, want application/wasm", ct)
	}
	if body != module {
		t.Error("markpad.wasm body altered")
	}

	resp, body = get(t, ts.URL+"/static/js/markpad-wasm.js")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "markpad.wasm") {
		t.Errorf("wasm loader: status %d, body %q", resp.StatusCode, body)
	}
}

func TestWebSocketClientWithoutWASM(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	resp, body := get(t, ts.URL+"/")
	if strings.Contains(body, "wasm_exec.js") {
		t.Error("editor page should not load the wasm runtime by default")
	}
	if csp := resp.Header.Get("Content-Security-Policy"); strings.Contains(csp, "wasm") {
		t.Errorf("CSP %q should not allow wasm by default", csp)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	resp, _ := get(t, ts.URL+"/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health map[string]interface{}
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	resp, _ := get(t, ts.URL+"/")
	if resp.Header.Get("Content-Security-Policy") == "" {
		t.Error("expected Content-Security-Policy header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff")
	}
}

func TestCompression(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil)

	req, _ := http.NewRequest("GET", ts.URL+"/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", resp.Header.Get("Content-Encoding"))
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("invalid gzip stream: %v", err)
	}
	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	if !strings.Contains(string(body), `id="previewpane"`) {
		t.Error("decompressed page missing editor markup")
	}
}

func TestAPIDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.API.Enabled = false
	_, ts := newTestServer(t, cfg, openTestStore(t))

	resp, _ := get(t, ts.URL+"/api/articles")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 with API disabled, got %d", resp.StatusCode)
	}
}

func TestEnableWatchRequiresWWWRoot(t *testing.T) {
	srv, err := NewWithConfig(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer srv.Close()

	if err := srv.EnableWatch(false); err == nil {
		t.Error("expected error without www_root")
	}
}

func TestNewRendererUsesMarkdownConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Markdown.HardWraps = true

	out, err := NewRenderer(cfg).Render("a\nb")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "<br") {
		t.Errorf("hard wraps should produce <br>, got %q", out)
	}
}
