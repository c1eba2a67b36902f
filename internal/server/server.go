package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/livetemplate/markpad/internal/articles"
	"github.com/livetemplate/markpad/internal/assets"
	"github.com/livetemplate/markpad/internal/config"
	"github.com/livetemplate/markpad/internal/markdown"
)

// staticRoute maps a /static/ prefix to a www_root subdirectory. Only files whose
// names match pattern are served.
type staticRoute struct {
	prefix  string
	dir     string
	pattern *regexp.Regexp
}

var staticRoutes = []staticRoute{
	{prefix: "/static/css/", dir: "css", pattern: regexp.MustCompile(`\.css$`)},
	{prefix: "/static/font/", dir: "font", pattern: regexp.MustCompile(`\.(eot|otf|svg|ttf|woff|woff2)$`)},
	{prefix: "/static/img/", dir: "img", pattern: regexp.MustCompile(`\.(jpg|png|gif|ico|svg)$`)},
	{prefix: "/static/js/", dir: "js", pattern: regexp.MustCompile(`\.(js|wasm)$`)},
}

// indexPaths are the URLs that serve the editor page.
var indexPaths = map[string]bool{
	"/":           true,
	"/index":      true,
	"/index.htm":  true,
	"/index.html": true,
}

// Server is the markpad HTTP server: the editor page, static files, the preview
// websocket and the article API.
type Server struct {
	config      *config.Config
	wwwRoot     string
	renderer    *markdown.Renderer
	store       articles.Store
	index       *template.Template
	api         http.Handler
	connections map[*Session]bool // Track connected preview sessions
	connMu      sync.RWMutex      // Separate mutex for connections
	watcher     *Watcher          // File watcher for live reload
	cancel      context.CancelFunc
	limiterDone <-chan struct{}
	started     time.Time
}

// NewRenderer builds the Markdown renderer described by the configuration.
func NewRenderer(cfg *config.Config) *markdown.Renderer {
	return markdown.New(markdown.Options{
		Extensions: cfg.Markdown.Extensions,
		HardWraps:  cfg.Markdown.HardWraps,
		XHTML:      cfg.Markdown.XHTML,
		Unsafe:     cfg.Markdown.Unsafe,
		Sanitize:   cfg.Markdown.Sanitize,
	})
}

// NewWithConfig creates a server with a specific configuration. store may be nil, in
// which case the article endpoints answer 503.
func NewWithConfig(cfg *config.Config, store articles.Store) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	src, err := assets.GetIndexTemplate()
	if err != nil {
		return nil, fmt.Errorf("failed to load editor template: %w", err)
	}
	index, err := template.New("index").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse editor template: %w", err)
	}

	wwwRoot := cfg.Server.WWWRoot
	if wwwRoot != "" {
		if abs, err := filepath.Abs(wwwRoot); err == nil {
			wwwRoot = abs
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		config:      cfg,
		wwwRoot:     wwwRoot,
		renderer:    NewRenderer(cfg),
		store:       store,
		index:       index,
		connections: make(map[*Session]bool),
		cancel:      cancel,
		started:     time.Now(),
	}

	var api http.Handler = NewAPIHandler(store, srv.renderer, cfg.Server.Debug)
	limiter, done := RateLimitMiddleware(ctx, RateLimits{
		Write:      Limit{RPS: cfg.API.GetRateLimitRPS(), Burst: cfg.API.GetRateLimitBurst()},
		Render:     Limit{RPS: cfg.API.GetRenderRateLimitRPS(), Burst: cfg.API.GetRenderRateLimitBurst()},
		MaxClients: cfg.API.GetMaxTrackedIPs(),
	})
	srv.limiterDone = done
	api = limiter(api)
	api = CORSMiddleware(cfg.API.GetCORSOrigins())(api)
	srv.api = api

	return srv, nil
}

// Handler returns the server wrapped with security headers and compression.
func (s *Server) Handler() http.Handler {
	return WithCompression(SecurityHeadersMiddleware(s.config.Features.WASMPreview)(s))
}

// Close stops the watcher and the rate limiter cleanup. It does not close the store.
func (s *Server) Close() error {
	err := s.StopWatch()
	s.cancel()
	<-s.limiterDone
	return err
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case p == "/ws":
		s.serveWebSocket(w, r)
	case p == "/healthz":
		s.serveHealth(w, r)
	case strings.HasPrefix(p, "/api/"):
		if !s.config.IsAPIEnabled() {
			writeJSONError(w, http.StatusNotFound, "API is disabled")
			return
		}
		s.api.ServeHTTP(w, r)
	case strings.HasPrefix(p, "/static/"):
		s.serveStatic(w, r)
	case indexPaths[p]:
		s.serveIndex(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.connMu.RLock()
	sessions := len(s.connections)
	s.connMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": sessions,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

// indexData is passed to the editor page template.
type indexData struct {
	Title string
	Body  string
	WASM  bool // Load the in-browser preview instead of the websocket client
}

// serveIndex serves www_root/index.html when present, otherwise the embedded editor
// page. ?article=<id> preloads a stored article into the editor.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.wwwRoot != "" {
		if s.serveFile(w, r, filepath.Join(s.wwwRoot, "index.html")) {
			return
		}
	}

	data := indexData{Title: s.config.Title, WASM: s.config.Features.WASMPreview}
	if idParam := r.URL.Query().Get("article"); idParam != "" && s.store != nil {
		id, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid article id", http.StatusBadRequest)
			return
		}
		a, err := s.store.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		data.Title = a.Title
		data.Body = a.Body
	}

	var buf bytes.Buffer
	if err := s.index.Execute(&buf, data); err != nil {
		log.Printf("[Server] Failed to render editor page: %v", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}

// serveStatic serves files from www_root/{css,font,img,js}. The embedded stylesheet
// and client script are used when www_root does not provide them.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	for _, route := range staticRoutes {
		if !strings.HasPrefix(r.URL.Path, route.prefix) {
			continue
		}

		rel := path.Clean("/" + strings.TrimPrefix(r.URL.Path, route.prefix))
		if rel == "/" || !route.pattern.MatchString(rel) {
			break
		}

		if s.wwwRoot != "" {
			file := filepath.Join(s.wwwRoot, route.dir, filepath.FromSlash(rel))
			if s.serveFile(w, r, file) {
				return
			}
		}

		if s.serveEmbedded(w, r, route.dir, rel) {
			return
		}
		break
	}

	http.NotFound(w, r)
}

// serveFile writes the named regular file and reports whether it did.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func (s *Server) serveEmbedded(w http.ResponseWriter, r *http.Request, dir, rel string) bool {
	var name string
	switch {
	case dir == "css" && rel == "/markpad.css":
		name = "markpad.css"
	case dir == "js" && rel == "/markpad.js":
		name = "markpad.js"
	case dir == "js" && rel == "/markpad-wasm.js":
		name = "markpad-wasm.js"
	default:
		return false
	}

	f, err := assets.ClientFS().Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return false
	}

	var modTime time.Time
	if info, err := fs.Stat(assets.ClientFS(), name); err == nil {
		modTime = info.ModTime()
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
	return true
}

// RegisterConnection adds a preview session to the tracked connections.
func (s *Server) RegisterConnection(sess *Session) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[sess] = true
	log.Printf("[Server] Preview session %s registered: %d active connections", sess.ID(), len(s.connections))
}

// UnregisterConnection removes a preview session from tracked connections.
func (s *Server) UnregisterConnection(sess *Session) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, sess)
	log.Printf("[Server] Preview session %s unregistered: %d active connections", sess.ID(), len(s.connections))
}

// ConnectionCount returns the number of connected preview sessions.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// BroadcastReload sends a reload message to all connected preview sessions.
func (s *Server) BroadcastReload(filePath string) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	if len(s.connections) == 0 {
		return
	}

	log.Printf("[Server] Broadcasting reload for %s to %d connections", filePath, len(s.connections))

	for sess := range s.connections {
		if err := sess.send(ServerMessage{Action: ActionReload, FilePath: filePath}); err != nil {
			log.Printf("[Server] Failed to send reload to session %s: %v", sess.ID(), err)
		}
	}
}

// EnableWatch enables file watching of www_root for live reload.
func (s *Server) EnableWatch(debug bool) error {
	if s.wwwRoot == "" {
		return fmt.Errorf("hot reload needs server.www_root to be set")
	}

	watcher, err := NewWatcher(s.wwwRoot, func(filePath string) error {
		s.BroadcastReload(filePath)
		return nil
	}, debug)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()

	log.Printf("[Watch] File watcher started for %s", s.wwwRoot)
	return nil
}

// StopWatch stops the file watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		w := s.watcher
		s.watcher = nil
		return w.Stop()
	}
	return nil
}
