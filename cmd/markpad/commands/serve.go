package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livetemplate/markpad/internal/articles"
	"github.com/livetemplate/markpad/internal/server"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the editor server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "Listen on `HOST`",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Listen on `PORT`",
		},
		&cli.StringFlag{
			Name:  "www-root",
			Usage: "Serve index.html and static files from `DIR`",
		},
		&cli.BoolFlag{
			Name:    "watch",
			Aliases: []string{"w"},
			Usage:   "Reload connected pages when files under the www root change",
		},
		&cli.BoolFlag{
			Name:  "wasm",
			Usage: "Render the preview in the browser with markpad.wasm from the www root",
		},
	},
	Action: serve,
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// CLI flags override config
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("www-root") {
		cfg.Server.WWWRoot = c.String("www-root")
	}
	if c.IsSet("watch") {
		cfg.Features.HotReload = c.Bool("watch")
	}
	if c.IsSet("wasm") {
		cfg.Features.WASMPreview = c.Bool("wasm")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Server.WWWRoot != "" {
		if info, err := os.Stat(cfg.Server.WWWRoot); err != nil || !info.IsDir() {
			return fmt.Errorf("www root does not exist: %s", cfg.Server.WWWRoot)
		}
	}

	if cfg.Features.WASMPreview {
		if cfg.Server.WWWRoot == "" {
			return errors.New("the wasm preview is served from the www root: set --www-root")
		}
		if missing := missingWASMFiles(cfg.Server.WWWRoot); len(missing) > 0 {
			log.Printf("[Server] WASM preview enabled but %s missing from %s", strings.Join(missing, ", "), filepath.Join(cfg.Server.WWWRoot, "js"))
			fmt.Fprint(c.App.Writer, wasmBuildHint(cfg.Server.WWWRoot))
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store articles.Store
	if cfg.IsAPIEnabled() {
		s, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			log.Printf("[Store] Article store unavailable, continuing without it: %v", err)
		} else {
			store = s
			defer closeStore()
		}
	}

	srv, err := server.NewWithConfig(cfg, store)
	if err != nil {
		return err
	}
	defer srv.Close()

	fmt.Fprintf(c.App.Writer, "📝 markpad editor server\n\n")
	if cfg.Server.WWWRoot != "" {
		fmt.Fprintf(c.App.Writer, "Serving: %s\n", cfg.Server.WWWRoot)
	} else {
		fmt.Fprintf(c.App.Writer, "Serving: built-in editor page\n")
	}

	if cfg.Features.HotReload {
		if err := srv.EnableWatch(cfg.Server.Debug); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "👀 Watch mode enabled - pages reload when static files change\n")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(c.App.Writer, "\n🌐 Server running at http://%s\n", addr)
	if cfg.IsAPIEnabled() {
		if store != nil {
			fmt.Fprintf(c.App.Writer, "🔌 Article API enabled at /api/articles (%s)\n", cfg.Database.GetDriver())
		}
		fmt.Fprintf(c.App.Writer, "🔌 Render API enabled at /api/render\n")
	}
	if cfg.Features.WASMPreview {
		fmt.Fprintf(c.App.Writer, "🧩 Preview renders in the browser (markpad.wasm)\n")
	}
	fmt.Fprintf(c.App.Writer, "⚡ Gzip compression enabled\n")
	fmt.Fprintf(c.App.Writer, "Press Ctrl+C to stop\n\n")

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// wasmFiles are the www_root/js files the in-browser preview loads.
var wasmFiles = []string{"markpad.wasm", "wasm_exec.js"}

// missingWASMFiles returns the wasmFiles not present under wwwRoot/js.
func missingWASMFiles(wwwRoot string) []string {
	var missing []string
	for _, name := range wasmFiles {
		if info, err := os.Stat(filepath.Join(wwwRoot, "js", name)); err != nil || !info.Mode().IsRegular() {
			missing = append(missing, name)
		}
	}
	return missing
}

func wasmBuildHint(wwwRoot string) string {
	js := filepath.Join(wwwRoot, "js")
	return fmt.Sprintf("To build the in-browser preview:\n"+
		"  GOOS=js GOARCH=wasm go build -o %s ./cmd/markpad-wasm\n"+
		"  cp \"$(go env GOROOT)/lib/wasm/wasm_exec.js\" %s\n\n",
		filepath.Join(js, "markpad.wasm"), js)
}
