// Package commands implements the markpad CLI.
package commands

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/livetemplate/markpad/internal/articles"
	"github.com/livetemplate/markpad/internal/cache"
	"github.com/livetemplate/markpad/internal/config"
)

// Version is the markpad release version.
const Version = "0.1.0-dev"

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Load configuration from `FILE` (default: ./" + config.FileName + ")",
	},
	&cli.BoolFlag{
		Name:  "debug",
		Usage: "Log every preview event, websocket message and query",
	},
}

// NewApp builds the markpad command line application.
func NewApp() *cli.App {
	return &cli.App{
		Name:     "markpad",
		HelpName: "markpad",
		Usage:    "Markdown editor with live preview",
		Version:  Version,
		Flags:    globalFlags,
		Commands: []*cli.Command{
			initCommand,
			serveCommand,
			renderCommand,
			articlesCommand,
			versionCommand,
		},
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Show version",
	Action: func(c *cli.Context) error {
		fmt.Fprintf(c.App.Writer, "markpad version %s\n", Version)
		return nil
	},
}

// loadConfig reads the configuration named by --config, or markpad.yaml in the
// working directory, then applies the environment and --debug.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	path := c.String("config")
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// A relative www_root in the file is relative to the file
	if path != "" && cfg.Server.WWWRoot != "" && !filepath.IsAbs(cfg.Server.WWWRoot) {
		cfg.Server.WWWRoot = filepath.Join(filepath.Dir(path), cfg.Server.WWWRoot)
	}

	cfg.ApplyEnv()
	if c.Bool("debug") {
		cfg.Server.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured article store, wrapped in a lookup cache when
// cache.ttl is set. The returned function releases both.
func openStore(ctx context.Context, cfg *config.Config) (articles.Store, func(), error) {
	sqlStore, err := articles.Open(ctx, cfg.Database.GetDriver(), cfg.Database.GetDSN())
	if err != nil {
		return nil, nil, err
	}
	sqlStore.SetDebug(cfg.Server.Debug)

	ttl := cfg.GetCacheTTL()
	if ttl <= 0 {
		return sqlStore, func() { sqlStore.Close() }, nil
	}

	lookups := cache.NewMemoryCache[int64, *articles.Article]()
	if cfg.Server.Debug {
		log.Printf("[Store] Caching article lookups for %s", ttl)
	}
	closeAll := func() {
		lookups.Stop()
		sqlStore.Close()
	}
	return articles.NewCached(sqlStore, lookups, ttl), closeAll, nil
}

func init() {
	log.SetFlags(0) // Remove timestamp from logs
}
