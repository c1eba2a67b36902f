package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/livetemplate/markpad/internal/config"
)

var initCommand = &cli.Command{
	Name:      "init",
	Usage:     "Write a default " + config.FileName + " and www root",
	ArgsUsage: "[directory]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing configuration"},
	},
	Action: initProject,
}

func initProject(c *cli.Context) error {
	dir := "."
	if c.Args().Len() > 0 {
		dir = c.Args().First()
	}

	configPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	for _, sub := range []string{"css", "font", "img", "js"} {
		if err := os.MkdirAll(filepath.Join(dir, "www", sub), 0755); err != nil {
			return fmt.Errorf("failed to create www root: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Server.WWWRoot = "www"
	cfg.Cache = &config.CacheConfig{TTL: "1m"}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "✨ Created %s\n", configPath)
	fmt.Fprintf(c.App.Writer, "📁 Static files go in %s/{css,font,img,js}\n", filepath.Join(dir, "www"))
	return nil
}
