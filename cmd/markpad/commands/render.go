package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/livetemplate/markpad/internal/server"
)

var renderCommand = &cli.Command{
	Name:      "render",
	Usage:     "Render a Markdown file to HTML on stdout",
	ArgsUsage: "<file|->",
	Action:    render,
}

func render(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: markpad render <file|->")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	var src []byte
	if name := c.Args().First(); name == "-" {
		src, err = io.ReadAll(c.App.Reader)
	} else {
		src, err = os.ReadFile(name)
	}
	if err != nil {
		return fmt.Errorf("failed to read markdown: %w", err)
	}

	out, err := server.NewRenderer(cfg).Render(string(src))
	if err != nil {
		return err
	}

	_, err = io.WriteString(c.App.Writer, out)
	return err
}
