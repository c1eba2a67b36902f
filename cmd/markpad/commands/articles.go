package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/livetemplate/markpad/internal/articles"
)

var articlesCommand = &cli.Command{
	Name:  "articles",
	Usage: "Manage stored articles",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "Store a Markdown file as an article",
			ArgsUsage: "<file|->",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "title", Usage: "Article `TITLE`", Required: true},
				&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Tag the article (repeatable)"},
			},
			Action: addArticle,
		},
		{
			Name:  "list",
			Usage: "List articles",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "title", Usage: "Only titles containing `TEXT`"},
				&cli.StringFlag{Name: "body", Usage: "Only bodies containing `TEXT`"},
				&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Only articles with every given tag"},
			},
			Action: listArticles,
		},
		{
			Name:      "show",
			Usage:     "Print an article's Markdown",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "title", Usage: "Look the article up by its exact `TITLE` instead of id"},
			},
			Action: showArticle,
		},
		{
			Name:      "related",
			Usage:     "List articles sharing tags with an article",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 10, Usage: "Show at most `N` articles"},
			},
			Action: relatedArticles,
		},
		{
			Name:      "delete",
			Usage:     "Delete an article",
			ArgsUsage: "<id>",
			Action:    deleteArticle,
		},
	},
}

// withStore runs fn against the configured article store.
func withStore(c *cli.Context, fn func(store articles.Store) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open article store: %w", err)
	}
	defer closeStore()

	return fn(store)
}

func articleID(c *cli.Context) (int64, error) {
	if c.Args().Len() != 1 {
		return 0, fmt.Errorf("usage: markpad articles %s <id>", c.Command.Name)
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid article id: %s", c.Args().First())
	}
	return id, nil
}

func addArticle(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: markpad articles add --title TITLE [--tag TAG]... <file|->")
	}

	var (
		body []byte
		err  error
	)
	if name := c.Args().First(); name == "-" {
		body, err = io.ReadAll(c.App.Reader)
	} else {
		body, err = os.ReadFile(name)
	}
	if err != nil {
		return fmt.Errorf("failed to read markdown: %w", err)
	}

	return withStore(c, func(store articles.Store) error {
		id, err := store.Insert(c.Context, c.String("title"), string(body), c.StringSlice("tag"))
		if err != nil {
			if errors.Is(err, articles.ErrDuplicateTitle) {
				return fmt.Errorf("%w: %q", err, c.String("title"))
			}
			return err
		}
		fmt.Fprintf(c.App.Writer, "✅ Stored article %d\n", id)
		return nil
	})
}

func listArticles(c *cli.Context) error {
	filter := articles.Filter{
		Title: c.String("title"),
		Body:  c.String("body"),
		Tags:  c.StringSlice("tag"),
	}

	return withStore(c, func(store articles.Store) error {
		list, err := store.List(c.Context, filter)
		if err != nil {
			return err
		}
		printArticles(c.App.Writer, list)
		return nil
	})
}

func showArticle(c *cli.Context) error {
	title := c.String("title")

	var id int64
	if title == "" {
		var err error
		if id, err = articleID(c); err != nil {
			return err
		}
	}

	return withStore(c, func(store articles.Store) error {
		var (
			a   *articles.Article
			err error
		)
		if title != "" {
			a, err = store.GetByTitle(c.Context, title)
		} else {
			a, err = store.Get(c.Context, id)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "# %s\n\n%s\n", a.Title, a.Body)
		return nil
	})
}

func relatedArticles(c *cli.Context) error {
	id, err := articleID(c)
	if err != nil {
		return err
	}

	return withStore(c, func(store articles.Store) error {
		if _, err := store.Get(c.Context, id); err != nil {
			return err
		}
		list, err := store.Related(c.Context, id, c.Int("limit"))
		if err != nil {
			return err
		}
		printArticles(c.App.Writer, list)
		return nil
	})
}

func deleteArticle(c *cli.Context) error {
	id, err := articleID(c)
	if err != nil {
		return err
	}

	return withStore(c, func(store articles.Store) error {
		if err := store.Delete(c.Context, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "🗑️  Deleted article %d\n", id)
		return nil
	})
}

func printArticles(w io.Writer, list []*articles.Article) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No articles found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTAGS")
	for _, a := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", a.ID, a.Title, strings.Join(a.Tags, ", "))
	}
	tw.Flush()
}
