package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"panda/articles"
	"panda/db"
	"panda/models"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func articleCmd() *cli.Command {
	return &cli.Command{
		Name:  "article",
		Usage: "Browse stored articles",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List articles, newest first",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "feed", Usage: "Only articles of this feed"},
					&cli.Int64Flag{Name: "category", Usage: "Only articles filed under this category"},
					&cli.Int64Flag{Name: "tag", Usage: "Only articles carrying this tag"},
					&cli.BoolFlag{Name: "unread", Usage: "Only unread articles"},
					&cli.BoolFlag{Name: "favorited", Usage: "Only favorited articles"},
					&cli.IntFlag{Name: "limit", Value: articles.DefaultLimit, Usage: "Number of articles to show"},
					&cli.IntFlag{Name: "offset", Usage: "Number of articles to skip"},
					&cli.BoolFlag{Name: "json", Usage: "Print the page as JSON"},
				},
				Action: func(ctx *cli.Context) error {
					filter := db.ArticleFilter{Limit: ctx.Int("limit"), Offset: ctx.Int("offset")}
					if ctx.IsSet("feed") {
						filter.FeedID = lo.ToPtr(ctx.Int64("feed"))
					}
					if ctx.IsSet("category") {
						filter.CategoryID = lo.ToPtr(ctx.Int64("category"))
					}
					if ctx.IsSet("tag") {
						filter.TagID = lo.ToPtr(ctx.Int64("tag"))
					}
					if ctx.Bool("unread") {
						filter.ReadStatus = lo.ToPtr(models.Unread)
					}
					if ctx.Bool("favorited") {
						filter.Favorited = lo.ToPtr(true)
					}

					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					page, err := e.articles.List(ctx.Context, filter)
					if err != nil {
						return err
					}
					if ctx.Bool("json") {
						return json.NewEncoder(os.Stdout).Encode(page)
					}
					return printArticles(page)
				},
			},
			{
				Name:      "read",
				Usage:     "Mark an article read",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "Mark it unread again"},
				},
				Action: func(ctx *cli.Context) error {
					id, err := idArg(ctx)
					if err != nil {
						return err
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					status := models.Read
					if ctx.Bool("undo") {
						status = models.Unread
					}
					return e.articles.SetRead(ctx.Context, id, status)
				},
			},
			{
				Name:      "favorite",
				Usage:     "Favorite an article, favorites are never tidied",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "Remove it from the favorites"},
				},
				Action: func(ctx *cli.Context) error {
					id, err := idArg(ctx)
					if err != nil {
						return err
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()
					return e.articles.SetFavorited(ctx.Context, id, !ctx.Bool("undo"))
				},
			},
		},
	}
}

func printArticles(page *articles.Page) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFEED\tSTATUS\tFAV\tPUBLISHED\tTITLE")
	for _, a := range page.Articles {
		fav := ""
		if a.IsFavorited {
			fav = "*"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			a.Id, a.FeedID, a.ReadStatus, fav, relative(a.PublishedAt), a.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d-%d of %s\n", page.Offset+min(1, len(page.Articles)), page.Offset+len(page.Articles),
		humanize.Comma(int64(page.Total)))
	return nil
}

func tagCmd() *cli.Command {
	return &cli.Command{
		Name:  "tag",
		Usage: "Manage tags",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List every tag",
				Action: func(ctx *cli.Context) error {
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					tags, err := e.resolver.ListTags(ctx.Context)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME")
					for _, tag := range tags {
						fmt.Fprintf(w, "%d\t%s\n", tag.Id, tag.Name)
					}
					return w.Flush()
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a tag and unlink it from its articles",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Do not ask for confirmation"},
				},
				Action: func(ctx *cli.Context) error {
					id, err := idArg(ctx)
					if err != nil {
						return err
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					if !ctx.Bool("yes") {
						tagged, err := e.db.CountArticles(ctx.Context, db.ArticleFilter{TagID: &id})
						if err != nil {
							return err
						}
						ok, err := confirm(fmt.Sprintf("Delete tag %d from %d articles?", id, tagged))
						if err != nil || !ok {
							return err
						}
					}
					tag, err := e.resolver.DeleteTag(ctx.Context, id)
					if err != nil {
						return err
					}
					fmt.Printf("Deleted tag %s\n", tag.Name)
					return nil
				},
			},
		},
	}
}
