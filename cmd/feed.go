package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"panda/models"
	"panda/registry"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Manage feed subscriptions",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Subscribe to a feed",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Display title, defaults to the URL"},
					&cli.Int64Flag{Name: "category", Usage: "Category id to file the feed under"},
					&cli.StringFlag{Name: "site", Usage: "URL of the site the feed belongs to"},
					&cli.DurationFlag{Name: "interval", Usage: "Refresh interval overriding the default"},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return errors.New("expected exactly one feed URL")
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					opts := registry.AddOptions{Title: ctx.String("title")}
					if ctx.IsSet("category") {
						opts.CategoryID = lo.ToPtr(ctx.Int64("category"))
					}
					if ctx.IsSet("site") {
						opts.SiteUrl = lo.ToPtr(ctx.String("site"))
					}
					if ctx.IsSet("interval") {
						opts.RefreshInterval = lo.ToPtr(ctx.Duration("interval"))
					}
					feed, err := e.registry.AddFeed(ctx.Context, ctx.Args().First(), opts)
					if err != nil {
						return err
					}
					fmt.Printf("Added feed %d: %s\n", feed.Id, feed.Url)
					return nil
				},
			},
			{
				Name:      "remove",
				Usage:     "Unsubscribe from a feed and delete its articles",
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

					feed, err := e.registry.Get(ctx.Context, id)
					if err != nil {
						return err
					}
					if !ctx.Bool("yes") {
						ok, err := confirm(fmt.Sprintf("Remove %s and all of its articles?", feed.Url))
						if err != nil || !ok {
							return err
						}
					}
					if err := e.registry.RemoveFeed(ctx.Context, id); err != nil {
						return err
					}
					fmt.Printf("Removed feed %d\n", id)
					return nil
				},
			},
			{
				Name:      "status",
				Usage:     "Enable or disable a feed",
				ArgsUsage: "<id> <active|disabled>",
				Description: `Setting a feed to active also resets a feed parked in
				permanent_error and schedules it right away.`,
				Action: func(ctx *cli.Context) error {
					id, err := idArg(ctx)
					if err != nil {
						return err
					}
					status := models.FeedStatus(ctx.Args().Get(1))
					if !status.Valid() {
						return fmt.Errorf("unknown status %q", status)
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()
					return e.registry.SetStatus(ctx.Context, id, status)
				},
			},
			{
				Name:      "move",
				Usage:     "File a feed under another category",
				ArgsUsage: "<id> [category id]",
				Description: `Without a category id the feed is moved to the root.
				Articles already stored keep their category.`,
				Action: func(ctx *cli.Context) error {
					id, err := idArg(ctx)
					if err != nil {
						return err
					}
					var categoryID *int64
					if ctx.NArg() > 1 {
						parsed, err := strconv.ParseInt(ctx.Args().Get(1), 10, 64)
						if err != nil {
							return fmt.Errorf("invalid category id %q", ctx.Args().Get(1))
						}
						categoryID = &parsed
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()
					return e.registry.SetCategory(ctx.Context, id, categoryID)
				},
			},
			{
				Name:  "list",
				Usage: "List subscriptions with their schedule",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print one JSON object per line"},
				},
				Action: func(ctx *cli.Context) error {
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					feeds, err := e.registry.List(ctx.Context)
					if err != nil {
						return err
					}
					if ctx.Bool("json") {
						enc := json.NewEncoder(os.Stdout)
						for _, feed := range feeds {
							if err := enc.Encode(feed); err != nil {
								return err
							}
						}
						return nil
					}
					return printFeeds(feeds)
				},
			},
		},
	}
}

func printFeeds(feeds []models.Feed) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tURL\tLAST FETCH\tNEXT FETCH\tFAILURES\tERROR")
	for _, feed := range feeds {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			feed.Id, feed.Status, feed.Url,
			relative(feed.LastFetchedAt), relative(feed.NextFetchAt),
			feed.ConsecutiveFailures, lo.FromPtr(feed.ErrorMessage))
	}
	return w.Flush()
}

func relative(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}
