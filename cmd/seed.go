package cmd

import (
	"errors"
	"fmt"
	"panda/models"
	"panda/registry"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func seedCmd() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create the categories and feeds listed in the config file",
		Description: `Applies the [[categories]] and [[feeds]] lists of the
		configuration file. Categories that exist are reused and feeds that
		are already subscribed are left alone, so seeding twice is harmless.`,
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			for _, category := range e.cfg.Categories {
				path := append(append([]string{}, category.Path...), category.Name)
				if _, err := e.resolver.EnsurePath(ctx.Context, path); err != nil {
					return err
				}
			}

			added, existing := 0, 0
			for _, feed := range e.cfg.Feeds {
				categoryID, err := e.resolver.EnsurePath(ctx.Context, feed.Category)
				if err != nil {
					return err
				}
				opts := registry.AddOptions{Title: feed.Title, CategoryID: categoryID}
				if feed.SiteUrl != "" {
					opts.SiteUrl = lo.ToPtr(feed.SiteUrl)
				}
				if feed.RefreshInterval != nil {
					opts.RefreshInterval = lo.ToPtr(feed.RefreshInterval.Duration)
				}

				_, err = e.registry.AddFeed(ctx.Context, feed.Url, opts)
				switch {
				case err == nil:
					added++
				case errors.Is(err, models.ErrAlreadyExists):
					existing++
					log.WithFields(log.Fields{"url": feed.Url}).Debug("Feed already subscribed")
				default:
					return err
				}
			}

			fmt.Printf("Seeded %d categories, %d new feeds, %d already present\n",
				len(e.cfg.Categories), added, existing)
			return nil
		},
	}
}
