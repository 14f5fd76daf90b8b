package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing articles that have been read.

		Removes read articles that are not favorited and were stored more
		than the given number of days ago. Unread and favorited articles are
		always kept.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "days",
				Value:   90,
				Usage:   "Remove read articles older than this many days",
				EnvVars: []string{"PANDA_TIDY_DAYS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			days := ctx.Int("days")
			if days < 1 {
				return errors.New("days must be at least 1")
			}
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			removed, err := e.db.Tidy(ctx.Context, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s articles\n", humanize.Comma(removed))
			return nil
		},
	}
}
