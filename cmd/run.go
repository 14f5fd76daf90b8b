package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"panda/scheduler"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Refresh every due feed once",
		Description: `Runs a single scheduling cycle: every feed that is due is
		fetched, parsed and merged, then the cycle report is printed.

		Can be run as a cron job instead of serve.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the report as JSON",
			},
			&cli.Int64Flag{
				Name:  "feed",
				Usage: "Refresh only this feed, even when it is not due",
			},
		},
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if ctx.IsSet("feed") {
				started := time.Now()
				outcome, err := e.scheduler.RefreshFeed(ctx.Context, ctx.Int64("feed"))
				if err != nil {
					return err
				}
				report := scheduler.ReportOf(time.Since(started), outcome)
				if err := printReport(report, ctx.Bool("json")); err != nil {
					return err
				}
				return report.ErrorOrNil()
			}

			report, err := e.scheduler.RunOnce(ctx.Context)
			if err != nil {
				return err
			}
			if err := printReport(report, ctx.Bool("json")); err != nil {
				return err
			}
			return report.ErrorOrNil()
		},
	}
}

func printReport(report *scheduler.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FEED\tRESULT\tINSERTED\tUPDATED\tSKIPPED\tNEXT\tERROR")
	for _, o := range report.Outcomes {
		next := "-"
		if o.Result != scheduler.ResultCancelled {
			next = humanize.Time(time.Now().Add(o.Interval))
		}
		fmt.Fprintf(w, "%d %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.FeedID, o.Url, o.Result,
			humanize.Comma(int64(o.Stats.Inserted)),
			humanize.Comma(int64(o.Stats.Updated)),
			humanize.Comma(int64(o.Stats.Skipped)),
			next, o.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d due, %d skipped, %d ok, %d not modified, %d failed in %s\n",
		report.Due, report.Skipped, report.Succeeded, report.NotModified, report.Failed,
		report.Took.Round(time.Millisecond))
	return nil
}
