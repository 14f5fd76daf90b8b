package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"panda/opml"

	"github.com/urfave/cli/v2"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import subscriptions from an OPML file",
		ArgsUsage: "<file.opml|->",
		Description: `Folders become categories, nested as in the file. Feeds that
		are already subscribed are skipped. Entries that cannot be imported
		are reported and the rest of the file is still applied.`,
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return errors.New("expected an OPML file, or - for stdin")
			}
			var r io.Reader = os.Stdin
			if name := ctx.Args().First(); name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			entries, err := opml.Parse(r)
			if err != nil {
				return err
			}
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := opml.Import(ctx.Context, e.resolver, e.registry, entries)
			fmt.Printf("Imported %d feeds, %d already subscribed, %d failed\n",
				result.Added, result.Existing, result.Failed)
			return err
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export subscriptions as OPML",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write, stdout when empty",
			},
			&cli.StringFlag{
				Name:  "title",
				Value: "panda subscriptions",
				Usage: "Document title",
			},
		},
		Action: func(ctx *cli.Context) error {
			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			categories, err := e.resolver.ListCategories(ctx.Context)
			if err != nil {
				return err
			}
			feeds, err := e.registry.List(ctx.Context)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if name := ctx.String("output"); name != "" {
				f, err := os.Create(name)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return opml.Export(w, ctx.String("title"), categories, feeds)
		},
	}
}
