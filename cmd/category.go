package cmd

import (
	"errors"
	"fmt"
	"os"
	"panda/models"
	"strconv"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func categoryCmd() *cli.Command {
	return &cli.Command{
		Name:  "category",
		Usage: "Manage the category tree",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a category",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "parent", Usage: "Parent category id"},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return errors.New("expected exactly one category name")
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()

					var parent *int64
					if ctx.IsSet("parent") {
						parent = lo.ToPtr(ctx.Int64("parent"))
					}
					category, err := e.resolver.CreateCategory(ctx.Context, ctx.Args().First(), parent)
					if err != nil {
						return err
					}
					fmt.Printf("Created category %d: %s\n", category.Id, category.Name)
					return nil
				},
			},
			{
				Name:      "move",
				Usage:     "Move a category under another parent",
				ArgsUsage: "<id> [parent id]",
				Action: func(ctx *cli.Context) error {
					id, err := idArg(ctx)
					if err != nil {
						return err
					}
					var parent *int64
					if ctx.NArg() > 1 {
						parsed, err := strconv.ParseInt(ctx.Args().Get(1), 10, 64)
						if err != nil {
							return fmt.Errorf("invalid parent id %q", ctx.Args().Get(1))
						}
						parent = &parsed
					}
					e, err := openEngine(ctx)
					if err != nil {
						return err
					}
					defer e.Close()
					return e.resolver.SetParent(ctx.Context, id, parent)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a category",
				ArgsUsage: "<id>",
				Description: `With the reject policy a category that still has children,
				feeds or articles is refused. With the reparent policy those move
				to the deleted category's parent.`,
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

					category, err := e.resolver.ResolveCategory(ctx.Context, id)
					if err != nil {
						return err
					}
					if !ctx.Bool("yes") {
						question := fmt.Sprintf("Delete category %s (%s policy)?", category.Name, e.resolver.Policy())
						ok, err := confirm(question)
						if err != nil || !ok {
							return err
						}
					}
					if err := e.resolver.DeleteCategory(ctx.Context, id); err != nil {
						return err
					}
					fmt.Printf("Deleted category %d\n", id)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "Show the category tree",
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
					return printCategories(categories)
				},
			},
		},
	}
}

func printCategories(categories []models.Category) error {
	children := lo.GroupBy(categories, func(c models.Category) int64 {
		return lo.FromPtr(c.ParentID)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	var walk func(parent int64, depth int)
	walk = func(parent int64, depth int) {
		for _, c := range children[parent] {
			fmt.Fprintf(w, "%d\t%*s%s\n", c.Id, depth*2, "", c.Name)
			walk(c.Id, depth+1)
		}
	}
	walk(0, 0)
	return w.Flush()
}
