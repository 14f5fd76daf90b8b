package cmd

import (
	"fmt"
	"strconv"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

func idArg(ctx *cli.Context) (int64, error) {
	raw := ctx.Args().First()
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func confirm(question string) (bool, error) {
	answer, err := prompt.New().Ask(question).Choose([]string{"No", "Yes"})
	if err != nil {
		return false, err
	}
	return answer == "Yes", nil
}
