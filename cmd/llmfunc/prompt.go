package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/prompter"
)

func promptCmd() *cli.Command {
	var (
		co      common
		catalog string
		prompt  string
	)

	return &cli.Command{
		Name:      "prompt",
		Usage:     "Render the model prompt for a catalog without loading a model",
		ArgsUsage: "[prompt]",
		Flags:     append(co.flags(), functionsFlag(&catalog), promptFlag(&prompt)),
		Before:    co.before,
		After:     co.after,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text, err := resolvePrompt(prompt, cmd.Args().Slice())
			if err != nil {
				return err
			}
			cat, err := loadCatalog(catalog, co.cfg)
			if err != nil {
				return err
			}
			rendered, err := prompter.Render(text, cat)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, rendered)
			return err
		},
	}
}
