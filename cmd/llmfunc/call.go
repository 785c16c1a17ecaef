package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/chooser"
	"github.com/samcharles93/llmfunc/internal/logger"
)

func callCmd() *cli.Command {
	var (
		co        common
		src       modelSource
		samp      sampling
		catalog   string
		prompt    string
		stream    bool
		jsonOut   bool
		showInput bool
	)

	flags := co.flags()
	flags = append(flags, sourceFlags(&src)...)
	flags = append(flags, samplingFlags(&samp)...)
	flags = append(flags,
		functionsFlag(&catalog),
		promptFlag(&prompt),
		&cli.BoolFlag{
			Name:        "stream",
			Usage:       "print completion text as it is generated",
			Destination: &stream,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the call as JSON",
			Destination: &jsonOut,
		},
		&cli.BoolFlag{
			Name:        "show-prompt",
			Usage:       "print the rendered prompt before generating",
			Destination: &showInput,
		},
	)

	return &cli.Command{
		Name:      "call",
		Usage:     "Ask the model which function answers a prompt",
		ArgsUsage: "[prompt]",
		Flags:     flags,
		Before:    co.before,
		After:     co.after,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			setColor(os.Stdout)

			text, err := resolvePrompt(prompt, cmd.Args().Slice())
			if err != nil {
				return err
			}
			cat, err := loadCatalog(catalog, co.cfg)
			if err != nil {
				return err
			}
			applySourceConfig(cmd, co.cfg, &src)
			params := samp.params(cmd, co.cfg)
			if err := params.Validate(); err != nil {
				return err
			}
			if showInput {
				if err := printPrompt(os.Stdout, text, cat); err != nil {
					return err
				}
			}

			m, err := loadModel(ctx, src, params)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					log.Warn("close model", "error", err)
				}
			}()
			log.Info("model loaded", "model", m.Name(), "device", m.Device().Name(), "functions", cat.Len())

			ch := chooser.New(m, cat, chooser.WithParams(params), chooser.WithLogger(log))
			req := chooser.Request{Prompt: text}
			if stream {
				req.Stream = func(s string) { _, _ = fmt.Fprint(os.Stderr, s) }
			}
			call, res, err := ch.Do(ctx, req)
			if stream {
				_, _ = fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(os.Stdout, call)
			}
			printCall(os.Stdout, call, res)
			return nil
		},
	}
}
