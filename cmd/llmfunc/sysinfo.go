package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/device"
	"github.com/samcharles93/llmfunc/internal/logger"
)

func sysinfoCmd() *cli.Command {
	var (
		co        common
		name      string
		flashAttn bool
	)

	return &cli.Command{
		Name:  "sysinfo",
		Usage: "Show the compute device and CPU features",
		Flags: append(co.flags(),
			&cli.StringFlag{
				Name:        "device",
				Usage:       "device to probe (auto, cpu, cuda)",
				Value:       device.Auto,
				Destination: &name,
			},
			&cli.BoolFlag{
				Name:        "flash-attn",
				Usage:       "report flash attention support",
				Destination: &flashAttn,
			},
		),
		Before: co.before,
		After:  co.after,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			setColor(os.Stdout)

			d, err := device.ByName(name, log)
			if err != nil {
				return err
			}
			device.LogCapabilities(log, d, flashAttn)

			label := color.CyanString
			fmt.Printf("%s %s\n", label("device:  "), d.Name())
			fmt.Printf("%s %d\n", label("threads: "), d.Threads())
			fmt.Printf("%s %s/%s\n", label("platform:"), runtime.GOOS, runtime.GOARCH)
			fmt.Printf("%s %s\n", label("go:      "), runtime.Version())
			feats := d.Features()
			if len(feats) == 0 {
				feats = []string{"none detected"}
			}
			fmt.Printf("%s %s\n", label("features:"), strings.Join(feats, " "))
			return nil
		},
	}
}
