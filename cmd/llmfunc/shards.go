package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/hub"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/weights"
)

func shardsCmd() *cli.Command {
	var (
		co       common
		src      modelSource
		manifest string
		download bool
	)

	return &cli.Command{
		Name:  "shards",
		Usage: "List the weight shards named by a safetensors index",
		Flags: append(co.flags(),
			&cli.StringFlag{
				Name:        "model-dir",
				Usage:       "local checkpoint directory",
				Destination: &src.dir,
			},
			&cli.StringFlag{
				Name:        "hub-repo",
				Usage:       "hub repository id",
				Value:       model.MixtralRepo,
				Destination: &src.repo,
			},
			&cli.StringFlag{
				Name:        "revision",
				Usage:       "hub revision",
				Value:       "main",
				Destination: &src.revision,
			},
			&cli.StringFlag{
				Name:        "manifest",
				Usage:       "index file name",
				Value:       weights.IndexFile,
				Destination: &manifest,
			},
			&cli.BoolFlag{
				Name:        "download",
				Usage:       "fetch every shard and print local paths",
				Destination: &download,
			},
		),
		Before: co.before,
		After:  co.after,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applySourceConfig(cmd, co.cfg, &src)

			var (
				files []string
				err   error
			)
			switch {
			case src.dir != "":
				files, err = weights.FromDir(src.dir, manifest)
			case download:
				client := hub.New(hub.WithLogger(logger.FromContext(ctx)))
				files, err = weights.FromHub(ctx, client.Repo(src.repo, src.revision), manifest)
			default:
				client := hub.New(hub.WithLogger(logger.FromContext(ctx)))
				files, err = hubShardNames(ctx, client.Repo(src.repo, src.revision), manifest)
			}
			if err != nil {
				return err
			}
			for _, f := range files {
				if _, err := fmt.Fprintln(os.Stdout, f); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// hubShardNames fetches only the manifest and returns the shard names.
func hubShardNames(ctx context.Context, repo *hub.Repo, manifest string) ([]string, error) {
	idx, err := repo.Get(ctx, manifest)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(idx)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return weights.ParseManifest(f)
}
