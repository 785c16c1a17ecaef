package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/api"
	"github.com/samcharles93/llmfunc/internal/callcache"
	"github.com/samcharles93/llmfunc/internal/chooser"
	"github.com/samcharles93/llmfunc/internal/functions"
	"github.com/samcharles93/llmfunc/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		co          common
		src         modelSource
		samp        sampling
		catalog     string
		addr        string
		readTimeout time.Duration
		cacheSpec   string
		cacheTTL    time.Duration
		noModel     bool
	)

	flags := co.flags()
	flags = append(flags, sourceFlags(&src)...)
	flags = append(flags, samplingFlags(&samp)...)
	flags = append(flags,
		functionsFlag(&catalog),
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.StringFlag{
			Name:        "cache",
			Usage:       "call cache for greedy requests (none, memory, redis://host:port/db)",
			Value:       "memory",
			Destination: &cacheSpec,
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Usage:       "call cache entry lifetime",
			Value:       callcache.DefaultTTL,
			Destination: &cacheTTL,
		},
		&cli.BoolFlag{
			Name:        "no-model",
			Usage:       "serve only the prompt and catalog routes",
			Destination: &noModel,
		},
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the function calling API",
		Flags:  flags,
		Before: co.before,
		After:  co.after,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if err := applyServeConfig(cmd, co.cfg, &addr, &cacheSpec, &cacheTTL); err != nil {
				return err
			}
			applySourceConfig(cmd, co.cfg, &src)

			var cat *functions.Catalog
			if catalog != "" || co.cfg.Functions != "" {
				c, err := loadCatalog(catalog, co.cfg)
				if err != nil {
					return err
				}
				cat = c
			}

			opts := []api.Option{api.WithLogger(log), api.WithCatalog(cat)}
			var ch *chooser.Chooser
			if !noModel {
				params := samp.params(cmd, co.cfg)
				if err := params.Validate(); err != nil {
					return err
				}
				m, err := loadModel(ctx, src, params)
				if err != nil {
					return err
				}
				defer m.Close()
				ch = chooser.New(m, cat, chooser.WithParams(params), chooser.WithLogger(log))

				cache, err := callcache.Open(cacheSpec, cacheTTL)
				if err != nil {
					return err
				}
				if cache != nil {
					defer cache.Close()
					opts = append(opts, api.WithCache(cache))
				}
			}

			server := api.NewServer(ch, opts...)
			e := echo.New()
			if sl, ok := log.(*logger.SlogLogger); ok {
				e.Logger = sl.Slog()
			}
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "cache", cacheSpec, "model", !noModel)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr, cacheSpec *string, cacheTTL *time.Duration) error {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.Cache != "" && !c.IsSet("cache") {
		*cacheSpec = cfg.Cache
	}
	if cfg.CacheTTL != "" && !c.IsSet("cache-ttl") {
		d, err := time.ParseDuration(cfg.CacheTTL)
		if err != nil {
			return err
		}
		*cacheTTL = d
	}
	return nil
}
