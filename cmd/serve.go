package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"panda/server"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and the control server",
		Description: `Migrates the database, then refreshes due feeds on every tick
		and serves the control API (feeds, articles, categories, tags,
		manual runs and Prometheus metrics) on the configured port.

		Stops gracefully on SIGINT or SIGTERM. In flight fetches are
		cancelled and leave their feed's schedule untouched.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Host to bind the control server to",
				EnvVars: []string{"PANDA_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the control server",
				EnvVars: []string{"PANDA_PORT"},
			},
			&cli.DurationFlag{
				Name:    "tick",
				Usage:   "How often to look for due feeds",
				EnvVars: []string{"PANDA_TICK"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum number of feeds fetched at once",
				EnvVars: []string{"PANDA_CONCURRENCY"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := configFrom(ctx)
			if ctx.IsSet("host") {
				cfg.Server.Host = ctx.String("host")
			}
			if ctx.IsSet("port") {
				cfg.Server.Port = ctx.Int("port")
			}
			if ctx.IsSet("tick") {
				cfg.Scheduler.Tick.Duration = ctx.Duration("tick")
			}
			if ctx.IsSet("concurrency") {
				cfg.Scheduler.Concurrency = ctx.Int("concurrency")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			e, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			app := server.Server(&server.ServerConfig{
				Registry:  e.registry,
				Resolver:  e.resolver,
				Scheduler: e.scheduler,
				Articles:  e.articles,
			})

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(runCtx)

			g.Go(func() error {
				return e.scheduler.RunForever(gctx, cfg.Scheduler.Tick.Duration)
			})

			g.Go(func() error {
				addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
				log.WithFields(log.Fields{"address": addr}).Info("Starting server")
				return app.Listen(addr)
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info("Gracefully shutting down...")
				return app.ShutdownWithTimeout(60 * time.Second)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("Done!")
			return nil
		},
	}
}
