package cmd

import (
	"fmt"
	"os"
	"panda/config"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func RootApp() *cli.App {
	return &cli.App{
		Name:  "panda",
		Usage: "Fetch, deduplicate and file RSS, Atom and JSON feeds",
		Description: `Panda keeps a registry of feed subscriptions and refreshes
		them on a schedule. Fetched entries are merged into a SQLite or
		PostgreSQL database, deduplicated by canonical URL and filed under
		categories and tags.

		Feeds that fail are backed off exponentially, feeds that are gone
		(4xx) are parked until they are reset by hand.

		Flags can generally be set via environment variables, e.g.:

		--database => PANDA_DATABASE=panda.db
		--port => PANDA_PORT=3000

		A .env file in the working directory is loaded first.
		`,
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/panda.toml",
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"PANDA_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database-driver",
				Usage:   "Storage engine, sqlite or postgres",
				EnvVars: []string{"PANDA_DATABASE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite database file location",
				EnvVars: []string{"PANDA_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "database-dsn",
				Usage:   "PostgreSQL connection string",
				EnvVars: []string{"PANDA_DATABASE_DSN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"PANDA_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"PANDA_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"), !ctx.IsSet("config"))
			if err != nil {
				return err
			}
			overrideConfig(ctx, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}
			ctx.App.Metadata[configKey] = cfg
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			runCmd(),
			migrateCmd(),
			rollbackCmd(),
			feedCmd(),
			articleCmd(),
			categoryCmd(),
			tagCmd(),
			seedCmd(),
			importCmd(),
			exportCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func overrideConfig(ctx *cli.Context, cfg *config.TomlConfig) {
	if ctx.IsSet("database-driver") {
		cfg.Database.Driver = ctx.String("database-driver")
	}
	if ctx.IsSet("database") {
		cfg.Database.Path = ctx.String("database")
	}
	if ctx.IsSet("database-dsn") {
		cfg.Database.DSN = ctx.String("database-dsn")
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		cfg.Log.Format = ctx.String("log-format")
	}
}

func setupLogging(cfg config.TomlLog) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	// Command output goes to stdout, logs never do
	log.SetOutput(os.Stderr)
	return nil
}

func configFrom(ctx *cli.Context) *config.TomlConfig {
	if cfg, ok := ctx.App.Metadata[configKey].(*config.TomlConfig); ok {
		return cfg
	}
	return config.Default()
}
