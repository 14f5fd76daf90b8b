package cmd

import (
	"fmt"
	"panda/articles"
	"panda/canonical"
	"panda/config"
	"panda/db"
	"panda/fetcher"
	"panda/merge"
	"panda/registry"
	"panda/resolver"
	"panda/scheduler"

	"github.com/urfave/cli/v2"
)

// engine wires the ingestion components on top of one database handle
type engine struct {
	cfg       *config.TomlConfig
	db        *db.DB
	registry  *registry.Registry
	resolver  *resolver.Resolver
	scheduler *scheduler.Scheduler
	articles  *articles.Store
}

func dbConfig(cfg *config.TomlConfig) db.Config {
	return db.Config{Driver: cfg.Database.Driver, Path: cfg.Database.Path, DSN: cfg.Database.DSN}
}

// openEngine brings the schema up to date before opening the database, every
// command can run against a fresh file
func openEngine(ctx *cli.Context) (*engine, error) {
	cfg := configFrom(ctx)

	if err := db.Migrate(dbConfig(cfg)); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	database, err := db.Open(dbConfig(cfg))
	if err != nil {
		return nil, err
	}

	policy, err := resolver.ParseDeletePolicy(cfg.Taxonomy.DeletePolicy)
	if err != nil {
		database.Close()
		return nil, err
	}
	res, err := resolver.New(database, policy, cfg.Taxonomy.TagCacheSize)
	if err != nil {
		database.Close()
		return nil, err
	}

	canon := canonical.New(cfg.Canonical.StripParams...)
	reg := registry.New(database, canon)
	fetch := fetcher.New(fetcher.Config{
		UserAgent:    cfg.Fetcher.UserAgent,
		Timeout:      cfg.Fetcher.Timeout.Duration,
		MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
		RetryMax:     cfg.Fetcher.Retries,
	})
	sched := scheduler.New(reg, fetch, merge.New(database, res, canon), scheduler.Config{
		Concurrency: cfg.Scheduler.Concurrency,
		Policy: scheduler.Policy{
			Base:         cfg.Scheduler.BaseInterval.Duration,
			Ceiling:      cfg.Scheduler.MaxInterval.Duration,
			RateLimitMin: cfg.Scheduler.RateLimitBackoff.Duration,
		},
	})

	return &engine{
		cfg:       cfg,
		db:        database,
		registry:  reg,
		resolver:  res,
		scheduler: sched,
		articles:  articles.New(database),
	}, nil
}

func (e *engine) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
