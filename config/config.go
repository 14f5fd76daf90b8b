package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration lets TOML values like "15m" decode into a time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type TomlDatabase struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type TomlScheduler struct {
	Tick             Duration `toml:"tick"`
	Concurrency      int      `toml:"concurrency"`
	BaseInterval     Duration `toml:"base_interval"`
	MaxInterval      Duration `toml:"max_interval"`
	RateLimitBackoff Duration `toml:"rate_limit_backoff"`
}

type TomlFetcher struct {
	UserAgent    string   `toml:"user_agent"`
	Timeout      Duration `toml:"timeout"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
	Retries      int      `toml:"retries"`
}

type TomlCanonical struct {
	// Query parameters stripped in addition to the built in tracking list
	StripParams []string `toml:"strip_params"`
}

type TomlServer struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type TomlLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TomlCategories struct {
	DeletePolicy string `toml:"delete_policy"`
	TagCacheSize int    `toml:"tag_cache_size"`
}

// TomlCategory is a seeded category. Path lists the parents from the root.
type TomlCategory struct {
	Name string   `toml:"name"`
	Path []string `toml:"path,omitempty"`
}

// TomlFeed is a seeded subscription
type TomlFeed struct {
	Url             string    `toml:"url"`
	Title           string    `toml:"title,omitempty"`
	Category        []string  `toml:"category,omitempty"`
	SiteUrl         string    `toml:"site_url,omitempty"`
	RefreshInterval *Duration `toml:"refresh_interval,omitempty"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Database   TomlDatabase   `toml:"database"`
	Scheduler  TomlScheduler  `toml:"scheduler"`
	Fetcher    TomlFetcher    `toml:"fetcher"`
	Canonical  TomlCanonical  `toml:"canonical"`
	Server     TomlServer     `toml:"server"`
	Log        TomlLog        `toml:"log"`
	Taxonomy   TomlCategories `toml:"taxonomy"`
	Categories []TomlCategory `toml:"categories"`
	Feeds      []TomlFeed     `toml:"feeds"`
}

// Default returns the configuration used when no file is present
func Default() *TomlConfig {
	return &TomlConfig{
		Database: TomlDatabase{Driver: "sqlite", Path: "panda.db"},
		Scheduler: TomlScheduler{
			Tick:             Duration{time.Minute},
			Concurrency:      4,
			BaseInterval:     Duration{15 * time.Minute},
			MaxInterval:      Duration{24 * time.Hour},
			RateLimitBackoff: Duration{30 * time.Minute},
		},
		Fetcher: TomlFetcher{
			Timeout:      Duration{30 * time.Second},
			MaxBodyBytes: 10 << 20,
			Retries:      2,
		},
		Server:   TomlServer{Host: "", Port: 3000},
		Log:      TomlLog{Level: "info", Format: "text"},
		Taxonomy: TomlCategories{DeletePolicy: "reject", TagCacheSize: 1024},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the defaults
// when optional is set.
func LoadConfig(path string, optional bool) (*TomlConfig, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

func (c *TomlConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.New("scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.Tick.Duration <= 0 {
		return errors.New("scheduler.tick must be positive")
	}
	for i, feed := range c.Feeds {
		if feed.Url == "" {
			return fmt.Errorf("feeds[%d].url is required", i)
		}
	}
	for i, category := range c.Categories {
		if category.Name == "" {
			return fmt.Errorf("categories[%d].name is required", i)
		}
	}
	return nil
}
