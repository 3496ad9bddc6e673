// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration.
// Sources are tried in order:
//  1. the explicit path given to Load/MustLoad;
//  2. the CONFIG_PATH environment variable;
//  3. ./local.yaml in the working directory;
//  4. environment variables only.
type Config struct {
	Env      string            `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig        `yaml:"http"`
	DB       DBConfig          `yaml:"db"`
	Fetch    FetchConfig       `yaml:"fetch"`
	Refresh  RefreshConfig     `yaml:"refresh"`
	Sources  SourcesConfig     `yaml:"sources"`
	Catalogs map[string]string `yaml:"catalogs"` // domain → URL
	Sites    SitesConfig       `yaml:"sites"`
	Notice   NoticeConfig      `yaml:"notice"`
}

// HTTPConfig is the API listener.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig selects the key-value store backend.
type DBConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"DATABASE_URL" env-default:"archaeo.db"`
}

// FetchConfig tunes remote loads.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"FETCH_TIMEOUT" env-default:"12s"`
	StaleAfter  time.Duration `yaml:"stale_after" env:"FETCH_STALE_AFTER" env-default:"30m"`
	PerHostRPS  float64       `yaml:"per_host_rps" env:"FETCH_PER_HOST_RPS" env-default:"2"`
	Concurrency int           `yaml:"concurrency" env:"FETCH_CONCURRENCY" env-default:"0"` // 0 picks by store
	// StaleAfterByDomain overrides StaleAfter per catalog domain.
	StaleAfterByDomain map[string]time.Duration `yaml:"stale_after_by_domain"`
}

// RefreshConfig drives background revalidation.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval" env:"REFRESH_INTERVAL" env-default:"15m"`
	Disabled bool          `yaml:"disabled" env:"REFRESH_DISABLED"`
}

// SourcesConfig locates the feed source list.
type SourcesConfig struct {
	File     string         `yaml:"file" env:"SOURCES_FILE"`
	Endpoint string         `yaml:"endpoint" env:"SOURCES_ENDPOINT"`
	Static   []model.Source `yaml:"static"`
}

// SitesConfig locates the excavation site list shown on the map.
type SitesConfig struct {
	URL string `yaml:"url" env:"SITES_URL"`
}

// NoticeConfig gates the periodic notice.
type NoticeConfig struct {
	Every time.Duration `yaml:"every" env:"NOTICE_EVERY" env-default:"6h"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration by priority:
// 1) explicit path; 2) CONFIG_PATH; 3) ./local.yaml; 4) env.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", p)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}

	var (
		c   *Config
		err error
	)
	switch {
	case path != "":
		c, err = tryRead(path)
	case os.Getenv("CONFIG_PATH") != "":
		c, err = tryRead(os.Getenv("CONFIG_PATH"))
	default:
		if _, statErr := os.Stat("local.yaml"); statErr == nil {
			c, err = tryRead("local.yaml")
		} else if err = cleanenv.ReadEnv(&cfg); err == nil {
			c = &cfg
		} else {
			err = fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// CatalogURL returns the configured URL of a domain.
func (c *Config) CatalogURL(d model.Domain) string {
	return c.Catalogs[string(d)]
}

// StaleAfter returns the per-domain staleness overrides.
func (c *Config) StaleAfter() map[model.Domain]time.Duration {
	out := make(map[model.Domain]time.Duration, len(c.Fetch.StaleAfterByDomain))
	for name, d := range c.Fetch.StaleAfterByDomain {
		out[model.Domain(name)] = d
	}
	return out
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.StaleAfter <= 0 {
		return fmt.Errorf("fetch.stale_after must be > 0")
	}
	for name, d := range c.Fetch.StaleAfterByDomain {
		if _, ok := model.ParseDomain(name); !ok || name != strings.ToLower(name) {
			return fmt.Errorf("fetch.stale_after_by_domain: unknown domain %q", name)
		}
		if d <= 0 {
			return fmt.Errorf("fetch.stale_after_by_domain.%s must be > 0", name)
		}
	}
	if c.Fetch.PerHostRPS < 0 {
		return fmt.Errorf("fetch.per_host_rps must be >= 0")
	}
	if c.Fetch.Concurrency < 0 {
		return fmt.Errorf("fetch.concurrency must be >= 0")
	}
	if c.Refresh.Interval < time.Minute {
		return fmt.Errorf("refresh.interval must be at least 1m")
	}
	if c.Notice.Every <= 0 {
		return fmt.Errorf("notice.every must be > 0")
	}
	for name := range c.Catalogs {
		if _, ok := model.ParseDomain(name); !ok {
			return fmt.Errorf("catalogs: unknown domain %q", name)
		}
		if d := model.Domain(strings.ToLower(name)); d != model.Domain(name) {
			return fmt.Errorf("catalogs: domain %q must be lower case", name)
		}
	}
	return nil
}
