// Package cli contains the archaeo commands.
package cli

import (
	"fmt"
	"time"

	"github.com/bryan-buckman/archaeo/internal/bookmark"
	"github.com/bryan-buckman/archaeo/internal/catalog"
	"github.com/bryan-buckman/archaeo/internal/config"
	"github.com/bryan-buckman/archaeo/internal/database"
	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/logger"
	"github.com/bryan-buckman/archaeo/internal/metrics"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/bryan-buckman/archaeo/internal/prefs"
	"github.com/bryan-buckman/archaeo/internal/sources"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archaeo",
	Short: "Archaeology content service",
	Long: `archaeo fetches news feeds and catalog collections, caches them for
offline use and serves filtered views, bookmarks and clustered site maps.

Example usage:
  archaeo serve                       # Run the API
  archaeo fetch "Daily Star"          # Load one feed
  archaeo catalog pottery --q jar     # Filter a catalog
  archaeo sources export feeds.opml   # Export the source list`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if log, err = logger.New(cfg.Env, verbose); err != nil {
			return err
		}
		log.Debug("configuration loaded",
			zap.String("env", cfg.Env),
			zap.String("db_driver", cfg.DB.Driver),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: CONFIG_PATH or ./local.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, fetchCmd, catalogCmd, sourcesCmd)
}

// app holds the components every command shares.
type app struct {
	store     database.Store
	metrics   *metrics.Metrics
	loader    *fetch.Loader
	sources   *sources.Registry
	bookmarks *bookmark.Store
	prefs     *prefs.Prefs
	catalogs  map[model.Domain]string
	stale     map[model.Domain]time.Duration
}

func newApp() (*app, error) {
	store, err := database.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	m := metrics.New()
	loader := fetch.NewLoader(store, fetch.Config{
		Timeout:    cfg.Fetch.Timeout,
		StaleAfter: cfg.Fetch.StaleAfter,
		PerHostRPS: cfg.Fetch.PerHostRPS,
		Metrics:    m,
	}, log)

	reg := sources.NewRegistry(cfg.Sources.File, cfg.Sources.Endpoint, cfg.Sources.Static, loader, log)
	if err := reg.Reload(); err != nil {
		_ = store.Close()
		return nil, err
	}

	catalogs := make(map[model.Domain]string)
	for _, d := range catalog.Domains() {
		if u := cfg.CatalogURL(d); u != "" {
			catalogs[d] = u
		}
	}
	if cfg.Sites.URL != "" {
		catalogs[model.DomainSites] = cfg.Sites.URL
	}

	return &app{
		store:     store,
		metrics:   m,
		loader:    loader,
		sources:   reg,
		bookmarks: bookmark.New(store, m, log),
		prefs:     prefs.New(store, cfg.Notice.Every),
		catalogs:  catalogs,
		stale:     cfg.StaleAfter(),
	}, nil
}

// concurrency picks the refresh worker count. SQLite serializes writes, so
// it gets a single worker unless configured otherwise.
func (a *app) concurrency() int {
	if cfg.Fetch.Concurrency > 0 {
		return cfg.Fetch.Concurrency
	}
	if a.store.SupportsHighConcurrency() {
		return 10
	}
	return 1
}

func (a *app) close() {
	a.loader.Wait()
	if err := a.store.Close(); err != nil {
		log.Warn("close store", zap.Error(err))
	}
}
