package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/bryan-buckman/archaeo/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var refresher *fetch.Refresher
	targets := server.RefreshTargets(a.sources, a.catalogs, a.stale)
	if cfg.Refresh.Disabled {
		log.Info("background refresh disabled")
	} else {
		refresher = fetch.NewRefresher(a.loader, targets, cfg.Refresh.Interval, a.concurrency(), log)
	}

	if err := a.sources.Watch(ctx, func() {
		if refresher != nil {
			go refresher.RefreshAll(context.Background(), false)
		}
	}); err != nil {
		log.Warn("sources file not watched", zap.Error(err))
	}

	srv := server.New(server.Deps{
		Loader:       a.loader,
		Refresher:    refresher,
		Sources:      a.sources,
		Bookmarks:    a.bookmarks,
		Prefs:        a.prefs,
		Metrics:      a.metrics,
		Catalogs:     a.catalogs,
		StaleAfter:   a.stale,
		OfflineFirst: map[model.Domain]bool{model.DomainScience: true},
		Log:          log,
	})

	log.Info("starting archaeo",
		zap.String("env", cfg.Env),
		zap.String("store", a.store.DatabaseType()),
		zap.Int("catalogs", len(a.catalogs)),
		zap.Int("refresh_workers", a.concurrency()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.HTTP.Addr()) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
