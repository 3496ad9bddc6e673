// Package server provides the HTTP API and the live websocket channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bryan-buckman/archaeo/internal/bookmark"
	"github.com/bryan-buckman/archaeo/internal/catalog"
	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/metrics"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/bryan-buckman/archaeo/internal/prefs"
	"github.com/bryan-buckman/archaeo/internal/sources"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps are the components the server serves from.
type Deps struct {
	Loader    *fetch.Loader
	Refresher *fetch.Refresher // optional
	Sources   *sources.Registry
	Bookmarks *bookmark.Store
	Prefs     *prefs.Prefs
	Metrics   *metrics.Metrics
	Catalogs  map[model.Domain]string // domain → JSON endpoint
	// StaleAfter overrides the loader's staleness threshold per domain.
	StaleAfter map[model.Domain]time.Duration
	// OfflineFirst lists domains served from cache first and revalidated
	// in the background.
	OfflineFirst map[model.Domain]bool
	Log          *zap.Logger
	Now          func() time.Time
}

// Server is the main HTTP server.
type Server struct {
	Deps
	router  chi.Router
	hub     *hub
	httpSrv *http.Server
}

// New creates a new server.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{Deps: d}
	s.hub = newHub(s)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.Metrics.Handler())
	r.Get("/ws", s.hub.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/sources", s.handleSources)
		r.Get("/sources.opml", s.handleExportOPML)
		r.Get("/feeds/{source}", s.handleFeed)
		r.Get("/catalog/{domain}", s.handleCatalog)
		r.Get("/bookmarks/{domain}", s.handleBookmarks)
		r.Post("/bookmarks/{domain}/{id}", s.handleToggleBookmark)
		r.Get("/sites/clusters", s.handleClusters)
		r.Get("/sites/clusters/{id}/expand", s.handleExpandCluster)
		r.Get("/notice", s.handleNotice)
		r.Get("/location", s.handleGetLocation)
		r.Post("/location", s.handleSaveLocation)
		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
}

// Handler exposes the router, used in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the refresher, the websocket hub and the listener. It blocks
// until the listener stops.
func (s *Server) Start(addr string) error {
	if s.Refresher != nil {
		s.Refresher.Start()
	}
	s.hub.start()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Log.Info("server starting", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops the listener, the hub and the refresher.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.hub.stop()
	if s.Refresher != nil {
		s.Refresher.Stop()
	}
	s.Loader.Wait()
	return err
}

// RefreshTargets lists every feed source and configured catalog for the
// background refresher.
func RefreshTargets(reg *sources.Registry, catalogs map[model.Domain]string, staleAfter map[model.Domain]time.Duration) fetch.Targets {
	return func(ctx context.Context) []fetch.Request {
		var reqs []fetch.Request
		for _, src := range reg.List(ctx) {
			reqs = append(reqs, fetch.FeedRequest(src))
		}
		for _, d := range catalog.Domains() {
			if url := catalogs[d]; url != "" {
				reqs = append(reqs, fetch.CatalogRequest(d, url, staleAfter[d]))
			}
		}
		return reqs
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps an error class to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}
