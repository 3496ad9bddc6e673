package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/archaeo/internal/bookmark"
	"github.com/bryan-buckman/archaeo/internal/catalog"
	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/geo"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/bryan-buckman/archaeo/internal/opml"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// query describes one filtered view.
type query struct {
	Domain  model.Domain      `json:"domain"`
	Source  string            `json:"source,omitempty"` // feed name, news only
	Q       string            `json:"q,omitempty"`
	Facets  map[string]string `json:"facets,omitempty"`
	Saved   bool              `json:"saved,omitempty"`
	Refresh bool              `json:"refresh,omitempty"`
}

func queryFromValues(d model.Domain, v url.Values) query {
	q := query{
		Domain:  d,
		Q:       v.Get("q"),
		Facets:  map[string]string{},
		Saved:   truthy(v.Get("saved")),
		Refresh: truthy(v.Get("refresh")),
	}
	if c, ok := catalog.Lookup(d); ok {
		for _, name := range c.FacetNames() {
			if val := v.Get(name); val != "" {
				q.Facets[name] = val
			}
		}
	}
	return q
}

func truthy(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// load resolves the request behind a query.
func (s *Server) load(ctx context.Context, q query) (fetch.Result, error) {
	var req fetch.Request
	if q.Domain == model.DomainNews && q.Source != "" {
		src, ok := s.Sources.Lookup(ctx, q.Source)
		if !ok {
			return fetch.Result{}, fmt.Errorf("source %q: %w", q.Source, model.ErrNotFound)
		}
		req = fetch.FeedRequest(src)
	} else {
		u := s.Catalogs[q.Domain]
		if u == "" {
			return fetch.Result{}, fmt.Errorf("no endpoint for %s: %w", q.Domain, model.ErrNotFound)
		}
		req = fetch.CatalogRequest(q.Domain, u, s.StaleAfter[q.Domain])
		if s.OfflineFirst[q.Domain] {
			req.Mode = fetch.OfflineFirst
		}
	}
	req.Force = q.Refresh
	return s.Loader.Load(ctx, req), nil
}

// view loads and filters the collection behind q.
func (s *Server) view(ctx context.Context, q query) (catalog.View, error) {
	c, ok := catalog.Lookup(q.Domain)
	if !ok {
		return catalog.View{}, fmt.Errorf("domain %q: %w", q.Domain, model.ErrNotFound)
	}
	res, err := s.load(ctx, q)
	if err != nil {
		return catalog.View{}, err
	}

	sel := catalog.Selection{Facets: q.Facets, Query: q.Q, SavedOnly: q.Saved}
	if q.Saved {
		set, err := s.Bookmarks.Get(q.Domain)
		if err != nil && !errors.Is(err, model.ErrFormat) {
			return catalog.View{}, err
		}
		sel.Saved = set.IDs()
	}

	v, err := c.View(res.Items, sel)
	if err != nil {
		return catalog.View{}, err
	}
	v.Source = res.Source
	v.Status = res.Status
	if !res.Timestamp.IsZero() {
		v.Updated = res.Timestamp.UnixMilli()
	}
	return v, nil
}

// --- API Handlers ---

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sources.List(r.Context()))
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := opml.Export("archaeo sources", s.Sources.List(r.Context()), s.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=archaeo-sources.opml")
	_, _ = w.Write(data)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := queryFromValues(model.DomainNews, r.URL.Query())
	q.Source = chi.URLParam(r, "source")
	v, err := s.view(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	d, ok := model.ParseDomain(chi.URLParam(r, "domain"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown domain")
		return
	}
	v, err := s.view(r.Context(), queryFromValues(d, r.URL.Query()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) bookmarkDomain(w http.ResponseWriter, r *http.Request) (model.Domain, bool) {
	d, ok := model.ParseDomain(chi.URLParam(r, "domain"))
	if !ok || !slices.Contains(model.BookmarkDomains, d) {
		writeError(w, http.StatusNotFound, "unknown bookmark domain")
		return "", false
	}
	return d, true
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	d, ok := s.bookmarkDomain(w, r)
	if !ok {
		return
	}
	set, err := s.Bookmarks.Get(d)
	if err != nil && !errors.Is(err, model.ErrFormat) {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":    d,
		"count":     len(set),
		"bookmarks": set,
	})
}

func (s *Server) handleToggleBookmark(w http.ResponseWriter, r *http.Request) {
	d, ok := s.bookmarkDomain(w, r)
	if !ok {
		return
	}
	var snap bookmark.Snapshot
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &snap); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
	}

	set, added, err := s.Bookmarks.Toggle(d, chi.URLParam(r, "id"), snap)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":    d,
		"id":        chi.URLParam(r, "id"),
		"added":     added,
		"count":     len(set),
		"bookmarks": set,
	})
}

// --- Map ---

// worldRegion is shown when the request names no viewport.
var worldRegion = geo.Region{Latitude: 0, Longitude: 0, LatitudeDelta: 170, LongitudeDelta: 360}

func regionFromValues(v url.Values) (geo.Region, error) {
	if v.Get("lat") == "" && v.Get("lon") == "" {
		return worldRegion, nil
	}
	parse := func(name string, def float64) (float64, error) {
		raw := v.Get(name)
		if raw == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, model.ErrFormat)
		}
		return f, nil
	}
	var (
		r   geo.Region
		err error
	)
	if r.Latitude, err = parse("lat", 0); err != nil {
		return r, err
	}
	if r.Longitude, err = parse("lon", 0); err != nil {
		return r, err
	}
	if r.LatitudeDelta, err = parse("latDelta", 1); err != nil {
		return r, err
	}
	if r.LongitudeDelta, err = parse("lonDelta", 1); err != nil {
		return r, err
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.LatitudeDelta <= 0 || r.LongitudeDelta <= 0 {
		return r, fmt.Errorf("region out of range: %w", model.ErrFormat)
	}
	return r, nil
}

// siteIndex builds the cluster index of the filtered sites.
func (s *Server) siteIndex(ctx context.Context, q query) (*geo.Index, catalog.View, error) {
	v, err := s.view(ctx, q)
	if err != nil {
		return nil, catalog.View{}, err
	}
	sites, _ := v.Items.([]model.Site)
	return geo.NewIndex(geo.PointsFromSites(sites), geo.DefaultOptions()), v, nil
}

type clustersResponse struct {
	Region   geo.Region                 `json:"region"`
	Zoom     int                        `json:"zoom"`
	Features *geojson.FeatureCollection `json:"features"`
	Facets   map[string][]string        `json:"facets"`
	Count    int                        `json:"count"`
	Source   model.SourceTag            `json:"source,omitempty"`
	Status   string                     `json:"status,omitempty"`
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	region, err := regionFromValues(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	idx, v, err := s.siteIndex(r.Context(), queryFromValues(model.DomainSites, r.URL.Query()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	zoom := region.Zoom()
	fc := geojson.NewFeatureCollection()
	fc.Features = idx.Clusters(region.Bound(), zoom)
	writeJSON(w, http.StatusOK, clustersResponse{
		Region:   region,
		Zoom:     zoom,
		Features: fc,
		Facets:   v.Facets,
		Count:    idx.Len(),
		Source:   v.Source,
		Status:   v.Status,
	})
}

func (s *Server) handleExpandCluster(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	region, err := regionFromValues(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	idx, _, err := s.siteIndex(r.Context(), queryFromValues(model.DomainSites, r.URL.Query()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	zoom, err := idx.ExpansionZoom(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	center, err := idx.Center(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	children, err := idx.Children(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fc := geojson.NewFeatureCollection()
	fc.Features = children
	writeJSON(w, http.StatusOK, map[string]any{
		"expansionZoom": zoom,
		"region":        region.ExpandTo(center, zoom),
		"children":      fc,
	})
}

// --- Preferences ---

func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request) {
	show, err := s.Prefs.ShouldShowNotice(s.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"show": show})
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	fix, ok, err := s.Prefs.LastFix()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no location recorded")
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (s *Server) handleSaveLocation(w http.ResponseWriter, r *http.Request) {
	var fix model.Fix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if fix.Timestamp == 0 {
		fix.Timestamp = s.Now().UnixMilli()
	}
	if err := s.Prefs.SaveFix(fix); err != nil {
		if errors.Is(err, model.ErrFormat) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results := s.Refresher.RefreshAll(ctx, true)
	var fetched, failed int
	errs := map[string]string{}
	for _, res := range results {
		if res.Result.Err != nil {
			failed++
			errs[res.Key] = res.Result.Err.Error()
			continue
		}
		fetched++
	}
	s.Log.Info("manual refresh", zap.Int("fetched", fetched), zap.Int("failed", failed))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"fetched": fetched,
		"failed":  failed,
		"errors":  errs,
	})
}
