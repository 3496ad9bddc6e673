package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/archaeo/internal/database"
	"github.com/bryan-buckman/archaeo/internal/metrics"
	"github.com/bryan-buckman/archaeo/internal/model"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

const rssDoc = `<rss><channel><item><title>A</title><link>http://x</link><pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate></item></channel></rss>`

func newStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadFeed_SuccessPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	store := newStore(t)
	m := metrics.New()
	l := NewLoader(store, Config{Metrics: m}, nil)

	items, res := l.LoadFeed(context.Background(), model.Source{Name: "Dept", URL: srv.URL}, false)
	require.NoError(t, res.Err)
	require.Equal(t, model.SourceNetwork, res.Source)
	require.Empty(t, res.Status)
	require.Len(t, items, 1)
	require.Equal(t, "A", items[0].Title)

	var p model.Payload
	require.NoError(t, database.GetJSON(store, "cachedArticles_Dept", &p))
	require.Equal(t, "network", p.Tag)
	require.NotZero(t, p.Timestamp)
	require.Contains(t, string(p.Items), `"title":"A"`)

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	require.True(t, hasFamily(families, "archaeo_loads_total"))
}

func hasFamily(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}

func TestLoad_FallsBackToCache(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	l := NewLoader(newStore(t), Config{}, nil)
	src := model.Source{Name: "Dept", URL: srv.URL}

	first, res := l.LoadFeed(context.Background(), src, false)
	require.Equal(t, model.SourceNetwork, res.Source)

	down.Store(true)
	second, res := l.LoadFeed(context.Background(), src, false)
	require.Equal(t, model.SourceCache, res.Source)
	require.Equal(t, first, second)
	require.True(t, errors.Is(res.Err, model.ErrNetwork))
	require.Contains(t, res.Err.Error(), "HTTP 503 Service Unavailable — down")
	require.NotEmpty(t, res.Status)
}

func TestLoad_EmptyWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLoader(newStore(t), Config{}, nil)
	res := l.Load(context.Background(), Request{Key: "guilds_cache_v1", URL: srv.URL, JSONOnly: true})
	require.Equal(t, model.SourceEmpty, res.Source)
	require.JSONEq(t, "[]", string(res.Items))
	require.Error(t, res.Err)
	require.Contains(t, res.Status, "check your internet connection")

	var out []model.Guild
	require.NoError(t, res.Decode(&out))
	require.Empty(t, out)
}

func TestLoad_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	store := newStore(t)
	require.NoError(t, database.SetJSON(store, "k", model.Payload{
		Items:     []byte(`[{"id":"1"}]`),
		Timestamp: time.Now().UnixMilli(),
		Tag:       "network",
	}))

	l := NewLoader(store, Config{}, nil)
	res := l.Load(context.Background(), Request{Key: "k", URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.Equal(t, model.SourceCache, res.Source)
	require.JSONEq(t, `[{"id":"1"}]`, string(res.Items))
	require.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	require.True(t, errors.Is(res.Err, model.ErrNetwork))
	require.Contains(t, res.Err.Error(), "timed out")
}

func TestLoad_NonJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login page</html>"))
	}))
	defer srv.Close()

	l := NewLoader(newStore(t), Config{}, nil)
	res := l.Load(context.Background(), Request{Key: "k", URL: srv.URL, JSONOnly: true})
	require.Equal(t, model.SourceEmpty, res.Source)
	require.True(t, errors.Is(res.Err, model.ErrFormat))
	require.Contains(t, res.Err.Error(), "Non-JSON response — <html>login page</html>")
}

func TestLoad_SnippetBounded(t *testing.T) {
	body := strings.Repeat("x", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	l := NewLoader(newStore(t), Config{}, nil)
	res := l.Load(context.Background(), Request{Key: "k", URL: srv.URL, JSONOnly: true})
	require.Error(t, res.Err)
	msg := res.Err.Error()
	require.Contains(t, msg, "HTTP 502")
	require.Contains(t, msg, strings.Repeat("x", SnippetLength))
	require.NotContains(t, msg, strings.Repeat("x", SnippetLength+1))
}

func TestLoad_JSONPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`[{"id":1,"name":"Bead makers","published":true}]`))
	}))
	defer srv.Close()

	l := NewLoader(newStore(t), Config{}, nil)
	res := l.Load(context.Background(), Request{Key: "guilds_cache_v1", URL: srv.URL, JSONOnly: true})
	require.NoError(t, res.Err)
	require.Equal(t, model.SourceNetwork, res.Source)

	var out []model.Guild
	require.NoError(t, res.Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, model.FlexString("1"), out[0].ID)
	require.True(t, bool(out[0].Published))
}

func TestLoad_OfflineFirstRevalidatesStale(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"fresh"}]`))
	}))
	defer srv.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t)
	l := NewLoader(store, Config{StaleAfter: time.Hour, Now: func() time.Time { return now }}, nil)
	req := Request{Key: "science_cache_v1", URL: srv.URL, JSONOnly: true, Mode: OfflineFirst}

	// Fresh cache: served without touching the network.
	require.NoError(t, database.SetJSON(store, req.Key, model.Payload{
		Items: []byte(`[{"id":"old"}]`), Timestamp: now.Add(-time.Minute).UnixMilli(), Tag: "network",
	}))
	res := l.Load(context.Background(), req)
	require.Equal(t, model.SourceCache, res.Source)
	require.False(t, res.Stale)
	l.Wait()
	require.Equal(t, int32(0), hits.Load())

	// Stale cache: still served immediately, revalidated in the background.
	require.NoError(t, database.SetJSON(store, req.Key, model.Payload{
		Items: []byte(`[{"id":"old"}]`), Timestamp: now.Add(-2 * time.Hour).UnixMilli(), Tag: "network",
	}))
	res = l.Load(context.Background(), req)
	require.Equal(t, model.SourceCache, res.Source)
	require.True(t, res.Stale)
	require.JSONEq(t, `[{"id":"old"}]`, string(res.Items))

	l.Wait()
	require.Equal(t, int32(1), hits.Load())
	cached, ok := l.Cached(req)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"fresh"}]`, string(cached.Items))
	require.False(t, cached.Stale)
}

func TestCached_StaleAfterPerRequest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(t)
	l := NewLoader(store, Config{StaleAfter: time.Hour, Now: func() time.Time { return now }}, nil)

	written := model.Payload{Items: []byte(`[]`), Timestamp: now.Add(-2 * time.Hour).UnixMilli(), Tag: "network"}
	coins := CatalogRequest(model.DomainCoins, "http://unused", 0)
	science := CatalogRequest(model.DomainScience, "http://unused", 6*time.Hour)
	require.NoError(t, database.SetJSON(store, coins.Key, written))
	require.NoError(t, database.SetJSON(store, science.Key, written))

	res, ok := l.Cached(coins)
	require.True(t, ok)
	require.True(t, res.Stale)

	res, ok = l.Cached(science)
	require.True(t, ok)
	require.False(t, res.Stale)

	require.Equal(t, time.Hour, l.StaleAfter(coins))
	require.Equal(t, 6*time.Hour, l.StaleAfter(science))
}

func TestLoad_SharedFetchSurvivesCallerCancel(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			<-release
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer srv.Close()
	defer close(release)

	l := NewLoader(newStore(t), Config{}, nil)
	req := CatalogRequest(model.DomainCoins, srv.URL, 0)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan Result, 1)
	go func() { firstDone <- l.Load(first, req) }()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	secondDone := make(chan Result, 1)
	go func() { secondDone <- l.Load(context.Background(), req) }()

	// The first caller walks away; the shared fetch keeps going.
	cancel()
	time.Sleep(50 * time.Millisecond)
	release <- struct{}{}

	second := <-secondDone
	require.NoError(t, second.Err)
	require.Equal(t, model.SourceNetwork, second.Source)
	require.JSONEq(t, `[{"id":"1"}]`, string(second.Items))
	<-firstDone
	require.Equal(t, int32(1), hits.Load())
}

func TestLoad_UnrecognizedFeedKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	store := newStore(t)
	require.NoError(t, database.SetJSON(store, model.ArticleCacheKey("Dept"), model.Payload{
		Items: []byte(`[{"guid":"g","title":"Kept"}]`), Timestamp: time.Now().UnixMilli(), Tag: "network",
	}))

	l := NewLoader(store, Config{}, nil)
	items, res := l.LoadFeed(context.Background(), model.Source{Name: "Dept", URL: srv.URL}, false)
	require.Equal(t, model.SourceCache, res.Source)
	require.True(t, errors.Is(res.Err, model.ErrFormat))
	require.Len(t, items, 1)
	require.Equal(t, "Kept", items[0].Title)
}

func TestIsStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"fresh", now.Add(-time.Minute), false},
		{"exactly at threshold", now.Add(-30 * time.Minute), false},
		{"past threshold", now.Add(-31 * time.Minute), true},
		{"future timestamp", now.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsStale(tt.ts, now, 30*time.Minute))
		})
	}
}

func TestRefresher_SkipsFreshCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	l := NewLoader(newStore(t), Config{}, nil)
	targets := func(context.Context) []Request {
		return []Request{
			{Key: model.ArticleCacheKey("a"), URL: srv.URL + "/a", Transform: FeedTransform},
			{Key: model.ArticleCacheKey("b"), URL: srv.URL + "/b", Transform: FeedTransform},
		}
	}
	r := NewRefresher(l, targets, time.Hour, 2, nil)

	results := r.RefreshAll(context.Background(), false)
	require.Len(t, results, 2)
	for _, res := range results {
		require.False(t, res.Skipped)
		require.Equal(t, model.SourceNetwork, res.Result.Source)
	}
	require.Equal(t, int32(2), hits.Load())

	results = r.RefreshAll(context.Background(), false)
	require.Len(t, results, 2)
	for _, res := range results {
		require.True(t, res.Skipped)
	}
	require.Equal(t, int32(2), hits.Load())

	r.RefreshAll(context.Background(), true)
	require.Equal(t, int32(4), hits.Load())
}
