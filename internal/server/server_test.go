package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/archaeo/internal/bookmark"
	"github.com/bryan-buckman/archaeo/internal/database"
	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/metrics"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/bryan-buckman/archaeo/internal/prefs"
	"github.com/bryan-buckman/archaeo/internal/sources"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const upstreamRSS = `<rss><channel>
<item><title>Terracotta plaques found</title><link>https://dept.example.org/1</link><pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate></item>
<item><title>Field school opens</title><link>https://dept.example.org/2</link></item>
</channel></rss>`

const upstreamPottery = `[
 {"id":"1","name":"Black polished bowl","ware":"NBPW","period":"Mauryan","division":"Rajshahi","site":"Mahasthangarh"},
 {"id":"2","name":"Red jar","ware":"Redware","period":"Gupta","division":"Dhaka","site":"Wari-Bateshwar"}
]`

const upstreamSites = `{"items":[
 {"id":"a","name":"Mahasthangarh","division":"Rajshahi","period":"Early Historic","lat":24.960,"lon":89.340},
 {"id":"b","name":"Govinda Bhita","division":"Rajshahi","period":"Early Historic","lat":24.961,"lon":89.341},
 {"id":"c","name":"Vasu Vihara","division":"Rajshahi","period":"Early Historic","lat":24.962,"lon":89.342},
 {"id":"d","name":"Wari-Bateshwar","division":"Dhaka","period":"Early Historic","lat":24.09,"lon":90.81}
]}`

type fixture struct {
	srv       *Server
	http      *httptest.Server
	bookmarks *bookmark.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = io.WriteString(w, upstreamRSS)
		case "/pottery":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, upstreamPottery)
		case "/sites":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, upstreamSites)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	db, err := database.New(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := metrics.New()
	loader := fetch.NewLoader(db, fetch.Config{Metrics: m}, nil)
	reg := sources.NewRegistry("", "", []model.Source{{Name: "Dept", URL: upstream.URL + "/feed"}}, loader, nil)
	catalogs := map[model.Domain]string{
		model.DomainPottery: upstream.URL + "/pottery",
		model.DomainSites:   upstream.URL + "/sites",
	}
	bm := bookmark.New(db, m, nil)

	s := New(Deps{
		Loader:    loader,
		Refresher: fetch.NewRefresher(loader, RefreshTargets(reg, catalogs, nil), time.Hour, 1, nil),
		Sources:   reg,
		Bookmarks: bm,
		Prefs:     prefs.New(db, time.Hour),
		Metrics:   m,
		Catalogs:  catalogs,
	})
	s.hub.start()
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		s.hub.stop()
		loader.Wait()
	})
	return &fixture{srv: s, http: hs, bookmarks: bm}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestSources(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/api/sources")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []model.Source
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, "Dept", list[0].Name)

	resp2, err := http.Get(f.http.URL + "/api/sources.opml")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	require.Contains(t, string(body), `/feed"`)
	require.Contains(t, string(body), `text="Dept"`)
}

func TestFeed(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/feeds/Dept", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(2), body["count"])
	require.Equal(t, "network", body["source"])

	status, body = f.do(t, http.MethodGet, "/api/feeds/dept?q=TERRACOTTA", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["count"])
	require.Equal(t, float64(2), body["total"])

	status, _ = f.do(t, http.MethodGet, "/api/feeds/nope", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestCatalogAndBookmarks(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/catalog/pottery?period=Mauryan", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["count"])
	facets := body["facets"].(map[string]any)
	require.Equal(t, []any{"Gupta", "Mauryan"}, facets["period"])

	status, _ = f.do(t, http.MethodGet, "/api/catalog/quizzes", "")
	require.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/api/catalog/coins", "")
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPost, "/api/bookmarks/pottery/2", `{"title":"Red jar"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["added"])

	status, body = f.do(t, http.MethodGet, "/api/catalog/pottery?saved=1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["count"])

	status, body = f.do(t, http.MethodGet, "/api/bookmarks/pottery", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["count"])

	status, body = f.do(t, http.MethodPost, "/api/bookmarks/pottery/2", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["added"])
	require.Empty(t, body["bookmarks"])

	status, _ = f.do(t, http.MethodPost, "/api/bookmarks/sites/2", "")
	require.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodPost, "/api/bookmarks/coins/2", "{bad")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestClusters(t *testing.T) {
	f := newFixture(t)
	const viewport = "lat=24.5&lon=90&latDelta=2&lonDelta=2.8125"

	status, body := f.do(t, http.MethodGet, "/api/sites/clusters?"+viewport, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(7), body["zoom"])
	require.Equal(t, float64(4), body["count"])
	features := body["features"].(map[string]any)["features"].([]any)
	require.Len(t, features, 2)

	clusterID := -1
	for _, raw := range features {
		props := raw.(map[string]any)["properties"].(map[string]any)
		if props["cluster"] == true {
			require.Equal(t, float64(3), props["point_count"])
			clusterID = int(props["cluster_id"].(float64))
		}
	}
	require.GreaterOrEqual(t, clusterID, 0)

	status, body = f.do(t, http.MethodGet, fmt.Sprintf("/api/sites/clusters/%d/expand?%s", clusterID, viewport), "")
	require.Equal(t, http.StatusOK, status)
	require.Greater(t, body["expansionZoom"].(float64), float64(7))
	region := body["region"].(map[string]any)
	require.InDelta(t, 24.961, region["latitude"].(float64), 0.01)
	require.Less(t, region["longitudeDelta"].(float64), 2.8125)
	children := body["children"].(map[string]any)["features"].([]any)
	require.NotEmpty(t, children)

	// Filtering by division drops the Dhaka site.
	status, body = f.do(t, http.MethodGet, "/api/sites/clusters?division=Rajshahi&"+viewport, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(3), body["count"])

	// The whole world fits one cluster.
	status, body = f.do(t, http.MethodGet, "/api/sites/clusters", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["zoom"])
	require.Len(t, body["features"].(map[string]any)["features"].([]any), 1)

	status, _ = f.do(t, http.MethodGet, "/api/sites/clusters?lat=x&lon=1", "")
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodGet, "/api/sites/clusters/99999/expand", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestNoticeAndLocation(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/notice", "")
	require.Equal(t, true, body["show"])
	_, body = f.do(t, http.MethodGet, "/api/notice", "")
	require.Equal(t, false, body["show"])

	status, _ := f.do(t, http.MethodGet, "/api/location", "")
	require.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/api/location", `{"latitude":23.7,"longitude":90.4,"accuracy":10}`)
	require.Equal(t, http.StatusOK, status)
	status, body = f.do(t, http.MethodGet, "/api/location", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 23.7, body["latitude"])

	status, _ = f.do(t, http.MethodPost, "/api/location", `{"latitude":123}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestRefreshAndMetrics(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(3), body["fetched"])
	require.Equal(t, float64(0), body["failed"])

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(data), "archaeo_loads_total")
}

func TestWebsocket(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "hello", msg.Type)
	require.NotEmpty(t, msg.ClientID)

	// Rapid typing: only the last query is answered.
	for _, q := range []string{"r", "re", "red"} {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "search", "domain": "pottery", "q": q}))
	}
	var res struct {
		Type  string `json:"type"`
		Token uint64 `json:"token"`
		View  struct {
			Count int `json:"count"`
		} `json:"view"`
	}
	require.NoError(t, conn.ReadJSON(&res))
	require.Equal(t, "results", res.Type)
	require.Equal(t, uint64(1), res.Token)
	require.Equal(t, 1, res.View.Count)

	_, _, err = f.bookmarks.Toggle(model.DomainCoins, "c9", bookmark.Snapshot{})
	require.NoError(t, err)
	var ev struct {
		Type  string         `json:"type"`
		Event bookmark.Event `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "bookmarks", ev.Type)
	require.Equal(t, bookmark.Event{Domain: model.DomainCoins, ID: "c9", Added: true, Count: 1}, ev.Event)
}
