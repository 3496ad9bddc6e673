// Package fetch loads remote payloads with a timeout and falls back to the
// last persisted copy when the network fails.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/archaeo/internal/database"
	"github.com/bryan-buckman/archaeo/internal/feed"
	"github.com/bryan-buckman/archaeo/internal/metrics"
	"github.com/bryan-buckman/archaeo/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds a single remote request.
	DefaultTimeout = 12 * time.Second
	// DefaultStaleAfter is the age after which a cached payload should be revalidated.
	DefaultStaleAfter = 30 * time.Minute
	// SnippetLength bounds the body excerpt attached to errors.
	SnippetLength = 200

	maxBodyBytes = 10 << 20
)

// Mode selects whether network or cache is consulted first.
type Mode int

const (
	// OnlineFirst tries the network and falls back to the cache.
	OnlineFirst Mode = iota
	// OfflineFirst serves the cache when present and revalidates it in the
	// background once stale.
	OfflineFirst
)

// Request describes one logical load.
type Request struct {
	Key string // persisted cache key
	URL string
	// JSONOnly rejects responses whose content type is not JSON.
	JSONOnly bool
	// Transform normalizes the body before it is cached. The output must be
	// JSON. Nil keeps the body, which must then be valid JSON.
	Transform func(body []byte) ([]byte, error)
	Timeout   time.Duration
	// StaleAfter overrides the loader's staleness threshold for this key.
	StaleAfter time.Duration
	Mode       Mode
	// Force skips the offline-first cache read.
	Force bool
}

// Result is what a load hands back. It is never an error: failures degrade
// to the cached copy or to an empty list, with the cause in Err.
type Result struct {
	Items     json.RawMessage
	Source    model.SourceTag
	Timestamp time.Time
	Stale     bool
	Err       error
	Status    string // user-facing status line, empty on success
}

// Decode unmarshals Items into v.
func (r Result) Decode(v any) error {
	if len(r.Items) == 0 {
		return json.Unmarshal([]byte("[]"), v)
	}
	if err := json.Unmarshal(r.Items, v); err != nil {
		return fmt.Errorf("decode items: %w: %v", model.ErrFormat, err)
	}
	return nil
}

// Config configures a Loader.
type Config struct {
	Client     *http.Client
	Timeout    time.Duration
	StaleAfter time.Duration
	PerHostRPS float64
	Metrics    *metrics.Metrics
	// Now overrides the clock, used in tests.
	Now func() time.Time
}

// Loader is the cache-backed fetcher.
type Loader struct {
	store      database.Store
	client     *http.Client
	timeout    time.Duration
	staleAfter time.Duration
	limiter    *hostLimiter
	group      singleflight.Group
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
	bg         sync.WaitGroup
}

// NewLoader creates a loader persisting payloads into store.
func NewLoader(store database.Store, cfg Config, log *zap.Logger) *Loader {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		store:      store,
		client:     cfg.Client,
		timeout:    cfg.Timeout,
		staleAfter: cfg.StaleAfter,
		limiter:    newHostLimiter(cfg.PerHostRPS),
		metrics:    cfg.Metrics,
		log:        log,
		now:        cfg.Now,
	}
}

// IsStale reports whether a payload written at ts is older than threshold at now.
func IsStale(ts, now time.Time, threshold time.Duration) bool {
	return now.Sub(ts) > threshold
}

// StaleAfter returns the staleness threshold applying to req.
func (l *Loader) StaleAfter(req Request) time.Duration {
	if req.StaleAfter > 0 {
		return req.StaleAfter
	}
	return l.staleAfter
}

// Load runs the request. It never blocks on the network when an offline-first
// cache hit is available.
func (l *Loader) Load(ctx context.Context, req Request) Result {
	if req.Mode == OfflineFirst && !req.Force {
		if p, ok := l.readCache(req.Key); ok {
			res := l.cachedResult(req, p, nil)
			if res.Stale {
				l.revalidate(req)
			}
			l.metrics.ObserveLoad(req.Key, res.Source)
			return res
		}
	}

	// The fetch is shared by every concurrent caller of the key, so it must
	// not die with the first caller's context.
	v, err, _ := l.group.Do(req.Key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeoutFor(req))
		defer cancel()
		return l.fetchAndStore(shared, req)
	})
	if err == nil {
		res := v.(Result)
		l.metrics.ObserveLoad(req.Key, res.Source)
		return res
	}

	l.log.Warn("load failed, falling back to cache",
		zap.String("key", req.Key),
		zap.String("url", req.URL),
		zap.Error(err),
	)
	res := l.fallback(req, err)
	l.metrics.ObserveLoad(req.Key, res.Source)
	return res
}

// Cached reads the payload persisted for req without touching the network.
func (l *Loader) Cached(req Request) (Result, bool) {
	p, ok := l.readCache(req.Key)
	if !ok {
		return Result{}, false
	}
	return l.cachedResult(req, p, nil), true
}

// Wait blocks until background revalidations finish.
func (l *Loader) Wait() {
	l.bg.Wait()
}

func (l *Loader) revalidate(req Request) {
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeoutFor(req))
		defer cancel()
		_, err, _ := l.group.Do(req.Key, func() (any, error) {
			return l.fetchAndStore(ctx, req)
		})
		if err != nil {
			l.log.Info("background revalidation failed", zap.String("key", req.Key), zap.Error(err))
		}
	}()
}

func (l *Loader) timeoutFor(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return l.timeout
}

func (l *Loader) fetchAndStore(ctx context.Context, req Request) (Result, error) {
	start := l.now()
	body, err := l.fetch(ctx, req)
	if err != nil {
		l.metrics.ObserveFetch("error", l.now().Sub(start))
		return Result{}, err
	}
	l.metrics.ObserveFetch("ok", l.now().Sub(start))

	items := body
	if req.Transform != nil {
		items, err = req.Transform(body)
		if err != nil {
			return Result{}, err
		}
	} else if !json.Valid(body) {
		return Result{}, fmt.Errorf("%w: invalid JSON — %s", model.ErrFormat, snippet(body))
	}

	now := l.now()
	p := model.Payload{Items: items, Timestamp: now.UnixMilli(), Tag: string(model.SourceNetwork)}
	if err := database.SetJSON(l.store, req.Key, p); err != nil {
		// The fresh data is still good; only the fallback copy is lost.
		l.log.Warn("cache write failed", zap.String("key", req.Key), zap.Error(err))
	}
	return Result{Items: items, Source: model.SourceNetwork, Timestamp: now}, nil
}

func (l *Loader) fetch(ctx context.Context, req Request) ([]byte, error) {
	timeout := l.timeoutFor(req)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host := extractHost(req.URL)
	if err := l.limiter.acquire(ctx, host); err != nil {
		return nil, l.networkErr(ctx, timeout, err)
	}
	defer l.limiter.release(host)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request %s: %w: %v", req.URL, model.ErrNetwork, err)
	}
	if req.JSONOnly {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, l.networkErr(ctx, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, l.networkErr(ctx, timeout, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d %s — %s", model.ErrNetwork, resp.StatusCode, http.StatusText(resp.StatusCode), snippet(body))
	}
	if req.JSONOnly {
		ct := strings.ToLower(resp.Header.Get("Content-Type"))
		if !strings.Contains(ct, "application/json") {
			return nil, fmt.Errorf("%w: Non-JSON response — %s", model.ErrFormat, snippet(body))
		}
	}
	return body, nil
}

func (l *Loader) networkErr(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out after %s: %w", model.ErrNetwork, timeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %v", model.ErrNetwork, err)
}

func (l *Loader) readCache(key string) (model.Payload, bool) {
	var p model.Payload
	if err := database.GetJSON(l.store, key, &p); err != nil {
		if !database.IsNotFound(err) {
			l.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return model.Payload{}, false
	}
	return p, true
}

func (l *Loader) cachedResult(req Request, p model.Payload, cause error) Result {
	ts := time.UnixMilli(p.Timestamp)
	return Result{
		Items:     p.Items,
		Source:    model.SourceCache,
		Timestamp: ts,
		Stale:     IsStale(ts, l.now(), l.StaleAfter(req)),
		Err:       cause,
	}
}

func (l *Loader) fallback(req Request, cause error) Result {
	if p, ok := l.readCache(req.Key); ok {
		res := l.cachedResult(req, p, cause)
		res.Status = "Couldn't refresh. Showing saved copy; check your internet connection."
		return res
	}
	return Result{
		Items:  json.RawMessage("[]"),
		Source: model.SourceEmpty,
		Err:    cause,
		Status: "Couldn't load. Please check your internet connection.",
	}
}

// snippet returns at most SnippetLength runes of body for diagnostics.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	r := []rune(s)
	if len(r) > SnippetLength {
		return string(r[:SnippetLength])
	}
	return s
}

// FeedTransform parses a feed body and re-encodes the normalized items.
func FeedTransform(body []byte) ([]byte, error) {
	items, err := feed.Parse(string(body))
	if err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

// FeedRequest is the request loading a feed source.
func FeedRequest(src model.Source) Request {
	return Request{
		Key:       model.ArticleCacheKey(src.Name),
		URL:       src.URL,
		JSONOnly:  src.Kind == model.KindJSON,
		Transform: FeedTransform,
	}
}

// CatalogRequest is the request loading a catalog domain from a JSON endpoint.
// A zero staleAfter keeps the loader default.
func CatalogRequest(d model.Domain, url string, staleAfter time.Duration) Request {
	return Request{
		Key:        model.CatalogCacheKey(d),
		URL:        url,
		JSONOnly:   true,
		StaleAfter: staleAfter,
	}
}

// LoadFeed loads a named feed source and decodes its articles.
func (l *Loader) LoadFeed(ctx context.Context, src model.Source, force bool) ([]model.Item, Result) {
	req := FeedRequest(src)
	req.Force = force
	res := l.Load(ctx, req)
	var items []model.Item
	if err := res.Decode(&items); err != nil {
		l.log.Warn("cached articles unreadable", zap.String("source", src.Name), zap.Error(err))
		return []model.Item{}, res
	}
	return items, res
}
