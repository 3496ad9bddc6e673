package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MinRefreshInterval is the shortest accepted refresh period.
const MinRefreshInterval = time.Minute

// Targets lists the requests a refresh cycle should revalidate.
type Targets func(ctx context.Context) []Request

// RefreshResult is the outcome of one request in a cycle.
type RefreshResult struct {
	Key     string
	Skipped bool // cache still fresh
	Result  Result
}

// Refresher revalidates every target on an interval.
type Refresher struct {
	loader      *Loader
	targets     Targets
	interval    time.Duration
	concurrency int
	log         *zap.Logger
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewRefresher creates a background refresher. concurrency <= 1 refreshes
// sequentially, which is what SQLite-backed stores want.
func NewRefresher(loader *Loader, targets Targets, interval time.Duration, concurrency int, log *zap.Logger) *Refresher {
	if interval < MinRefreshInterval {
		interval = MinRefreshInterval
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		loader:      loader,
		targets:     targets,
		interval:    interval,
		concurrency: concurrency,
		log:         log,
		stopChan:    make(chan struct{}),
	}
}

// RefreshAll revalidates all targets. Fresh caches are skipped unless force is set.
func (r *Refresher) RefreshAll(ctx context.Context, force bool) []RefreshResult {
	reqs := r.targets(ctx)
	if len(reqs) == 0 {
		return nil
	}
	r.log.Debug("refreshing", zap.Int("targets", len(reqs)), zap.Int("concurrency", r.concurrency))

	results := make([]RefreshResult, len(reqs))
	jobs := make(chan int, len(reqs))
	for i := range reqs {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < r.concurrency && w < len(reqs); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				results[i] = r.refreshOne(ctx, reqs[i], force)
			}
		}()
	}
	wg.Wait()

	out := results[:0]
	for _, res := range results {
		if res.Key != "" {
			out = append(out, res)
		}
	}
	return out
}

func (r *Refresher) refreshOne(ctx context.Context, req Request, force bool) RefreshResult {
	if !force {
		if cached, ok := r.loader.Cached(req); ok && !cached.Stale {
			return RefreshResult{Key: req.Key, Skipped: true, Result: cached}
		}
	}
	req.Mode = OnlineFirst
	res := r.loader.Load(ctx, req)
	if res.Err != nil {
		r.log.Warn("refresh failed", zap.String("key", req.Key), zap.Error(res.Err))
	}
	return RefreshResult{Key: req.Key, Result: res}
}

// Start begins the refresh loop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			results := r.RefreshAll(ctx, false)
			cancel()

			var fetched, failed int
			for _, res := range results {
				switch {
				case res.Skipped:
				case res.Result.Err != nil:
					failed++
				default:
					fetched++
				}
			}
			r.log.Info("refresh cycle done",
				zap.Int("targets", len(results)),
				zap.Int("fetched", fetched),
				zap.Int("failed", failed),
				zap.Duration("next", r.interval),
			)

			select {
			case <-r.stopChan:
				return
			case <-time.After(r.interval):
			}
		}
	}()
}

// Stop stops the loop and waits for the running cycle.
func (r *Refresher) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}
