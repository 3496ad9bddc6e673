package fetch

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// MaxConcurrencyPerHost limits parallel requests to any single host.
const MaxConcurrencyPerHost = 2

// hostLimiter bounds parallel requests per host and paces them.
type hostLimiter struct {
	mu         sync.Mutex
	semaphores map[string]chan struct{}
	pacers     map[string]*rate.Limiter
	every      rate.Limit
}

// newHostLimiter creates a per-host limiter allowing rps requests per second.
// rps <= 0 disables pacing.
func newHostLimiter(rps float64) *hostLimiter {
	every := rate.Inf
	if rps > 0 {
		every = rate.Limit(rps)
	}
	return &hostLimiter{
		semaphores: make(map[string]chan struct{}),
		pacers:     make(map[string]*rate.Limiter),
		every:      every,
	}
}

// acquire gets a slot for the host, blocking if necessary.
func (hl *hostLimiter) acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerHost)
		hl.semaphores[host] = sem
	}
	pacer, ok := hl.pacers[host]
	if !ok {
		pacer = rate.NewLimiter(hl.every, 1)
		hl.pacers[host] = pacer
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := pacer.Wait(ctx); err != nil {
		<-sem
		return err
	}
	return nil
}

// release returns a slot for the host.
func (hl *hostLimiter) release(host string) {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	hl.mu.Unlock()
	if ok {
		<-sem
	}
}

// extractHost gets the host from a URL.
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL // fallback to full URL
	}
	return u.Host
}
