package fetch

import (
	"sync"
	"time"
)

// Sequencer hands out increasing request tokens. Only the most recently
// issued token may publish its result, so a slow early response never
// overwrites a later one.
type Sequencer struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// Next issues a new token.
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Apply reports whether the result carrying token may be published.
func (s *Sequencer) Apply(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.issued || token <= s.applied {
		return false
	}
	s.applied = token
	return true
}

// Debouncer runs the last scheduled function once the input settles.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger cancels the pending call, if any, and schedules fn.
// Calls already running are not interrupted.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels the pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
