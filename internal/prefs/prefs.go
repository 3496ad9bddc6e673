// Package prefs keeps small user preferences in the key-value store: when
// the periodic notice was last shown and the last known location fix.
package prefs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/archaeo/internal/database"
	"github.com/bryan-buckman/archaeo/internal/model"
)

// DefaultNoticeEvery is the quiet period between two notices.
const DefaultNoticeEvery = 6 * time.Hour

// Prefs reads and writes preferences.
type Prefs struct {
	kv    database.Store
	every time.Duration
	mu    sync.Mutex
}

// New creates preferences over kv.
func New(kv database.Store, noticeEvery time.Duration) *Prefs {
	if noticeEvery <= 0 {
		noticeEvery = DefaultNoticeEvery
	}
	return &Prefs{kv: kv, every: noticeEvery}
}

// ShouldShowNotice reports whether the notice is due at now. When it is,
// now is recorded as the last time it was shown.
func (p *Prefs) ShouldShowNotice(now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := p.kv.Get(model.KeyLastShown)
	if err != nil && !database.IsNotFound(err) {
		return false, err
	}
	if err == nil {
		if ms, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); perr == nil {
			if now.Sub(time.UnixMilli(ms)) <= p.every {
				return false, nil
			}
		}
	}
	if err := p.kv.Set(model.KeyLastShown, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return false, err
	}
	return true, nil
}

// SaveFix records the latest location fix.
func (p *Prefs) SaveFix(fix model.Fix) error {
	if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
		return fmt.Errorf("location fix out of range: %w", model.ErrFormat)
	}
	return database.SetJSON(p.kv, model.KeyLastFix, fix)
}

// LastFix returns the last recorded fix, if any.
func (p *Prefs) LastFix() (model.Fix, bool, error) {
	var fix model.Fix
	if err := database.GetJSON(p.kv, model.KeyLastFix, &fix); err != nil {
		if database.IsNotFound(err) {
			return model.Fix{}, false, nil
		}
		return model.Fix{}, false, err
	}
	return fix, true, nil
}
