// Package bookmark keeps per-domain bookmark sets in the key-value store.
// An id present in a set is bookmarked; removing a bookmark deletes the id.
package bookmark

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/archaeo/internal/database"
	"github.com/bryan-buckman/archaeo/internal/metrics"
	"github.com/bryan-buckman/archaeo/internal/model"
	"go.uber.org/zap"
)

// Snapshot is the minimal record kept for offline display.
type Snapshot struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Link      string `json:"link,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	SavedAt   int64  `json:"savedAt,omitempty"` // epoch ms
}

// Set maps item id to its snapshot.
type Set map[string]Snapshot

// IDs returns the ids of the set as a lookup table.
func (s Set) IDs() map[string]bool {
	out := make(map[string]bool, len(s))
	for id := range s {
		out[id] = true
	}
	return out
}

// Event describes one toggle.
type Event struct {
	Domain model.Domain `json:"domain"`
	ID     string       `json:"id"`
	Added  bool         `json:"added"`
	Count  int          `json:"count"`
}

// Store reads and toggles bookmark sets.
type Store struct {
	kv      database.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex // serializes read-modify-write

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New creates a bookmark store over kv.
func New(kv database.Store, m *metrics.Metrics, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		kv:      kv,
		metrics: m,
		log:     log,
		now:     time.Now,
		subs:    make(map[int]chan Event),
	}
}

func checkDomain(d model.Domain) error {
	if !slices.Contains(model.BookmarkDomains, d) {
		return fmt.Errorf("bookmark domain %q: %w", d, model.ErrNotFound)
	}
	return nil
}

// Get returns the bookmark set of a domain. A missing key is an empty set.
func (s *Store) Get(d model.Domain) (Set, error) {
	if err := checkDomain(d); err != nil {
		return Set{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, _, err := s.read(d)
	return set, err
}

// Toggle adds id when absent and removes it when present. It returns the
// resulting set and whether id is now bookmarked.
func (s *Store) Toggle(d model.Domain, id string, snap Snapshot) (Set, bool, error) {
	if err := checkDomain(d); err != nil {
		return nil, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, fmt.Errorf("toggle bookmark: empty id: %w", model.ErrFormat)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, _, err := s.read(d)
	if err != nil {
		if !errors.Is(err, model.ErrFormat) {
			return nil, false, err
		}
		s.log.Warn("unreadable bookmark set replaced", zap.String("domain", string(d)), zap.Error(err))
		set = Set{}
	}

	_, added := set[id]
	added = !added
	if added {
		snap.ID = id
		if snap.SavedAt == 0 {
			snap.SavedAt = s.now().UnixMilli()
		}
		set[id] = snap
	} else {
		delete(set, id)
	}

	if err := database.SetJSON(s.kv, model.BookmarkKey(d), set); err != nil {
		return nil, false, err
	}
	s.metrics.ObserveToggle(d, added)
	s.publish(Event{Domain: d, ID: id, Added: added, Count: len(set)})
	return set, added, nil
}

// Subscribe registers for toggle events. The returned func unsubscribes.
// Slow subscribers miss events rather than block toggles.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// read loads a set, rewriting legacy shapes in place.
func (s *Store) read(d model.Domain) (Set, bool, error) {
	key := model.BookmarkKey(d)
	raw, err := s.kv.Get(key)
	if err != nil {
		if database.IsNotFound(err) {
			return Set{}, false, nil
		}
		return Set{}, false, err
	}
	set, legacy, err := decodeSet([]byte(raw))
	if err != nil {
		return Set{}, false, fmt.Errorf("bookmarks %s: %w", d, err)
	}
	if legacy {
		if err := database.SetJSON(s.kv, key, set); err != nil {
			s.log.Warn("legacy bookmark rewrite failed", zap.String("domain", string(d)), zap.Error(err))
		} else {
			s.log.Info("legacy bookmark set rewritten", zap.String("domain", string(d)), zap.Int("count", len(set)))
		}
	}
	return set, legacy, nil
}

// decodeSet accepts the unified shape plus what older clients wrote:
// id arrays, id→true maps, article arrays and id→item maps.
func decodeSet(raw []byte) (Set, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Set{}, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false, fmt.Errorf("%w: %v", model.ErrFormat, err)
	}

	set := Set{}
	legacy := false
	switch t := v.(type) {
	case map[string]any:
		for id, val := range t {
			switch e := val.(type) {
			case bool:
				legacy = true
				if e {
					set[id] = Snapshot{ID: id}
				}
			case map[string]any:
				snap := snapshotOf(e)
				if snap.ID != id {
					legacy = true
				}
				snap.ID = id
				set[id] = snap
			default:
				legacy = true
			}
		}
	case []any:
		legacy = true
		for _, e := range t {
			switch x := e.(type) {
			case string:
				if x = strings.TrimSpace(x); x != "" {
					set[x] = Snapshot{ID: x}
				}
			case json.Number:
				set[x.String()] = Snapshot{ID: x.String()}
			case map[string]any:
				snap := snapshotOf(x)
				if snap.ID != "" {
					set[snap.ID] = snap
				}
			}
		}
	default:
		return nil, false, fmt.Errorf("%w: unexpected bookmark shape", model.ErrFormat)
	}
	return set, legacy, nil
}

func snapshotOf(m map[string]any) Snapshot {
	snap := Snapshot{
		ID:        field(m, "id", "guid", "link"),
		Title:     field(m, "title", "name"),
		Link:      field(m, "link", "url"),
		Thumbnail: field(m, "thumbnail", "image"),
	}
	if n, ok := m["savedAt"].(json.Number); ok {
		snap.SavedAt, _ = n.Int64()
	}
	return snap
}

func field(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
