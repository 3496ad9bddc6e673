// Package sources resolves the list of feed sources: a static list from a
// local file, optionally overridden by a list served remotely.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryan-buckman/archaeo/internal/fetch"
	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/bryan-buckman/archaeo/internal/opml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a static source list. Files ending in .opml or .xml are
// OPML; anything else is YAML, either a list or {sources: [...]}.
func LoadFile(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".opml", ".xml":
		list, err := opml.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("sources %s: %w", path, err)
		}
		return clean(list), nil
	}

	var list []model.Source
	if err := yaml.Unmarshal(data, &list); err != nil {
		var doc struct {
			Sources []model.Source `yaml:"sources"`
		}
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("sources %s: %w: %v", path, model.ErrFormat, err)
		}
		list = doc.Sources
	}
	return clean(list), nil
}

// DecodeRemote reads the remote override: [{name,url}] or {"feeds": [...]}.
func DecodeRemote(raw []byte) ([]model.Source, error) {
	raw = bytes.TrimSpace(raw)
	var list []model.Source
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("remote sources: %w: %v", model.ErrFormat, err)
		}
		return clean(list), nil
	}
	var doc struct {
		Feeds []model.Source `json:"feeds"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("remote sources: %w: %v", model.ErrFormat, err)
	}
	return clean(doc.Feeds), nil
}

// Merge applies remote over static and returns a new list. A remote entry
// replaces the static entry of the same name in place; new names follow in
// remote order. Neither input is modified.
func Merge(static, remote []model.Source) []model.Source {
	out := make([]model.Source, 0, len(static)+len(remote))
	pos := make(map[string]int, len(static))
	for _, s := range static {
		k := nameKey(s.Name)
		if _, dup := pos[k]; dup {
			continue
		}
		pos[k] = len(out)
		out = append(out, s)
	}
	for _, r := range remote {
		k := nameKey(r.Name)
		if i, ok := pos[k]; ok {
			if r.Kind == "" {
				r.Kind = out[i].Kind
			}
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func clean(in []model.Source) []model.Source {
	out := make([]model.Source, 0, len(in))
	for _, s := range in {
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" || s.URL == "" {
			continue
		}
		if s.Kind == "" {
			s.Kind = model.KindFeed
		}
		out = append(out, s)
	}
	return out
}

// Registry serves the merged source list.
type Registry struct {
	mu       sync.RWMutex
	static   []model.Source
	path     string
	endpoint string
	loader   *fetch.Loader
	log      *zap.Logger
}

// NewRegistry creates a registry. path and endpoint may be empty.
func NewRegistry(path, endpoint string, static []model.Source, loader *fetch.Loader, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		static:   clean(static),
		path:     path,
		endpoint: endpoint,
		loader:   loader,
		log:      log,
	}
}

// Reload rereads the static file.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	list, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.static = list
	r.mu.Unlock()
	r.log.Info("sources reloaded", zap.String("path", r.path), zap.Int("count", len(list)))
	return nil
}

// Static returns a copy of the static list.
func (r *Registry) Static() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Source(nil), r.static...)
}

// List returns the static list merged with the remote override. The remote
// list is served offline-first from the cache; when it cannot be had at all
// the static list is used alone.
func (r *Registry) List(ctx context.Context) []model.Source {
	static := r.Static()
	if r.endpoint == "" || r.loader == nil {
		return static
	}
	res := r.loader.Load(ctx, fetch.Request{
		Key:       model.KeyCachedSources,
		URL:       r.endpoint,
		JSONOnly:  true,
		Transform: remoteTransform,
		Mode:      fetch.OfflineFirst,
	})
	var remote []model.Source
	if err := res.Decode(&remote); err != nil {
		r.log.Warn("cached sources unreadable", zap.Error(err))
		return static
	}
	return Merge(static, remote)
}

// Lookup finds a source by name, case-insensitively.
func (r *Registry) Lookup(ctx context.Context, name string) (model.Source, bool) {
	k := nameKey(name)
	for _, s := range r.List(ctx) {
		if nameKey(s.Name) == k {
			return s, true
		}
	}
	return model.Source{}, false
}

func remoteTransform(body []byte) ([]byte, error) {
	list, err := DecodeRemote(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(list)
}
