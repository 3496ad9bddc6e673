// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"strings"
)

// Item represents a single normalized article/entry from a feed.
type Item struct {
	GUID        string `json:"guid"` // stable key for lists and bookmarks
	Title       string `json:"title"`
	Description string `json:"description"` // plain text
	Link        string `json:"link"`
	PubDate     string `json:"pubDate"` // kept verbatim from the source
	Thumbnail   string `json:"thumbnail"`
}

// SourceTag tells where a payload handed to the caller came from.
type SourceTag string

const (
	SourceNetwork SourceTag = "network"
	SourceCache   SourceTag = "cache"
	SourceEmpty   SourceTag = "empty"
)

// Payload is what gets persisted for every successful fetch.
type Payload struct {
	Items     json.RawMessage `json:"items"`
	Timestamp int64           `json:"timestamp"` // epoch ms
	Tag       string          `json:"source"`
}

// SourceKind selects the parser used for a source.
type SourceKind string

const (
	KindFeed SourceKind = "feed"
	KindJSON SourceKind = "json"
)

// Source is a named remote feed.
type Source struct {
	Name string     `json:"name" yaml:"name"`
	URL  string     `json:"url" yaml:"url"`
	Kind SourceKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// StringList decodes either a JSON array or a ";"/","-separated string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, strings.TrimSpace(s))
		}
		*l = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*l = nil
		return nil
	}
	*l = SplitList(s)
	return nil
}

// SplitList splits on ";" and "," and drops blanks.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Fix is the last known geolocation fix.
type Fix struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Accuracy         float64  `json:"accuracy"`
	Altitude         *float64 `json:"altitude"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Timestamp        int64    `json:"timestamp"`
}

// Storage keys.
const (
	KeyCachedSources = "cached_sources"
	KeyLastShown     = "lastShown"
	KeyLastFix       = "compass:lastFix:v1"
)

// ArticleCacheKey is the cache key of a feed source.
func ArticleCacheKey(source string) string {
	return "cachedArticles_" + source
}

// CatalogCacheKey is the cache key of a catalog domain.
func CatalogCacheKey(d Domain) string {
	return string(d) + "_cache_v1"
}
