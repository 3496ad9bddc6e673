package feed

import (
	"strings"

	"github.com/bryan-buckman/archaeo/internal/model"
)

// jsonElements finds the item array of a decoded JSON document.
func jsonElements(doc any) ([]any, bool) {
	switch v := doc.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, key := range []string{"items", "articles"} {
			if arr, ok := v[key].([]any); ok {
				return arr, true
			}
		}
	}
	return nil, false
}

func normalizeJSON(elems []any) []model.Item {
	items := make([]model.Item, 0, len(elems))
	for _, el := range elems {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		title := firstNonEmpty(str(obj["title"]), str(obj["headline"]))
		link := firstNonEmpty(str(obj["link"]), str(obj["url"]))
		desc := firstNonEmpty(str(obj["description"]), str(obj["summary"]), str(obj["content"]))
		pub := firstNonEmpty(str(obj["pubDate"]), str(obj["publishedAt"]), str(obj["date"]))
		thumb := firstNonEmpty(str(obj["thumbnail"]), str(obj["image"]), str(obj["enclosure"]))
		if thumb == "" {
			if media, ok := obj["media"].(map[string]any); ok {
				thumb = str(media["thumbnail"])
			}
		}
		guid := firstNonEmpty(str(obj["guid"]), str(obj["id"]))

		items = append(items, finish(title, link, desc, pub, thumb, guid))
	}
	return items
}

// str reads a string-ish JSON value; objects with a "url" field count too.
func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if u, ok := t["url"].(string); ok {
			return strings.TrimSpace(u)
		}
	}
	return ""
}
