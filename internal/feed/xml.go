package feed

import (
	"strings"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"
)

func fromRSS(doc *rss.Feed) []model.Item {
	items := make([]model.Item, 0, len(doc.Items))
	for _, it := range doc.Items {
		if it == nil {
			continue
		}

		link := strings.TrimSpace(it.Link)
		guid := ""
		if it.GUID != nil {
			guid = it.GUID.Value
			// Only a declared permalink may stand in for the link.
			if link == "" && strings.EqualFold(strings.TrimSpace(it.GUID.IsPermalink), "true") {
				link = strings.TrimSpace(it.GUID.Value)
			}
		}

		desc := firstNonEmpty(it.Content, it.Description, it.Custom["summary"])

		var dcDate string
		if it.DublinCoreExt != nil && len(it.DublinCoreExt.Date) > 0 {
			dcDate = it.DublinCoreExt.Date[0]
		}
		pub := firstNonEmpty(it.PubDate, dcDate, it.Custom["updated"], it.Custom["published"])

		thumb := mediaImage(it.Extensions)
		if thumb == "" && it.Enclosure != nil {
			thumb = it.Enclosure.URL
		}

		items = append(items, finish(it.Title, link, desc, pub, thumb, guid))
	}
	return items
}

func fromAtom(doc *atom.Feed) []model.Item {
	items := make([]model.Item, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if e == nil {
			continue
		}

		link := atomLink(e.Links)
		var content string
		if e.Content != nil {
			content = e.Content.Value
		}
		desc := firstNonEmpty(content, e.Summary)
		pub := firstNonEmpty(e.Updated, e.Published)

		thumb := mediaImage(e.Extensions)
		if thumb == "" {
			thumb = atomEnclosure(e.Links)
		}

		items = append(items, finish(e.Title, link, desc, pub, thumb, e.ID))
	}
	return items
}

// atomLink prefers rel="alternate", then any other non-enclosure link with
// an href.
func atomLink(links []*atom.Link) string {
	for _, l := range links {
		if l != nil && strings.EqualFold(l.Rel, "alternate") && strings.TrimSpace(l.Href) != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	for _, l := range links {
		if l != nil && !strings.EqualFold(l.Rel, "enclosure") && strings.TrimSpace(l.Href) != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

// atomEnclosure returns the first rel="enclosure" href.
func atomEnclosure(links []*atom.Link) string {
	for _, l := range links {
		if l != nil && strings.EqualFold(l.Rel, "enclosure") && strings.TrimSpace(l.Href) != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

// mediaImage resolves media:content, then media:thumbnail, looking inside
// media:group as well.
func mediaImage(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	groups := []map[string][]ext.Extension{media}
	for _, g := range media["group"] {
		groups = append(groups, g.Children)
	}
	for _, name := range []string{"content", "thumbnail"} {
		for _, g := range groups {
			for _, e := range g[name] {
				if u := strings.TrimSpace(e.Attrs["url"]); u != "" {
					return u
				}
			}
		}
	}
	return ""
}
