// Package feed normalizes JSON, RSS 2.0 and Atom documents into model.Item lists.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

// ErrUnrecognizedFeed is returned when the input is neither a known JSON
// shape nor a decodable RSS/Atom document.
var ErrUnrecognizedFeed = fmt.Errorf("unrecognized feed: %w", model.ErrFormat)

// Parse converts raw feed text into normalized items.
//
// JSON is tried first (array, {"items": [...]}, {"articles": [...]}), then the
// document is sniffed for RSS (<rss>/<rdf>) or Atom (<feed>). Every RSS item
// and Atom entry yields one record, titled "Untitled" when it carries no text.
// JSON elements that are not objects are skipped. A valid feed with no entries
// yields an empty slice and a nil error.
func Parse(raw string) ([]model.Item, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnrecognizedFeed)
	}

	if text[0] == '{' || text[0] == '[' {
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err == nil {
			elems, ok := jsonElements(doc)
			if !ok {
				return nil, fmt.Errorf("%w: json without items", ErrUnrecognizedFeed)
			}
			return normalizeJSON(elems), nil
		}
	}

	switch gofeed.DetectFeedType(strings.NewReader(text)) {
	case gofeed.FeedTypeRSS:
		fp := rss.Parser{}
		doc, err := fp.Parse(bytes.NewReader([]byte(text)))
		if err != nil {
			return nil, fmt.Errorf("%w: rss: %v", ErrUnrecognizedFeed, err)
		}
		return fromRSS(doc), nil
	case gofeed.FeedTypeAtom:
		fp := atom.Parser{}
		doc, err := fp.Parse(bytes.NewReader([]byte(text)))
		if err != nil {
			return nil, fmt.Errorf("%w: atom: %v", ErrUnrecognizedFeed, err)
		}
		return fromAtom(doc), nil
	default:
		return nil, ErrUnrecognizedFeed
	}
}

// finish applies the defaults every record gets regardless of its format.
func finish(title, link, rawDesc, pubDate, thumb, guid string) model.Item {
	desc := PlainText(rawDesc)
	title = PlainText(title)
	link = strings.TrimSpace(StripCDATA(link))
	if thumb == "" {
		thumb = FirstImage(rawDesc)
	}
	if title == "" {
		if desc != "" {
			title = truncate(desc, 80)
		} else {
			title = "Untitled"
		}
	}
	guid = strings.TrimSpace(StripCDATA(guid))
	if guid == "" {
		guid = link
	}
	if guid == "" {
		guid = truncate(title, 80)
	}
	return model.Item{
		GUID:        guid,
		Title:       title,
		Description: desc,
		Link:        link,
		PubDate:     strings.TrimSpace(StripCDATA(pubDate)),
		Thumbnail:   strings.TrimSpace(thumb),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
