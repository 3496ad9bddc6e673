// Package opml reads and writes feed source lists as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/archaeo/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a feed, or a folder of outlines.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document into a flat source list. Folders are
// flattened; an outline of type "json" marks a JSON endpoint.
func Parse(r io.Reader) ([]model.Source, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w: %v", model.ErrFormat, err)
	}
	var out []model.Source
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL == "" {
				walk(o.Outlines)
				continue
			}
			name := strings.TrimSpace(o.Title)
			if name == "" {
				name = strings.TrimSpace(o.Text)
			}
			if name == "" {
				name = o.XMLURL
			}
			src := model.Source{Name: name, URL: strings.TrimSpace(o.XMLURL), Kind: model.KindFeed}
			if strings.EqualFold(o.Type, string(model.KindJSON)) {
				src.Kind = model.KindJSON
			}
			out = append(out, src)
		}
	}
	walk(doc.Body.Outlines)
	return out, nil
}

// Export renders sources as a flat OPML 2.0 document.
func Export(title string, sources []model.Source, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}
	for _, s := range sources {
		typ := "rss"
		if s.Kind == model.KindJSON {
			typ = string(model.KindJSON)
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   s.Name,
			Title:  s.Name,
			Type:   typ,
			XMLURL: s.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}
