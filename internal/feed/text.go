package feed

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	reCDATA = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	strict  = bluemonday.StrictPolicy()
)

// StripCDATA unwraps every CDATA section in s.
func StripCDATA(s string) string {
	return reCDATA.ReplaceAllString(s, "$1")
}

// PlainText removes CDATA wrappers and HTML tags, decodes entities and
// collapses whitespace.
func PlainText(s string) string {
	s = strings.TrimSpace(StripCDATA(s))
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		s = html.UnescapeString(strict.Sanitize(s))
	}
	return strings.Join(strings.Fields(s), " ")
}

// FirstImage returns the src of the first <img> in an HTML fragment.
func FirstImage(fragment string) string {
	fragment = StripCDATA(fragment)
	if !strings.Contains(strings.ToLower(fragment), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}
