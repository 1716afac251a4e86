// Package htmltext strips markup down to readable text.
package htmltext

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Elements that never carry article text.
var chromeSelectors = "script,style,noscript,header,footer,nav,aside"

var whitespace = regexp.MustCompile(`\s+`)

// Clean removes tags, scripts, styles and page chrome from an HTML fragment
// and collapses whitespace. Input that fails to parse degrades to a
// whitespace-collapsed copy of itself rather than an error.
func Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Collapse(raw)
	}
	doc.Find(chromeSelectors).Remove()
	return Collapse(doc.Text())
}

// Collapse squeezes runs of whitespace into single spaces and trims the ends.
func Collapse(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
