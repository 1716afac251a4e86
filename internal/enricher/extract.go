package enricher

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/amasri/newspipe/internal/htmltext"
)

// Selectors tried in order when locating the main article body. Publishers
// converge on a small set of container conventions; the first non-empty
// match wins.
var contentCandidates = []string{
	"article",
	"div.article-body",
	"div.article__content",
	"div#article-body",
	"div.post-content",
	"div.entry-content",
	"section.article-body",
	"div#content",
	"main",
}

var strippedTags = "script,style,noscript,header,footer,nav,aside"

// extractMainContent pulls readable article text out of a full HTML page.
// It returns the empty string when the document has no extractable text.
func extractMainContent(page []byte) string {
	if len(bytes.TrimSpace(page)) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	doc.Find(strippedTags).Remove()

	for _, selector := range contentCandidates {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := htmltext.Collapse(sel.Text()); text != "" {
			return text
		}
	}

	// No recognized container: whole-body text is better than nothing.
	if body := doc.Find("body").First(); body.Length() > 0 {
		return htmltext.Collapse(body.Text())
	}
	return htmltext.Collapse(doc.Text())
}
