// Package extract pulls outgoing links out of HTML documents using goquery.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// linkSelector covers anchors and image-map areas.
const linkSelector = "a[href], area[href]"

// Extractor finds hrefs in HTML. The zero value is ready to use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// ExtractLinks returns hrefs in document order. A <base href> overrides base.
// Hrefs that parse are resolved to absolute URLs; ones that do not are returned
// verbatim so the caller can decide what to do with them. Fragment-only and
// empty hrefs are skipped.
func (e *Extractor) ExtractLinks(body []byte, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	effective := base
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if base != nil {
				effective = base.ResolveReference(b)
			} else if b.IsAbs() {
				effective = b
			}
		}
	}

	var links []string
	doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil || effective == nil {
			links = append(links, href)
			return
		}
		links = append(links, effective.ResolveReference(ref).String())
	})
	return links
}
