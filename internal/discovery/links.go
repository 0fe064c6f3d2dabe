package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/eprints-archiver/internal/eprints"
)

// DefaultSelector scopes link extraction to the page body of the standard
// EPrints template, skipping navigation and footer links.
const DefaultSelector = "div.ep_tm_page_content"

// browseLinks returns the distinct links under /view/ on the repository host
// found inside selector on the page, in document order. The page itself is
// excluded.
func browseLinks(body []byte, pageURL string, selector string, site eprints.Site) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	scope := doc.Find(selector)
	if scope.Length() == 0 {
		return nil, nil
	}
	self := normalizeLink(base)
	seen := map[string]struct{}{self: {}}
	var links []string
	scope.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if !site.OnSite(abs) || !strings.HasPrefix(abs.Path, "/view/") {
			return
		}
		link := normalizeLink(abs)
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func normalizeLink(u *url.URL) string {
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return clean.String()
}

// category returns the first path segment below /view/, e.g. "year" for
// /view/year/2020.html.
func category(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	rest := strings.TrimPrefix(u.Path, "/view/")
	if rest == u.Path {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
