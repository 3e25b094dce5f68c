package extract

import (
	"bytes"
	"iter"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// rawLink is an href together with the base it resolves against.
type rawLink struct {
	href string
	base string
}

// htmlLinks yields the links of an HTML document: <a href>, <area href>
// and <link href> with rel alternate, next or prev. A <base href> in the
// document replaces pageURL as the resolution base. With nofollow set,
// links marked rel=nofollow are skipped, and a robots meta tag containing
// nofollow suppresses all links of the page.
func htmlLinks(body []byte, contentType, pageURL string, nofollow bool) iter.Seq[rawLink] {
	return func(yield func(rawLink) bool) {
		reader, err := charset.NewReader(bytes.NewReader(body), contentType)
		if err != nil {
			return
		}
		doc, err := html.Parse(reader)
		if err != nil {
			return
		}

		base := pageURL
		if href, ok := findBase(doc); ok {
			base = resolveBase(pageURL, href)
		}
		if nofollow && metaNofollow(doc) {
			return
		}

		var walk func(n *html.Node) bool
		walk = func(n *html.Node) bool {
			if n.Type == html.ElementNode {
				if href, ok := linkTarget(n, nofollow); ok {
					if !yield(rawLink{href: href, base: base}) {
						return false
					}
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if !walk(c) {
					return false
				}
			}
			return true
		}
		walk(doc)
	}
}

// resolveBase resolves a possibly relative <base href> against the page URL.
func resolveBase(pageURL, href string) string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	ref, err := url.Parse(href)
	if err != nil {
		return pageURL
	}
	return page.ResolveReference(ref).String()
}

// linkTarget returns the href of a link-bearing element.
func linkTarget(n *html.Node, nofollow bool) (string, bool) {
	switch n.Data {
	case "a", "area":
		if nofollow && hasRel(n, "nofollow") {
			return "", false
		}
	case "link":
		if !hasRel(n, "alternate") && !hasRel(n, "next") && !hasRel(n, "prev") {
			return "", false
		}
	default:
		return "", false
	}

	href := strings.TrimSpace(getAttr(n, "href"))
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	return href, true
}

// findBase returns the first <base href> of the document.
func findBase(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "base" {
		if href := strings.TrimSpace(getAttr(n, "href")); href != "" {
			return href, true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href, ok := findBase(c); ok {
			return href, true
		}
	}
	return "", false
}

// metaNofollow reports whether a <meta name="robots"> tag forbids following
// links.
func metaNofollow(n *html.Node) bool {
	if n.Type == html.ElementNode && n.Data == "meta" && strings.EqualFold(getAttr(n, "name"), "robots") {
		for _, directive := range strings.Split(getAttr(n, "content"), ",") {
			switch strings.ToLower(strings.TrimSpace(directive)) {
			case "nofollow", "none":
				return true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if metaNofollow(c) {
			return true
		}
	}
	return false
}

// hasRel reports whether the rel attribute contains value.
func hasRel(n *html.Node, value string) bool {
	for _, rel := range strings.Fields(getAttr(n, "rel")) {
		if strings.EqualFold(rel, value) {
			return true
		}
	}
	return false
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
