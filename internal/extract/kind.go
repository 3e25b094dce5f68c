package extract

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
)

// ContentKind is the extraction strategy chosen for a response.
type ContentKind int

const (
	// KindUnknown yields no links.
	KindUnknown ContentKind = iota
	// KindHTML is text/html or application/xhtml+xml.
	KindHTML
	// KindSitemap is an XML urlset or sitemapindex.
	KindSitemap
	// KindText is text/plain; it yields no links.
	KindText
)

// String returns the name of the kind.
func (k ContentKind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindSitemap:
		return "sitemap"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// sniffLen is how much of an XML body is inspected for a sitemap root.
const sniffLen = 1024

// Classify picks the content kind from the Content-Type header, falling
// back to content sniffing when the header is missing.
func Classify(contentType string, body []byte) ContentKind {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return KindHTML
	case "application/xml", "text/xml":
		if isSitemap(body) {
			return KindSitemap
		}
		return KindUnknown
	case "text/plain":
		return KindText
	default:
		return KindUnknown
	}
}

func isSitemap(body []byte) bool {
	head := body[:min(len(body), sniffLen)]
	return bytes.Contains(head, []byte("<urlset")) || bytes.Contains(head, []byte("<sitemapindex"))
}
