package extract

import (
	"bytes"
	"iter"

	"github.com/nao1215/politecrawl/internal/fetcher"
	"github.com/nao1215/politecrawl/internal/frontier"
	"github.com/nao1215/politecrawl/internal/sitemap"
	"github.com/nao1215/politecrawl/internal/urlnorm"
)

// Extractor turns fetched responses into canonical links.
// It holds no per-page state and is safe for concurrent use.
type Extractor struct {
	normalizer *urlnorm.Normalizer
	maxLinks   int
	nofollow   bool
	filters    []Filter
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxLinks limits how many links are taken from one page. Zero means
// no limit.
func WithMaxLinks(n int) Option {
	return func(e *Extractor) {
		if n >= 0 {
			e.maxLinks = n
		}
	}
}

// WithNofollow makes the extractor honor rel=nofollow and robots meta tags.
func WithNofollow(enabled bool) Option {
	return func(e *Extractor) {
		e.nofollow = enabled
	}
}

// WithFilter adds a scope filter. A link must pass every filter.
func WithFilter(f Filter) Option {
	return func(e *Extractor) {
		if f != nil {
			e.filters = append(e.filters, f)
		}
	}
}

// New creates an Extractor that normalizes links with n.
func New(n *urlnorm.Normalizer, opts ...Option) *Extractor {
	e := &Extractor{normalizer: n}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the links of resp, which was fetched for source. The
// sequence is finite, yields each canonical URL at most once and may be
// ranged over only once.
func (e *Extractor) Extract(resp *fetcher.Response, source frontier.Record) iter.Seq[urlnorm.Canonical] {
	return func(yield func(urlnorm.Canonical) bool) {
		if resp == nil || len(resp.Body) == 0 {
			return
		}

		pageURL := resp.FinalURL
		if pageURL == "" {
			pageURL = source.URL.URL
		}

		var links iter.Seq[rawLink]
		switch Classify(resp.ContentType, resp.Body) {
		case KindHTML:
			links = htmlLinks(resp.Body, resp.ContentType, pageURL, e.nofollow)
		case KindSitemap:
			links = sitemapLinks(resp.Body)
		default:
			return
		}

		seen := make(map[string]struct{})
		count := 0
		for link := range links {
			c, err := e.normalizer.Normalize(link.href, link.base)
			if err != nil {
				continue
			}
			if _, dup := seen[c.URL]; dup {
				continue
			}
			seen[c.URL] = struct{}{}
			if !e.inScope(c) {
				continue
			}
			if !yield(c) {
				return
			}
			count++
			if e.maxLinks > 0 && count >= e.maxLinks {
				return
			}
		}
	}
}

func (e *Extractor) inScope(c urlnorm.Canonical) bool {
	for _, f := range e.filters {
		if !f(c) {
			return false
		}
	}
	return true
}

// sitemapLinks yields the <loc> entries of a sitemap. Locations are
// absolute, so no base is needed.
func sitemapLinks(body []byte) iter.Seq[rawLink] {
	return func(yield func(rawLink) bool) {
		doc, err := sitemap.Parse(bytes.NewReader(body))
		if err != nil {
			return
		}
		for _, entry := range doc.Entries {
			if !yield(rawLink{href: entry.Loc}) {
				return
			}
		}
	}
}
