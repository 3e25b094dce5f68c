package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/nao1215/politecrawl/internal/fetcher"
)

var (
	// ErrNotSitemap is returned when a document is neither a urlset nor a
	// sitemapindex.
	ErrNotSitemap = errors.New("document is not a sitemap")

	// ErrFetchSitemap is returned when a sitemap cannot be downloaded.
	ErrFetchSitemap = errors.New("failed to fetch sitemap")
)

// Kind tells a urlset from a sitemap index.
type Kind int

const (
	// KindURLSet lists pages.
	KindURLSet Kind = iota
	// KindIndex lists other sitemaps.
	KindIndex
)

// Entry is one <url> or <sitemap> element.
type Entry struct {
	// Loc is the URL from <loc>.
	Loc string

	// LastMod is the parsed <lastmod>; zero when missing or unparseable.
	LastMod time.Time
}

// Document is a parsed sitemap.
type Document struct {
	Kind    Kind
	Entries []Entry
}

// lastModLayouts are the W3C datetime forms allowed by the sitemap protocol.
var lastModLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse reads a sitemap document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	var (
		kind    Kind
		element string
	)
	switch {
	case xmlquery.FindOne(doc, "/*[local-name()='urlset']") != nil:
		kind, element = KindURLSet, "url"
	case xmlquery.FindOne(doc, "/*[local-name()='sitemapindex']") != nil:
		kind, element = KindIndex, "sitemap"
	default:
		return nil, ErrNotSitemap
	}

	nodes := xmlquery.Find(doc, "/*/*[local-name()='"+element+"']")
	entries := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		loc := xmlquery.FindOne(n, "*[local-name()='loc']")
		if loc == nil {
			continue
		}
		entry := Entry{Loc: strings.TrimSpace(loc.InnerText())}
		if entry.Loc == "" {
			continue
		}
		if lm := xmlquery.FindOne(n, "*[local-name()='lastmod']"); lm != nil {
			entry.LastMod = ParseLastMod(lm.InnerText())
		}
		entries = append(entries, entry)
	}

	return &Document{Kind: kind, Entries: entries}, nil
}

// ParseLastMod parses a <lastmod> value. It returns the zero time when the
// value matches no W3C datetime layout.
func ParseLastMod(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Load downloads the sitemap at rawURL and returns its page entries. A
// sitemap index is expanded one level; nested indexes are ignored, and a
// child sitemap that fails to load is skipped.
func Load(ctx context.Context, tr fetcher.Transport, rawURL string, timeout time.Duration) ([]Entry, error) {
	doc, err := fetchDocument(ctx, tr, rawURL, timeout)
	if err != nil {
		return nil, err
	}
	if doc.Kind == KindURLSet {
		return doc.Entries, nil
	}

	var (
		entries []Entry
		errs    []error
	)
	for _, child := range doc.Entries {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		childDoc, err := fetchDocument(ctx, tr, child.Loc, timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if childDoc.Kind != KindURLSet {
			continue
		}
		entries = append(entries, childDoc.Entries...)
	}
	if len(entries) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return entries, nil
}

func fetchDocument(ctx context.Context, tr fetcher.Transport, rawURL string, timeout time.Duration) (*Document, error) {
	resp, err := tr.Fetch(ctx, rawURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchSitemap, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetchSitemap, rawURL, resp.StatusCode)
	}
	doc, err := Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rawURL, err)
	}
	return doc, nil
}

// LastFetchedFunc returns when url was last fetched, and false when it has
// never been fetched.
type LastFetchedFunc func(ctx context.Context, url string) (time.Time, bool, error)

// FilterUpdated drops entries whose previous fetch is not older than their
// lastmod. Entries without lastmod or without a previous fetch are kept.
// It returns the kept entries and the number skipped.
func FilterUpdated(ctx context.Context, entries []Entry, lastFetched LastFetchedFunc) ([]Entry, int, error) {
	if lastFetched == nil {
		return entries, 0, nil
	}
	kept := make([]Entry, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		if e.LastMod.IsZero() {
			kept = append(kept, e)
			continue
		}
		fetchedAt, ok, err := lastFetched(ctx, e.Loc)
		if err != nil {
			return nil, 0, fmt.Errorf("look up %s: %w", e.Loc, err)
		}
		if ok && !fetchedAt.Before(e.LastMod) {
			skipped++
			continue
		}
		kept = append(kept, e)
	}
	return kept, skipped, nil
}

// URLs returns the locations of entries.
func URLs(entries []Entry) []string {
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.Loc)
	}
	return urls
}
