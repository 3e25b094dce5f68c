package sitemap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/politecrawl/internal/fetcher"
)

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>http://a.test/one</loc>
    <lastmod>2026-03-01T10:00:00+00:00</lastmod>
  </url>
  <url>
    <loc> http://a.test/two </loc>
    <lastmod>2026-03-02</lastmod>
  </url>
  <url>
    <loc>http://a.test/three</loc>
  </url>
  <url>
    <lastmod>2026-03-02</lastmod>
  </url>
</urlset>`

// TestParse tests urlset and index parsing.
func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("urlset", func(t *testing.T) {
		t.Parallel()

		doc, err := Parse(strings.NewReader(urlsetXML))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Kind != KindURLSet {
			t.Errorf("expected urlset, got %v", doc.Kind)
		}
		if len(doc.Entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(doc.Entries))
		}
		if doc.Entries[1].Loc != "http://a.test/two" {
			t.Errorf("expected trimmed loc, got %q", doc.Entries[1].Loc)
		}
		want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		if !doc.Entries[0].LastMod.Equal(want) {
			t.Errorf("expected lastmod %v, got %v", want, doc.Entries[0].LastMod)
		}
		if !doc.Entries[2].LastMod.IsZero() {
			t.Errorf("expected zero lastmod, got %v", doc.Entries[2].LastMod)
		}
	})

	t.Run("sitemap index", func(t *testing.T) {
		t.Parallel()

		doc, err := Parse(strings.NewReader(`<sitemapindex><sitemap><loc>http://a.test/s1.xml</loc></sitemap></sitemapindex>`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Kind != KindIndex || len(doc.Entries) != 1 {
			t.Errorf("expected index with 1 entry, got %+v", doc)
		}
	})

	t.Run("not a sitemap", func(t *testing.T) {
		t.Parallel()

		_, err := Parse(strings.NewReader(`<rss><channel/></rss>`))
		if !errors.Is(err, ErrNotSitemap) {
			t.Errorf("expected ErrNotSitemap, got %v", err)
		}
	})
}

// TestParseLastMod tests the accepted datetime layouts.
func TestParseLastMod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  time.Time
	}{
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-03-01T10:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-03-01T10:00:00.5Z", time.Date(2026, 3, 1, 10, 0, 0, 500000000, time.UTC)},
		{"yesterday", time.Time{}},
	}
	for _, tt := range tests {
		if got := ParseLastMod(tt.value); !got.Equal(tt.want) {
			t.Errorf("ParseLastMod(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

// TestLoad tests downloading a sitemap index with one level of recursion.
func TestLoad(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		serverURL := "http://" + r.Host
		_, _ = w.Write([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>` + serverURL + `/pages.xml</loc></sitemap>
<sitemap><loc>` + serverURL + `/missing.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/pages.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(urlsetXML))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tr, err := fetcher.NewHTTPTransport(fetcher.TransportOptions{})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}

	entries, err := Load(context.Background(), tr, server.URL+"/index.xml", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 entries from the child sitemap, got %d", len(entries))
	}

	if _, err := Load(context.Background(), tr, server.URL+"/missing.xml", 5*time.Second); !errors.Is(err, ErrFetchSitemap) {
		t.Errorf("expected ErrFetchSitemap, got %v", err)
	}
}

// TestFilterUpdated tests incremental skipping.
func TestFilterUpdated(t *testing.T) {
	t.Parallel()

	lastmod := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Loc: "http://a.test/unchanged", LastMod: lastmod},
		{Loc: "http://a.test/updated", LastMod: lastmod},
		{Loc: "http://a.test/new", LastMod: lastmod},
		{Loc: "http://a.test/no-lastmod"},
	}
	fetched := map[string]time.Time{
		"http://a.test/unchanged":  lastmod,
		"http://a.test/updated":    lastmod.Add(-time.Hour),
		"http://a.test/no-lastmod": lastmod.Add(time.Hour),
	}
	lookup := func(_ context.Context, url string) (time.Time, bool, error) {
		at, ok := fetched[url]
		return at, ok, nil
	}

	kept, skipped, err := FilterUpdated(context.Background(), entries, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped entry, got %d", skipped)
	}
	got := URLs(kept)
	want := []string{"http://a.test/updated", "http://a.test/new", "http://a.test/no-lastmod"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}

	failing := func(context.Context, string) (time.Time, bool, error) {
		return time.Time{}, false, errors.New("db down")
	}
	if _, _, err := FilterUpdated(context.Background(), entries, failing); err == nil {
		t.Error("expected lookup error to be returned")
	}
}
