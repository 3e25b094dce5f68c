package extract

import (
	"slices"
	"testing"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/fetcher"
	"github.com/nao1215/politecrawl/internal/frontier"
	"github.com/nao1215/politecrawl/internal/urlnorm"
)

func mustCanonical(t *testing.T, raw string) urlnorm.Canonical {
	t.Helper()
	c, err := urlnorm.NewNormalizer(nil).Normalize(raw, "")
	if err != nil {
		t.Fatalf("failed to normalize %q: %v", raw, err)
	}
	return c
}

func collect(e *Extractor, resp *fetcher.Response, source frontier.Record) []string {
	var got []string
	for c := range e.Extract(resp, source) {
		got = append(got, c.URL)
	}
	return got
}

func htmlResponse(url, body string) *fetcher.Response {
	return &fetcher.Response{
		URL:         url,
		FinalURL:    url,
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
	}
}

// TestExtractHTML tests link discovery in HTML documents.
func TestExtractHTML(t *testing.T) {
	t.Parallel()

	source := frontier.Record{URL: mustCanonical(t, "http://a.test/")}

	t.Run("relative and absolute forms of one link yield it once", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := htmlResponse("http://a.test/", `<html><body>
<a href="/b">one</a>
<a href="http://a.test/b">two</a>
<a href="http://A.TEST:80/b#frag">three</a>
</body></html>`)

		got := collect(e, resp, source)
		want := []string{"http://a.test/b"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("area and link rel tags", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := htmlResponse("http://a.test/dir/", `<html><head>
<link rel="next" href="page2">
<link rel="stylesheet" href="/style.css">
<link rel="alternate" hreflang="ja" href="/ja/">
</head><body>
<map><area href="/area"></map>
<a href="#top">skip</a>
<a href="">skip</a>
<a href="mailto:x@a.test">skip</a>
<a href="javascript:void(0)">skip</a>
</body></html>`)

		got := collect(e, resp, source)
		want := []string{"http://a.test/dir/page2", "http://a.test/ja/", "http://a.test/area"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("base href changes resolution", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := htmlResponse("http://a.test/x/y", `<html><head><base href="http://b.test/root/"></head>
<body><a href="c">c</a></body></html>`)

		got := collect(e, resp, source)
		want := []string{"http://b.test/root/c"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("final URL is used as the base after a redirect", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := htmlResponse("http://a.test/old", `<a href="next">n</a>`)
		resp.FinalURL = "http://a.test/new/"

		got := collect(e, resp, source)
		want := []string{"http://a.test/new/next"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("source URL is used when the final URL is missing", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := htmlResponse("", `<a href="/z">z</a>`)
		resp.FinalURL = ""

		got := collect(e, resp, source)
		want := []string{"http://a.test/z"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("nofollow links are skipped when enabled", func(t *testing.T) {
		t.Parallel()
		body := `<a href="/keep">k</a><a rel="nofollow noopener" href="/drop">d</a>`

		got := collect(New(urlnorm.NewNormalizer(nil), WithNofollow(true)), htmlResponse("http://a.test/", body), source)
		if want := []string{"http://a.test/keep"}; !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}

		got = collect(New(urlnorm.NewNormalizer(nil)), htmlResponse("http://a.test/", body), source)
		if len(got) != 2 {
			t.Errorf("expected both links without nofollow handling, got %v", got)
		}
	})

	t.Run("robots meta nofollow suppresses the page", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil), WithNofollow(true))
		resp := htmlResponse("http://a.test/", `<html><head><meta name="robots" content="noindex, nofollow"></head>
<body><a href="/b">b</a></body></html>`)

		if got := collect(e, resp, source); len(got) != 0 {
			t.Errorf("expected no links, got %v", got)
		}
	})

	t.Run("max links per page", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil), WithMaxLinks(2))
		resp := htmlResponse("http://a.test/", `<a href="/1">1</a><a href="/1">1</a><a href="/2">2</a><a href="/3">3</a>`)

		got := collect(e, resp, source)
		want := []string{"http://a.test/1", "http://a.test/2"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("early break stops iteration", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := htmlResponse("http://a.test/", `<a href="/1">1</a><a href="/2">2</a>`)

		count := 0
		for range e.Extract(resp, source) {
			count++
			break
		}
		if count != 1 {
			t.Errorf("expected 1 iteration, got %d", count)
		}
	})

	t.Run("latin-1 document is decoded", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := &fetcher.Response{
			FinalURL:    "http://a.test/",
			ContentType: "text/html; charset=iso-8859-1",
			Body:        []byte("<a href=\"/caf\xe9\">x</a>"),
		}

		got := collect(e, resp, source)
		want := []string{"http://a.test/caf%C3%A9"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

// TestExtractOtherKinds tests the non-HTML strategies.
func TestExtractOtherKinds(t *testing.T) {
	t.Parallel()

	source := frontier.Record{URL: mustCanonical(t, "http://a.test/sitemap.xml")}

	t.Run("sitemap yields loc entries", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil))
		resp := &fetcher.Response{
			FinalURL:    "http://a.test/sitemap.xml",
			ContentType: "application/xml",
			Body: []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://a.test/p1</loc></url>
  <url><loc>http://a.test/p2</loc><lastmod>2024-01-01</lastmod></url>
  <url><loc>not a url</loc></url>
</urlset>`),
		}

		got := collect(e, resp, source)
		want := []string{"http://a.test/p1", "http://a.test/p2"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"plain text", "text/plain", "http://a.test/not-a-link"},
		{"json", "application/json", `{"href":"http://a.test/"}`},
		{"non-sitemap xml", "application/xml", `<feed><link href="http://a.test/"/></feed>`},
		{"empty body", "text/html", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name+" yields nothing", func(t *testing.T) {
			t.Parallel()
			e := New(urlnorm.NewNormalizer(nil))
			resp := &fetcher.Response{FinalURL: "http://a.test/", ContentType: tt.contentType, Body: []byte(tt.body)}
			if got := collect(e, resp, source); len(got) != 0 {
				t.Errorf("expected no links, got %v", got)
			}
		})
	}
}

// TestClassify tests content kind selection.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		body        string
		want        ContentKind
	}{
		{"text/html", "", KindHTML},
		{"TEXT/HTML; charset=UTF-8", "", KindHTML},
		{"application/xhtml+xml", "", KindHTML},
		{"text/xml", "<urlset></urlset>", KindSitemap},
		{"application/xml", "<sitemapindex></sitemapindex>", KindSitemap},
		{"application/xml", "<rss></rss>", KindUnknown},
		{"text/plain", "", KindText},
		{"image/png", "", KindUnknown},
		{"", "<!DOCTYPE html><html></html>", KindHTML},
	}
	for _, tt := range tests {
		if got := Classify(tt.contentType, []byte(tt.body)); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

// TestFilters tests the scope filters applied to discovered links.
func TestFilters(t *testing.T) {
	t.Parallel()

	t.Run("same site", func(t *testing.T) {
		t.Parallel()
		filter := SameSite([]urlnorm.Canonical{mustCanonical(t, "https://www.example.co.uk/"), mustCanonical(t, "http://127.0.0.1:8080/")})

		tests := []struct {
			url  string
			want bool
		}{
			{"https://blog.example.co.uk/post", true},
			{"http://example.co.uk/", true},
			{"https://other.co.uk/", false},
			{"http://127.0.0.1:9090/", true},
			{"http://127.0.0.2/", false},
		}
		for _, tt := range tests {
			if got := filter(mustCanonical(t, tt.url)); got != tt.want {
				t.Errorf("SameSite(%s) = %v, want %v", tt.url, got, tt.want)
			}
		}
	})

	t.Run("host patterns", func(t *testing.T) {
		t.Parallel()
		filter := HostPatterns(map[string]config.HostConfig{
			"a.test": {IgnorePatterns: []string{"/admin/*", "*.pdf"}},
			"b.test": {FollowPatterns: []string{"/docs/*"}},
		})

		tests := []struct {
			url  string
			want bool
		}{
			{"http://a.test/admin/users", false},
			{"http://a.test/files/report.pdf", false},
			{"http://a.test/blog", true},
			{"http://b.test/docs/intro", true},
			{"http://b.test/blog", false},
			{"http://c.test/admin/users", true},
		}
		for _, tt := range tests {
			if got := filter(mustCanonical(t, tt.url)); got != tt.want {
				t.Errorf("HostPatterns(%s) = %v, want %v", tt.url, got, tt.want)
			}
		}
	})

	t.Run("extractor applies every filter", func(t *testing.T) {
		t.Parallel()
		e := New(urlnorm.NewNormalizer(nil),
			WithFilter(SameSite([]urlnorm.Canonical{mustCanonical(t, "http://a.test/")})),
			WithFilter(HostPatterns(map[string]config.HostConfig{"a.test": {IgnorePatterns: []string{"/private/*"}}})),
		)
		resp := htmlResponse("http://a.test/", `<a href="/ok">ok</a><a href="/private/x">p</a><a href="http://b.test/">b</a>`)

		got := collect(e, resp, frontier.Record{URL: mustCanonical(t, "http://a.test/")})
		want := []string{"http://a.test/ok"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

// TestMatchPattern tests glob matching of URL paths.
func TestMatchPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/admin/*", "/admin/dashboard", true},
		{"/admin/*", "/admin/users/1", true},
		{"/admin/*", "/admin", true},
		{"/admin/*", "/administrator", false},
		{"*.pdf", "/docs/file.pdf", true},
		{"*.pdf", "/docs/file.html", false},
		{"/api/v?", "/api/v1", true},
		{"/api/v?", "/api/v10", false},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}
