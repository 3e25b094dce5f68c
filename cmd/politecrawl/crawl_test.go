package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/report"
)

// emptyConfigFile writes an empty configuration file so tests do not pick
// up a file from the working or home directory.
func emptyConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// newSite serves a small site: / links to /a and /b, /b is missing. Only /
// has a <div id="body"> section.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><div id="body"><a href="/a">a</a><a href="/b">b</a></div></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">home</a></body></html>`)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://%s/a</loc><lastmod>2020-01-01</lastmod></url>
</urlset>`, r.Host)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// executeCrawl runs the root command with args and returns stdout.
func executeCrawl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// baseArgs are flags that keep test crawls fast and isolated.
func baseArgs(t *testing.T, dbDir string) []string {
	t.Helper()
	return []string{
		"crawl",
		"--config", emptyConfigFile(t),
		"--db", dbDir,
		"--no-robots",
		"--no-progress",
		"--interval", "0s",
		"--timeout", "2s",
		"--backoff-base", "1ms",
		"--backoff-max", "5ms",
		"--retries", "0",
	}
}

// TestCrawlCommand tests a full crawl through the CLI.
func TestCrawlCommand(t *testing.T) {
	srv := newSite(t)
	dbDir := t.TempDir()
	outDir := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "reports", "summary.json")

	args := append(baseArgs(t, dbDir),
		"--out-dir", outDir,
		"--chunk-size", "1",
		"--json",
		"-o", reportPath,
		srv.URL+"/",
	)
	if _, err := executeCrawl(t, args...); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	data, err := os.ReadFile(reportPath) //nolint:gosec // test file
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	var wrapped report.JSONReport
	if err := json.Unmarshal(data, &wrapped); err != nil {
		t.Fatalf("invalid report: %v", err)
	}
	summary := wrapped.Summary
	if summary == nil {
		t.Fatal("expected summary in report")
	}
	if summary.TotalFetched != 2 || summary.TotalFailed != 1 {
		t.Errorf("expected 2 fetched and 1 failed, got %d/%d", summary.TotalFetched, summary.TotalFailed)
	}
	if summary.Reason != "exhausted" {
		t.Errorf("expected exhausted, got %q", summary.Reason)
	}

	t.Run("pages saved to the output directory", func(t *testing.T) {
		metas, err := filepath.Glob(filepath.Join(outDir, "meta", "index_*.jsonl"))
		if err != nil {
			t.Fatal(err)
		}
		if len(metas) != 2 {
			t.Errorf("expected 2 meta files with chunk size 1, got %v", metas)
		}
		pages, err := filepath.Glob(filepath.Join(outDir, "*.html"))
		if err != nil {
			t.Fatal(err)
		}
		if len(pages) != 2 {
			t.Errorf("expected 2 saved pages, got %v", pages)
		}
	})

	t.Run("extract sections from saved pages", func(t *testing.T) {
		extracted := filepath.Join(t.TempDir(), "sections")
		out, err := executeCrawl(t, "extract", "-i", outDir, "--output-dir", extracted)
		if err != nil {
			t.Fatalf("extract failed: %v", err)
		}
		if !strings.Contains(out, "Extracted 1 sections") || !strings.Contains(out, "without the element: 1") {
			t.Errorf("unexpected extract output %q", out)
		}
		data, err := os.ReadFile(filepath.Join(extracted, "1.html")) //nolint:gosec // test file
		if err != nil {
			t.Fatalf("expected extracted section: %v", err)
		}
		if !strings.Contains(string(data), `<a href="/a">a</a>`) || strings.Contains(string(data), "<div") {
			t.Errorf("expected the inner HTML of the section, got %q", data)
		}

		out, err = executeCrawl(t, "extract", "-i", outDir, "--output-dir", extracted)
		if err != nil {
			t.Fatalf("second extract failed: %v", err)
		}
		if !strings.Contains(out, "Extracted 0 sections") || !strings.Contains(out, "already extracted: 1") {
			t.Errorf("expected the page to be skipped, got %q", out)
		}
	})

	t.Run("run stored in the database", func(t *testing.T) {
		db, err := database.Open(dbDir, database.DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		run, err := db.GetRun(context.Background(), summary.RunID)
		if err != nil {
			t.Fatalf("expected stored run: %v", err)
		}
		if run.TotalFetched != 2 || run.Reason != "exhausted" {
			t.Errorf("unexpected run %+v", run)
		}
		n, err := db.CountPages(context.Background(), summary.RunID)
		if err != nil || n != 2 {
			t.Errorf("expected 2 stored pages, got %d (%v)", n, err)
		}
	})

	t.Run("history lists and shows the run", func(t *testing.T) {
		out, err := executeCrawl(t, "history", "--db", dbDir)
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(out, summary.RunID) {
			t.Errorf("expected run in listing, got %q", out)
		}

		out, err = executeCrawl(t, "history", "--db", dbDir, "--markdown", summary.RunID)
		if err != nil {
			t.Fatalf("history show failed: %v", err)
		}
		if !strings.Contains(out, "# politecrawl Summary") || !strings.Contains(out, "Finished - exhausted") {
			t.Errorf("unexpected run summary %q", out)
		}

		if _, err := executeCrawl(t, "history", "--db", dbDir, "missing-run"); err == nil {
			t.Error("expected error for unknown run")
		}
	})

	t.Run("incremental sitemap crawl skips unchanged pages", func(t *testing.T) {
		out, err := executeCrawl(t, append(baseArgs(t, dbDir),
			"--sitemap", srv.URL+"/sitemap.xml",
			"--incremental",
		)...)
		if err != nil {
			t.Fatalf("incremental crawl failed: %v", err)
		}
		if !strings.Contains(out, "Nothing to crawl") {
			t.Errorf("expected nothing to crawl, got %q", out)
		}
	})
}

// TestCrawlCommandTextSummary tests the default text summary on stdout.
func TestCrawlCommandTextSummary(t *testing.T) {
	srv := newSite(t)
	out, err := executeCrawl(t, append(baseArgs(t, t.TempDir()), "--no-db", "--depth", "0", srv.URL+"/")...)
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if !strings.Contains(out, "POLITECRAWL SUMMARY") || !strings.Contains(out, "FETCHED:     1") {
		t.Errorf("unexpected summary %q", out)
	}
}

// TestCrawlCommandErrors tests argument validation.
func TestCrawlCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no seeds", nil, errNoSeeds},
		{"incremental without sitemap", []string{"--incremental"}, errIncrementalNeedsSitemap},
		{"incremental without db", []string{"--incremental", "--sitemap", "http://a.test/s.xml", "--no-db"}, errIncrementalNeedsDB},
		{"bad header", []string{"-H", "broken", "http://a.test/"}, errInvalidHeader},
		{"invalid config", []string{"--workers", "0", "http://a.test/"}, config.ErrInvalidWorkers},
		{"conflicting reports", []string{"--json", "--markdown", "http://a.test/"}, config.ErrConflictingReportFormats},
		{"missing config file", []string{"--config", "/nonexistent/politecrawl.yaml", "http://a.test/"}, config.ErrConfigNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := executeCrawl(t, append(baseArgs(t, t.TempDir()), tt.args...)...)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestBuildConfig tests flag and file precedence.
func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("flags override the file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "defaults:\n  maxDepth: 5\n  maxPages: 40\n  respectRobots: false\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{
			"--config", path,
			"--depth", "1",
			"--interval", "250ms",
			"-H", "Accept-Language: en",
			"--track-param", "page,q",
			"--no-nofollow",
		}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		cfg, err := buildConfig(cmd, []string{"https://a.test/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxDepth != 1 {
			t.Errorf("expected flag depth 1, got %d", cfg.MaxDepth)
		}
		if cfg.MaxPages != 40 {
			t.Errorf("expected file max pages 40, got %d", cfg.MaxPages)
		}
		if cfg.RespectRobots {
			t.Error("expected robots off from the file")
		}
		if cfg.RespectNofollow {
			t.Error("expected nofollow off from the flag")
		}
		if cfg.PerHostMinInterval != 250*time.Millisecond {
			t.Errorf("unexpected interval %v", cfg.PerHostMinInterval)
		}
		if cfg.Headers["Accept-Language"] != "en" {
			t.Errorf("unexpected headers %v", cfg.Headers)
		}
		if len(cfg.TrackedQueryParams) != 2 {
			t.Errorf("unexpected tracked params %v", cfg.TrackedQueryParams)
		}
		if !cfg.SaveToDB || len(cfg.Seeds) != 1 {
			t.Errorf("unexpected storage or seeds: %v %v", cfg.SaveToDB, cfg.Seeds)
		}
	})

	t.Run("unset flags keep defaults", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", emptyConfigFile(t)}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		cfg, err := buildConfig(cmd, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.RespectRobots || !cfg.RespectNofollow {
			t.Error("expected politeness defaults")
		}
		if cfg.MaxDepth != config.DefaultMaxDepth {
			t.Errorf("expected default depth, got %d", cfg.MaxDepth)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		if _, err := buildConfig(cmd, nil); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

// TestProgress tests that a nil progress is safe and a real one writes.
func TestProgress(t *testing.T) {
	t.Parallel()

	var none *progress
	none.Observe(nil)
	none.Finish()

	var buf bytes.Buffer
	p := newProgress(&buf, 10)
	p.Finish()
	if buf.Len() == 0 {
		t.Error("expected progress output")
	}
	if newProgress(nil, 10) != nil {
		t.Error("expected nil progress without a writer")
	}
}

// TestOutputSummary tests report destinations.
func TestOutputSummary(t *testing.T) {
	t.Parallel()

	summary := &report.Summary{RunID: "run-1", Completed: true, Reason: "exhausted"}

	var stdout bytes.Buffer
	cfg := config.NewConfig()
	cfg.MarkdownReport = true
	if err := outputSummary(cfg, &stdout, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "# politecrawl Summary") {
		t.Error("expected markdown on stdout")
	}

	cfg = config.NewConfig()
	cfg.ReportFile = filepath.Join(t.TempDir(), "a", "b", "summary.txt")
	stdout.Reset()
	if err := outputSummary(cfg, &stdout, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout.Len() != 0 {
		t.Error("expected nothing on stdout when writing to a file")
	}
	data, err := os.ReadFile(cfg.ReportFile)
	if err != nil || !strings.Contains(string(data), "POLITECRAWL SUMMARY") {
		t.Errorf("expected text summary in file, got %q (%v)", data, err)
	}
}

// TestOpenSinks tests sink selection.
func TestOpenSinks(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.NewConfig()
	cfg.OutDir = t.TempDir()
	cfg.KafkaBroker = "localhost:9092"
	cfg.KafkaTopic = "crawl"
	cfg.RedisAddr = "localhost:6379"

	sinks, err := openSinks(context.Background(), cfg, nil, "run-1", []string{"https://a.test/"}, time.Now(), logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sinks.Len() != 3 {
		t.Errorf("expected jsonl, kafka and redis sinks, got %d", sinks.Len())
	}
	_ = sinks.Close()
}
