// Package main provides the entry point for the politecrawl CLI.
//
// politecrawl is a polite, concurrent web crawler. It honours robots.txt,
// keeps per-host request intervals and concurrency limits, and retries
// transient failures with exponential backoff.
//
// Usage:
//
//	politecrawl crawl https://example.com/
//	politecrawl crawl --sitemap https://example.com/sitemap.xml --incremental
//	politecrawl history
//
// See --help for all available options.
package main

// main is the entry point for politecrawl.
func main() {
	Execute()
}
