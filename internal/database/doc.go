// Package database provides SQLite-based storage for crawl results.
//
// The CrawlDB stores:
//   - crawl runs with their seeds, timing and final summary
//   - fetched pages with status, size, content hash and fetch time
//   - failed URLs with the failure reason
//
// The stored fetch times drive incremental crawls: a sitemap entry whose
// lastmod is not newer than the last fetch of its URL is skipped.
//
// SQLite (via modernc.org/sqlite) keeps the database in a single file with
// no CGO dependency, and WAL mode lets reports read while a crawl writes.
package database
