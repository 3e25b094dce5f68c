// Package sitemap reads XML sitemaps and turns their entries into crawl
// seeds.
//
// Both <urlset> documents and <sitemapindex> documents are understood; an
// index is followed one level deep. Each entry carries its <lastmod> time
// so that an incremental crawl can skip pages that have not changed since
// they were last fetched.
package sitemap
