// Package extract discovers links in fetched content.
//
// The content type of a response selects one of a fixed set of strategies:
// HTML pages are parsed with golang.org/x/net/html, sitemaps with
// github.com/antchfx/xmlquery, plain text and unknown types yield nothing.
// Every discovered link is resolved against the page URL (or its <base
// href>), normalized, de-duplicated within the page and passed through the
// configured scope filters. Extraction is lazy: links are produced as the
// caller ranges over the returned sequence.
package extract
