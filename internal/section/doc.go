// Package section pulls one element's content out of stored pages.
//
// A crawl run with an output directory leaves every page body as
// {id}.html next to chunked meta files listing them. Processor walks those
// meta files, extracts the inner HTML of the selected element (by default
// <div id="body">) from each HTML page and writes it as {n}.html in an
// output directory, where n is a sequence number continued across runs.
// Every extraction is listed in the output directory's own chunked meta
// files:
//
//	{"id":1,"original_html_id":"<page id>","url":"https://...","processed_at":"..."}
//
// Pages whose id already appears in the output meta files are skipped, so
// running the processor again only handles pages crawled since. Pages
// without the element are not recorded and are tried again next time.
package section
